package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/pluginhost/pkg/dependencies"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

func newGraphCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print provider dependencies and the order they would start in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			report := a.engine().DiscoverAll(cmd.Context(), a.cfg.CategoryList())

			descs := make([]plugins.Descriptor, 0, len(report.Resolved))
			for _, r := range report.Resolved {
				md := r.Class.Metadata()
				md.Name = r.Declaration.Name
				descs = append(descs, plugins.Descriptor{Category: r.Declaration.Category, Metadata: md})
			}
			g := dependencies.NewGraph(descs)

			if output == OutputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(dependencies.BuildCytoscapeGraph(g, nil))
			}
			return writeGraph(cmd.OutOrStdout(), g)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json)")
	return cmd
}

// writeGraph prints the edges, any missing dependencies and the start order.
// A cycle is printed and returned as the error.
func writeGraph(w io.Writer, g *dependencies.Graph) error {
	fmt.Fprintln(w, "Dependencies:")
	edges := 0
	for _, ref := range g.Nodes() {
		for _, dep := range g.Dependencies(ref) {
			suffix := ""
			if !g.Has(dep) {
				suffix = " (missing)"
			}
			fmt.Fprintf(w, "  %s -> %s%s\n", ref, dep, suffix)
			edges++
		}
	}
	if edges == 0 {
		fmt.Fprintln(w, "  (none)")
	}

	order, err := g.Order()
	if err != nil {
		fmt.Fprintf(w, "\n%v\n", err)
		return err
	}
	fmt.Fprintln(w, "\nStart order:")
	for i, ref := range order {
		fmt.Fprintf(w, "  %d. %s\n", i+1, ref)
	}
	return nil
}
