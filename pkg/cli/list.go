package cli

import (
	"encoding/json"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// listEntry is one discovered declaration
type listEntry struct {
	Category       plugins.Category `json:"category"`
	Name           string           `json:"name"`
	Version        string           `json:"version,omitempty"`
	HostAPIVersion string           `json:"host_api_version,omitempty"`
	Reference      string           `json:"reference"`
	Source         string           `json:"source,omitempty"`
	Error          string           `json:"error,omitempty"`
}

func newListCommand(a *app) *cobra.Command {
	var (
		categories []string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered providers without starting them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			wanted := a.cfg.CategoryList()
			if len(categories) > 0 {
				wanted = nil
				for _, c := range categories {
					category, err := plugins.ParseCategory(c)
					if err != nil {
						return err
					}
					wanted = append(wanted, category)
				}
			}

			report := a.engine().DiscoverAll(cmd.Context(), wanted)

			entries := make([]listEntry, 0, len(report.Resolved)+len(report.Failed))
			for _, r := range report.Resolved {
				md := r.Class.Metadata()
				entries = append(entries, listEntry{
					Category:       r.Declaration.Category,
					Name:           r.Declaration.Name,
					Version:        md.Version,
					HostAPIVersion: md.HostAPIVersion,
					Reference:      r.Declaration.Reference,
					Source:         r.Declaration.Source,
				})
			}
			for _, f := range report.Failed {
				entries = append(entries, listEntry{
					Category:  f.Declaration.Category,
					Name:      f.Declaration.Name,
					Reference: f.Declaration.Reference,
					Source:    f.Declaration.Source,
					Error:     f.Err.Error(),
				})
			}
			sort.SliceStable(entries, func(i, j int) bool {
				return plugins.NewRef(entries[i].Category, entries[i].Name).Less(plugins.NewRef(entries[j].Category, entries[j].Name))
			})

			out := cmd.OutOrStdout()
			if output == OutputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Category", "Name", "Version", "Host API", "Reference", "Source", "Error"})
			table.SetAutoWrapText(false)
			table.SetBorder(false)
			for _, e := range entries {
				table.Append([]string{
					string(e.Category), e.Name, e.Version, e.HostAPIVersion, e.Reference, e.Source, e.Error,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "limit to these categories (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json)")
	return cmd
}
