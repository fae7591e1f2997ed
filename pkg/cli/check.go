package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/pluginhost/pkg/registry"
)

func newCheckCommand(a *app) *cobra.Command {
	var (
		strict bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Start every provider once, print the startup report and shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			report, err := reg.StartAll(ctx)
			defer reg.ShutdownAll(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == OutputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := report.Render(out); err != nil {
				return err
			}
			return verdict(report, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any provider failed, not only when startup failed")
	cmd.Flags().StringVarP(&output, "output", "o", OutputTable, "output format (table, json)")
	return cmd
}

// verdict turns a report into the command's error
func verdict(report *registry.StartupReport, strict bool) error {
	switch report.Status() {
	case registry.StatusFailed:
		return fmt.Errorf("startup check failed: %s", report.Summary())
	case registry.StatusDegraded:
		if strict {
			return fmt.Errorf("startup check failed in strict mode: %s", report.Summary())
		}
	}
	return nil
}
