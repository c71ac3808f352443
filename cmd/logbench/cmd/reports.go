package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// Inspect stored reports.
func reportsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List and show stored load test reports.",
	}
	cmd.AddCommand(reportsListCmd(app), reportsShowCmd(app))
	return cmd
}

func reportsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored reports, most recent first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := app.storage()
			if err != nil {
				return err
			}
			infos, err := fs.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODIFIED\tSIZE (KB)")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d\n", info.ID, info.ModifiedAt.Format(time.RFC3339), info.FileSizeKB)
			}
			return w.Flush()
		},
	}
}

func reportsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := app.storage()
			if err != nil {
				return err
			}
			report, err := fs.Load(args[0])
			if err != nil {
				return err
			}

			if raw, _ := cmd.Flags().GetBool("json"); raw {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the full report as JSON")
	return cmd
}
