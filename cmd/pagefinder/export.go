package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/cmd/pagefinder/ui"
	"github.com/mmumbaiwala/PageFinder/internal/export"
)

// newExportCmd creates the export subcommand.
func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store to an XLSX workbook",
		Long: `Export writes every document record and committed page to a two-sheet
XLSX workbook: a Documents sheet with processing state and a Pages sheet
with per-page text previews.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			spin := term.Spinner("building workbook")
			spin.Start()
			data, err := export.NewExporter(st.Documents, st.Pages, logger).Workbook(ctx)
			spin.Stop()
			if err != nil {
				return err
			}

			if output == "" {
				output = fmt.Sprintf("pagefinder-%s.xlsx", time.Now().Format("20060102-150405"))
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"file":  output,
					"bytes": len(data),
				})
			}
			term.Success("exported %s (%s)", output, ui.FormatBytes(int64(len(data))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: pagefinder-<timestamp>.xlsx)")

	return cmd
}
