package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/internal/search"
)

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search committed page text",
		Long: `Search matches the query as a case-insensitive substring against every
committed page and reports where it was found, with a snippet around the
first occurrence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			hits, err := search.NewSearcher(st.Pages, logger).Search(ctx, args[0], limit)
			if err != nil {
				return err
			}

			if outputJSON {
				type hitDTO struct {
					Identity  string `json:"identity"`
					PageIndex int    `json:"pageIndex"`
					Method    string `json:"method"`
					Matches   int    `json:"matches"`
					Snippet   string `json:"snippet"`
				}
				out := make([]hitDTO, 0, len(hits))
				for _, h := range hits {
					out = append(out, hitDTO{
						Identity:  h.Identity,
						PageIndex: h.PageIndex,
						Method:    string(h.Method),
						Matches:   h.Matches,
						Snippet:   h.Snippet,
					})
				}
				return printJSON(map[string]interface{}{
					"query": args[0],
					"hits":  out,
				})
			}

			if len(hits) == 0 {
				term.Info("no pages match %q", args[0])
				return nil
			}

			rows := make([][]string, 0, len(hits))
			for _, h := range hits {
				rows = append(rows, []string{
					h.Identity,
					strconv.Itoa(h.PageIndex),
					strconv.Itoa(h.Matches),
					h.Snippet,
				})
			}
			term.Table([]string{"Document", "Page", "Matches", "Snippet"}, rows)
			term.Newline()
			term.Success("%d pages match %q", len(hits), args[0])
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max pages returned (default 50)")

	return cmd
}
