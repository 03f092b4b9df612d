package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/cmd/pagefinder/ui"
	"github.com/mmumbaiwala/PageFinder/internal/checkpoint"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	var (
		runLimit   int
		onlyFailed bool
	)

	cmd := &cobra.Command{
		Use:   "status [identity]",
		Short: "Show document processing status and run history",
		Long: `Status without arguments lists every document in the store with its
processing state and committed page count, followed by recent runs.

With an identity argument it shows that document in detail, including
which pages are still owed by the next run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				return statusDetail(ctx, st.Documents, st.Pages, st.Checkpoints, args[0])
			}

			var records []*domain.DocumentRecord
			if onlyFailed {
				records, err = st.Documents.ListByStatus(ctx, domain.StatusFailed)
			} else {
				records, err = st.Documents.List(ctx)
			}
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}

			runs, err := st.Runs.List(ctx, runLimit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			type docDTO struct {
				Identity  string `json:"identity"`
				Status    string `json:"status"`
				Pages     int    `json:"pages"`
				Committed int    `json:"pagesCommitted"`
				Reason    string `json:"failureReason,omitempty"`
				UpdatedAt string `json:"updatedAt"`
			}
			docs := make([]docDTO, 0, len(records))
			for _, rec := range records {
				committed, err := st.Pages.CountByDocument(ctx, rec.Identity)
				if err != nil {
					return fmt.Errorf("count pages of %s: %w", rec.Identity, err)
				}
				docs = append(docs, docDTO{
					Identity:  rec.Identity,
					Status:    string(rec.Status),
					Pages:     rec.PageCount,
					Committed: committed,
					Reason:    rec.FailureReason,
					UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339),
				})
			}

			if outputJSON {
				type runDTO struct {
					ID        string `json:"id"`
					StartedAt string `json:"startedAt"`
					Summary   string `json:"summary"`
				}
				runsOut := make([]runDTO, 0, len(runs))
				for _, r := range runs {
					runsOut = append(runsOut, runDTO{
						ID:        r.ID,
						StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
						Summary:   r.Summary,
					})
				}
				return printJSON(map[string]interface{}{
					"documents": docs,
					"runs":      runsOut,
				})
			}

			if len(docs) == 0 {
				term.Info("store is empty; run 'pagefinder process' first")
				return nil
			}

			term.Section("documents")
			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []string{
					d.Identity,
					d.Status,
					fmt.Sprintf("%d/%d", d.Committed, d.Pages),
					d.UpdatedAt,
					d.Reason,
				})
			}
			term.Table([]string{"Document", "Status", "Pages", "Updated", "Failure"}, rows)

			if len(runs) > 0 {
				term.Section("recent runs")
				runRows := make([][]string, 0, len(runs))
				for _, r := range runs {
					runRows = append(runRows, []string{
						r.StartedAt.UTC().Format(time.RFC3339),
						ui.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
						r.Summary,
					})
				}
				term.Table([]string{"Started", "Elapsed", "Summary"}, runRows)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&runLimit, "runs", 5, "how many recent runs to show")
	cmd.Flags().BoolVar(&onlyFailed, "failed", false, "show only failed documents")

	return cmd
}

type documentGetter interface {
	Get(ctx context.Context, identity string) (*domain.DocumentRecord, error)
}

type pageCounter interface {
	CountByDocument(ctx context.Context, identity string) (int, error)
}

type checkpointPages interface {
	Pages(ctx context.Context, identity string) ([]int, error)
}

// statusDetail prints one document's state, including the pages a resumed
// run would still owe.
func statusDetail(ctx context.Context, docs documentGetter, pages pageCounter, checks checkpointPages, identity string) error {
	rec, err := docs.Get(ctx, identity)
	if err != nil {
		return fmt.Errorf("document %s: %w", identity, err)
	}

	committed, err := pages.CountByDocument(ctx, identity)
	if err != nil {
		return fmt.Errorf("count pages: %w", err)
	}

	indices, err := checks.Pages(ctx, identity)
	if err != nil {
		return fmt.Errorf("checkpoints: %w", err)
	}
	missing := checkpoint.NewPageSet(indices...).Missing(rec.PageCount)

	if outputJSON {
		return printJSON(map[string]interface{}{
			"identity":          rec.Identity,
			"status":            string(rec.Status),
			"pages":             rec.PageCount,
			"pagesCommitted":    committed,
			"checkpointedPages": len(indices),
			"missingPages":      missing,
			"failureReason":     rec.FailureReason,
			"fingerprint":       rec.Fingerprint,
			"sourcePath":        rec.SourcePath,
			"updatedAt":         rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	term.Section(rec.Identity)
	term.KeyValue("status", string(rec.Status))
	term.KeyValue("pages", fmt.Sprintf("%d/%d committed", committed, rec.PageCount))
	term.KeyValue("checkpointed", len(indices))
	term.KeyValue("fingerprint", rec.Fingerprint)
	term.KeyValue("source", rec.SourcePath)
	term.KeyValue("updated", rec.UpdatedAt.UTC().Format(time.RFC3339))
	if rec.FailureReason != "" {
		term.KeyValue("failure", rec.FailureReason)
	}

	switch {
	case len(missing) == 0 && rec.PageCount > 0:
		term.Success("all pages committed")
	case len(missing) > 0:
		term.Warning("next run owes %d pages: %s", len(missing), formatPages(missing))
	}
	return nil
}

// formatPages renders a short preview of page indices.
func formatPages(pages []int) string {
	const max = 8
	out := ""
	for i, p := range pages {
		if i == max {
			return out + ", …"
		}
		if i > 0 {
			out += ", "
		}
		out += strconv.Itoa(p)
	}
	return out
}
