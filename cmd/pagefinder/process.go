package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/cmd/pagefinder/ui"
	"github.com/mmumbaiwala/PageFinder/internal/checkpoint"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/engine"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
	"github.com/mmumbaiwala/PageFinder/internal/extract/pdf"
	"github.com/mmumbaiwala/PageFinder/internal/extract/tesseract"
	"github.com/mmumbaiwala/PageFinder/internal/fingerprint"
	"github.com/mmumbaiwala/PageFinder/internal/monitor"
	"github.com/mmumbaiwala/PageFinder/internal/scan"
)

// alwaysProcess bypasses the fingerprint gate so every discovered document
// is reprocessed. Results are still recorded normally.
type alwaysProcess struct {
	fingerprint.Store
}

func (alwaysProcess) ShouldProcess(context.Context, string, string) (bool, error) {
	return true, nil
}

// newProcessCmd creates the process subcommand.
func newProcessCmd() *cobra.Command {
	var (
		inputDir string
		workers  int
		ocr      bool
		rescan   bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the input directory of PDFs into the page store",
		Long: `Process scans the input directory for PDF documents, extracts their text
page by page, and commits the pages to the store in transactional batches.

Runs are incremental. Documents whose content fingerprint is unchanged since
a completed run are skipped, and partially processed documents resume from
their last checkpoint, owing only the pages that never committed. Use
--rescan to reprocess everything regardless of fingerprints.

Interrupting a run (Ctrl-C) stops admission of new documents; in-flight
documents finish and commit normally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if inputDir == "" {
				inputDir = cfg.Paths.InputDir
			}
			if workers > 0 {
				cfg.Processing.MaxWorkers = workers
			}
			if ocr {
				cfg.OCR.EnableOCR = true
			}

			spin := term.Spinner(fmt.Sprintf("scanning %s", inputDir))
			spin.Start()
			scanned, err := scan.NewScanner(logger).Scan(ctx, inputDir)
			spin.Stop()
			if err != nil {
				return err
			}

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			cacheClient := openCache()
			if cacheClient != nil {
				defer cacheClient.Close()
			}

			var fingers fingerprint.Store
			if cacheClient != nil {
				fingers = fingerprint.NewCachedSQLStore(st.Documents, cacheClient, cfg.Cache.TTL, logger)
			} else {
				fingers = fingerprint.NewSQLStore(st.Documents, logger)
			}
			if rescan || !cfg.Processing.SkipExisting {
				fingers = alwaysProcess{fingers}
			}

			for _, rej := range scanned.Rejected {
				term.Warning("rejected %s: %v", rej.Path, rej.Err)
				rec := domain.DocumentRecord{
					Identity:      rej.Identity,
					Fingerprint:   rej.Fingerprint,
					Status:        domain.StatusFailed,
					FailureReason: rej.Err.Error(),
					SourcePath:    rej.Path,
				}
				if err := fingers.RecordResult(ctx, rec); err != nil {
					logger.Warn().Err(err).Str("document", rej.Identity).Msg("record rejection failed")
				}
			}

			if len(scanned.Documents) == 0 {
				term.Info("no PDF documents found in %s", inputDir)
				if outputJSON {
					return printJSON(map[string]interface{}{
						"documents": 0,
						"rejected":  len(scanned.Rejected),
					})
				}
				return nil
			}

			var checks checkpoint.Manager
			if cfg.Processing.EnableCheckpointing {
				checks = checkpoint.NewSQLManager(st.Checkpoints, logger)
			} else {
				checks = checkpoint.NewNoopManager()
			}

			var ocrEngine extract.OCREngine
			if cfg.OCR.EnableOCR {
				ocrEngine = tesseract.NewEngine(tesseract.Config{
					Languages: splitLanguages(cfg.OCR.Languages),
					DPI:       cfg.OCR.DPI,
					Timeout:   cfg.OCR.Timeout(),
				})
			}
			coordinator := extract.NewCoordinator(
				pdf.NewBackend(cfg.OCR.DPI),
				ocrEngine,
				extract.Config{
					PageChunkSize: cfg.Processing.PageChunkSize,
					OCRBatchSize:  cfg.OCR.OCRBatchSize,
					MaxOCRWorkers: cfg.OCR.MaxOCRWorkers,
				},
				logger,
			)

			dispatcher := engine.NewDispatcher(engine.Deps{
				Fingerprints: fingers,
				Checkpoints:  checks,
				Monitor:      monitor.NewProcessMonitor(cfg.Memory.MemoryLimitMB, cfg.Memory.PollInterval, logger),
				Extractor:    coordinator,
				Sink:         st,
				Runs:         st.Runs,
			}, engine.Config{
				MaxWorkers:   cfg.Processing.MaxWorkers,
				Mode:         extract.ModeFor(cfg.OCR.EnableDigital, cfg.OCR.EnableOCR),
				ThrottlePoll: cfg.Memory.PollInterval,
				Writer: engine.WriterConfig{
					BatchSize: cfg.Processing.BatchSize,
				},
			}, logger)

			term.Step("processing %d documents with %d workers", len(scanned.Documents), cfg.Processing.MaxWorkers)

			totals := make(map[string]int, len(scanned.Documents))
			for _, doc := range scanned.Documents {
				totals[doc.Identity] = doc.PageCount
			}
			view := term.RunView(totals)
			dispatcher.OnTransition(func(identity string, from, to engine.DocumentState) {
				switch to {
				case engine.StateDispatched:
					view.StartDocument(identity)
				case engine.StateDone:
					view.FinishDocument(identity, true)
				case engine.StateFailed:
					view.FinishDocument(identity, false)
				}
			})
			dispatcher.OnBatchCommitted(view.Progress)

			summary, runErr := dispatcher.Run(ctx, scanned.Documents)
			view.Wait()
			if runErr != nil {
				return fmt.Errorf("run aborted: %w", runErr)
			}

			if records, err := st.Documents.List(ctx); err == nil {
				recs := make([]domain.DocumentRecord, len(records))
				for i, r := range records {
					recs[i] = *r
				}
				// Rejected files still exist on disk, so they anchor
				// their identity.
				present := make([]domain.Document, 0, len(scanned.Documents)+len(scanned.Rejected))
				present = append(present, scanned.Documents...)
				for _, rej := range scanned.Rejected {
					present = append(present, domain.Document{Identity: rej.Identity})
				}
				summary.Orphans = engine.Orphans(recs, present)
			}

			return reportRun(summary, len(scanned.Rejected))
		},
	}

	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "input directory (default: from config)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "max concurrent documents (default: from config)")
	cmd.Flags().BoolVar(&ocr, "ocr", false, "enable OCR for image-only pages")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "reprocess documents even when fingerprints are unchanged")

	return cmd
}

func splitLanguages(raw string) []string {
	var langs []string
	for _, l := range strings.Split(raw, ",") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

// reportRun prints the run summary in the selected output mode.
func reportRun(summary *domain.RunSummary, rejected int) error {
	type failureDTO struct {
		Identity string `json:"identity"`
		Reason   string `json:"reason"`
	}
	var failures []failureDTO
	for _, o := range summary.Outcomes {
		if o.Status == domain.StatusFailed {
			failures = append(failures, failureDTO{Identity: o.Identity, Reason: o.FailureReason})
		}
	}

	if outputJSON {
		return printJSON(map[string]interface{}{
			"runId":          summary.RunID,
			"elapsed":        summary.Elapsed().String(),
			"documents":      summary.Total,
			"done":           summary.Done,
			"skipped":        summary.Skipped,
			"failed":         summary.Failed,
			"notAdmitted":    summary.Pending,
			"rejected":       rejected,
			"pagesCommitted": summary.PagesCommitted,
			"pagesFailed":    summary.PagesFailed,
			"failures":       failures,
			"orphans":        summary.Orphans,
		})
	}

	term.Section("run summary")
	term.KeyValue("run", summary.RunID)
	term.KeyValue("elapsed", ui.FormatDuration(summary.Elapsed()))
	term.KeyValue("documents", summary.Total)
	term.KeyValue("done", summary.Done)
	term.KeyValue("skipped", summary.Skipped)
	term.KeyValue("failed", summary.Failed)
	if summary.Pending > 0 {
		term.KeyValue("not admitted", summary.Pending)
	}
	term.KeyValue("pages committed", summary.PagesCommitted)
	if summary.PagesFailed > 0 {
		term.KeyValue("pages failed", summary.PagesFailed)
	}
	term.Newline()

	if len(failures) > 0 {
		rows := make([][]string, 0, len(failures))
		for _, f := range failures {
			rows = append(rows, []string{f.Identity, f.Reason})
		}
		term.Table([]string{"Document", "Failure"}, rows)
		term.Newline()
	}

	for _, orphan := range summary.Orphans {
		term.Warning("orphaned in store (no source file): %s", orphan)
	}

	switch {
	case summary.Failed > 0:
		term.Warning("%d of %d documents failed; rerun to retry their missing pages", summary.Failed, summary.Total)
	case summary.Pending > 0:
		term.Warning("run interrupted, %d documents not admitted; rerun to resume", summary.Pending)
	default:
		term.Success("%d documents processed, %d pages committed", summary.Done+summary.Skipped, summary.PagesCommitted)
	}
	return nil
}
