package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/internal/cache"
	"github.com/mmumbaiwala/PageFinder/internal/store"
)

// newPurgeCmd creates the purge subcommand.
func newPurgeCmd() *cobra.Command {
	var (
		orphans bool
		all     bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "purge [identity...]",
		Short: "Remove documents from the store",
		Long: `Purge deletes document records together with their committed pages and
checkpoints, and invalidates their cache entries. Run history is kept.

Target documents by identity, with --orphans (documents whose source file
is gone from the input directory), or with --all. A purged document starts
from scratch on the next run.

WARNING: this operation is irreversible. Use --dry-run to preview.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			if len(args) == 0 && !orphans && !all {
				return fmt.Errorf("nothing to purge: give identities, --orphans, or --all")
			}
			if all && (orphans || len(args) > 0) {
				return fmt.Errorf("--all cannot be combined with other targets")
			}

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			identities, err := purgeTargets(ctx, st, args, orphans, all)
			if err != nil {
				return err
			}
			if len(identities) == 0 {
				term.Info("nothing to purge")
				if outputJSON {
					return printJSON(map[string]interface{}{"deleted": []string{}, "dryRun": dryRun})
				}
				return nil
			}

			type targetDTO struct {
				Identity string `json:"identity"`
				Pages    int    `json:"pages"`
			}
			targets := make([]targetDTO, 0, len(identities))
			totalPages := 0
			for _, id := range identities {
				count, err := st.Pages.CountByDocument(ctx, id)
				if err != nil {
					return fmt.Errorf("count pages of %s: %w", id, err)
				}
				targets = append(targets, targetDTO{Identity: id, Pages: count})
				totalPages += count
			}

			if dryRun {
				if outputJSON {
					return printJSON(map[string]interface{}{
						"dryRun":  true,
						"targets": targets,
						"pages":   totalPages,
					})
				}
				term.Info("dry run: would purge %d documents (%d pages)", len(targets), totalPages)
				for _, tgt := range targets {
					term.Step("%s (%d pages)", tgt.Identity, tgt.Pages)
				}
				return nil
			}

			cacheClient := openCache()
			if cacheClient != nil {
				defer cacheClient.Close()
			}

			bar := term.ProgressBar(int64(len(identities)), "purging")
			for _, id := range identities {
				if err := purgeDocument(ctx, st, cacheClient, id); err != nil {
					return fmt.Errorf("purge %s: %w", id, err)
				}
				bar.Add(1)
			}
			bar.Finish()

			logger.Info().Int("documents", len(identities)).Int("pages", totalPages).Msg("purge complete")
			if outputJSON {
				return printJSON(map[string]interface{}{
					"dryRun":  false,
					"targets": targets,
					"pages":   totalPages,
				})
			}
			term.Success("purged %d documents (%d pages)", len(identities), totalPages)
			return nil
		},
	}

	cmd.Flags().BoolVar(&orphans, "orphans", false, "purge documents whose source file is gone")
	cmd.Flags().BoolVar(&all, "all", false, "purge every document")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without deleting")

	return cmd
}

// purgeTargets resolves the set of identities to delete.
func purgeTargets(ctx context.Context, st *store.Store, args []string, orphans, all bool) ([]string, error) {
	var identities []string

	for _, id := range args {
		if _, err := st.Documents.Get(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("document %s not found", id)
			}
			return nil, err
		}
		identities = append(identities, id)
	}

	if all || orphans {
		records, err := st.Documents.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		if all {
			for _, rec := range records {
				identities = append(identities, rec.Identity)
			}
			return identities, nil
		}

		present, err := inputIdentities(cfg.Paths.InputDir)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if _, ok := present[rec.Identity]; !ok {
				identities = append(identities, rec.Identity)
			}
		}
	}

	return identities, nil
}

// inputIdentities lists the identities present in the input directory. No
// validation happens here: a corrupt PDF still anchors its identity.
func inputIdentities(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory %s: %w", dir, err)
	}
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !strings.EqualFold(ext, ".pdf") {
			continue
		}
		present[strings.TrimSuffix(entry.Name(), ext)] = struct{}{}
	}
	return present, nil
}

// purgeDocument removes one document's rows and cache entry.
func purgeDocument(ctx context.Context, st *store.Store, c cache.Client, identity string) error {
	if err := st.Pages.DeleteByDocument(ctx, identity); err != nil {
		return err
	}
	if err := st.Checkpoints.Clear(ctx, identity); err != nil {
		return err
	}
	if err := st.Documents.Delete(ctx, identity); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if c != nil {
		if err := c.Delete(ctx, cache.FingerprintKey(identity)); err != nil {
			logger.Warn().Err(err).Str("document", identity).Msg("cache invalidation failed")
		}
	}
	return nil
}
