package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmumbaiwala/PageFinder/internal/api"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		Long: `Serve exposes the store over HTTP for observing long runs:

  GET /healthz
  GET /api/v1/documents
  GET /api/v1/documents/{identity}
  GET /api/v1/runs

The API is read-only and unauthenticated; keep it bound to localhost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			handler := api.NewHandler(st.Documents, st.Pages, st.Checkpoints, st.Runs, logger)
			srv := api.NewServer(cfg.Server, handler, logger)

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- srv.ListenAndServe()
			}()

			term.Info("status API listening on http://%s", srv.Addr())

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				return err
			case sig := <-shutdown:
				logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			term.Success("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (default: from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: from config)")

	return cmd
}
