package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/api"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(app *cli) *cobra.Command {
	var addr, history string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconciliation HTTP API",
		Long: `Serve exposes the configured profiles over HTTP:

  GET  /health
  POST /api/v1/reconciliations   {"profile": "credcom", "a": [...], "b": [...], "dry_run": false}
  GET  /api/v1/runs?limit=20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = app.config.Server.Addr
			}
			if history == "" {
				history = app.config.History
			}
			return app.serve(cmd.Context(), addr, history)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&history, "history", "", "SQL store listed by /api/v1/runs")
	return cmd
}

func (app *cli) serve(ctx context.Context, addr, history string) error {
	templates, err := app.config.Templates()
	if err != nil {
		return err
	}
	service, err := app.newService()
	if err != nil {
		return err
	}

	server := api.NewServer(service, &api.Config{
		Profiles:     templates,
		HistoryURL:   history,
		MaxBodyBytes: app.config.Server.MaxBodyBytes,
	}).HTTPServer(addr)

	serveErr := make(chan error, 1)
	go func() {
		app.logger.WithField("addr", addr).Info("Server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return errors.InternalError(errors.CodeUnexpectedError, "serve", err).
				WithSuggestion("check that the address is free")
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	app.logger.Info("Server stopped")
	return nil
}
