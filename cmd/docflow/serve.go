package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/app"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Failed to close clients.", "error", err)
		}
	}()
	go a.SweepCache(ctx, cacheSweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.HTTPServer().Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening.", "port", cfg.Port, "model", a.Model.ModelName(), "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shut down.", "error", err)
	}
	if err := a.Executor.Wait(shutdownCtx); err != nil {
		logger.Warn("Pipeline runs still active at shutdown.", "error", err)
	}
	logger.Info("Server stopped.")
	return nil
}
