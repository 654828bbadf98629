package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lazypower/sanctum/internal/mentor"
	"github.com/lazypower/sanctum/internal/server"
	"github.com/lazypower/sanctum/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	responder, err := mentor.New(cfg.Mentor)
	if err != nil {
		slog.Warn("mentor not configured, using rules", "provider", cfg.Mentor.Provider, "err", err)
		responder = mentor.Rules{}
	}

	if err := a.lifecycle.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	deps := server.Deps{
		Directory: a.dir,
		Brain:     a.brain,
		Records:   a.records,
		Verifier:  a.verifier,
		Lifecycle: a.lifecycle,
		Service:   service.New(a.brain, a.records, responder),
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
		deps.MetricsPath = cfg.Metrics.Path
	}
	srv := server.New(deps, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		slog.Info("sanctum serving", "addr", addr, "data_dir", cfg.Storage.DataDir, "mentor", cfg.Mentor.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
