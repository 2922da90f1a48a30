package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	httpserver "github.com/fyrsmithlabs/logsieve/internal/http"
)

var watchConfig bool

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload configuration when the config or policy file changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest and admin HTTP server",
	Long: `Run logsieve as a daemon. Records posted to /api/v1/records are sampled,
sanitized, aggregated and delivered to the configured sink.

Endpoints:
  GET  /health                     liveness and dispatcher state
  GET  /metrics                    Prometheus metrics
  GET  /api/v1/stats               pipeline counters
  POST /api/v1/records             JSON record, array, or NDJSON
  POST /api/v1/traces/:id/complete flush a finished trace

Examples:
  logsieve serve
  logsieve serve --config /etc/logsieve/config.yaml --watch=false`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(ctx); err != nil {
			a.logger.Error(ctx, "shutdown error", zap.Error(err))
		}
	}()
	logger := a.logger.Component("serve")

	srv, err := httpserver.NewServer(a.pipeline, a.logger.Component("http"), &httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      version,
		Tracer:       a.tel.Tracer("github.com/fyrsmithlabs/logsieve/internal/http"),
		Meter:        a.tel.Meter("github.com/fyrsmithlabs/logsieve/internal/http"),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if watchConfig {
		startWatcher(ctx, a)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(context.Cause(ctx)))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}

// startWatcher reloads the pipeline and the diagnostic log level when the
// config file or policy file changes. A watcher that cannot start disables
// hot reload only.
func startWatcher(ctx context.Context, a *app) {
	logger := a.logger.Component("watcher")
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
			return
		}
	}
	files := []string{path}
	if a.cfg.Sanitize.PolicyFile != "" {
		files = append(files, a.cfg.Sanitize.PolicyFile)
	}

	w, err := config.NewWatcher(logger, config.DefaultDebounce, files...)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
		return
	}

	go func() {
		defer func() { _ = w.Stop() }()
		err := w.Watch(ctx, func() error {
			next, err := config.LoadWithFile(path)
			if err != nil {
				return err
			}
			if err := a.pipeline.Reload(next); err != nil {
				return err
			}
			a.logger.SetLevel(next.Logging.Level)
			return nil
		})
		if err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()
}
