package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/terranogyneco/pkg/gateway/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			stopTracing, err := a.startTracing(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stopTracing()
			b := newBackends(cfg, a.logger)
			defer b.Close()

			deps, err := gatewayDeps(cmd.Context(), cfg, b)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), a.logger, cfg, gatewayserver.New(cfg, a.logger, deps), a.deps)
		},
	}
}

func gatewayDeps(ctx context.Context, cfg config.Config, b *backends) (gatewayserver.Dependencies, error) {
	store, err := b.history(ctx)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("open history: %w", err)
	}
	runtime, err := b.runtime(ctx)
	if err != nil {
		return gatewayserver.Dependencies{}, err
	}
	deps := gatewayserver.Dependencies{
		History: store,
		Runtime: runtime,
		Metrics: metrics.New("terranogyneco"),
		Checks:  b.checks,
	}
	if cfg.AuthMode == config.AuthModeRequired {
		dir, err := b.directory(ctx)
		if err != nil {
			return gatewayserver.Dependencies{}, fmt.Errorf("open user directory: %w", err)
		}
		deps.Directory = dir
	}
	return deps, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runServe(ctx context.Context, logger *slog.Logger, cfg config.Config, gw *gatewayserver.Server, deps cliDeps) error {
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpSrv := buildHTTPServer(cfg, gw.Handler())
	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "history_backend", cfg.HistoryBackend)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Live sessions get the grace period to say goodbye and save before
	// the listener goes away.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	if !gw.Drain(drainCtx) {
		logger.Warn("live sessions canceled after grace period")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
