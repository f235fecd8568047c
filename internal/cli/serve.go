package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the background scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API without periodic reconciliation")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	deps := server.Deps{
		Alerts:        a.manager,
		Reconciler:    a.scheduler,
		Dispatcher:    a.dispatcher,
		Thresholds:    a.registry,
		Notifications: a.store,
		Metrics:       promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}),
	}
	if a.hub != nil {
		deps.Realtime = http.HandlerFunc(a.hub.HandleWebSocket)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      server.NewServer(deps, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.hub != nil {
		g.Go(func() error {
			a.hub.Run(gctx)
			return nil
		})
	}

	if !noScheduler {
		a.scheduler.Start(gctx)
		defer a.scheduler.Stop()
	}

	g.Go(func() error {
		logger.Info("sentinel started", "listen", cfg.Server.Listen, "storage", cfg.Storage.Driver)
		fmt.Fprintf(os.Stderr, "KPI Sentinel listening on %s\n", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("sentinel stopped")
	return nil
}
