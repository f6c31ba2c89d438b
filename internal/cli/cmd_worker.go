package cli

import (
	"context"
	"fmt"
	"os"

	"panelfleet/internal/config"
	"panelfleet/internal/debughttp"
	ilog "panelfleet/internal/log"
	"panelfleet/internal/panel"
	"panelfleet/internal/reconcile"
	"panelfleet/internal/registry"
	"panelfleet/internal/stats"
	"panelfleet/internal/store/sqlite"
)

func runWorker(ctx context.Context, args []string) int {
	cfg, err := config.ParseFlags("worker", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	reg := registry.New(store, logger, registry.Options{
		SyncPeriod:  cfg.SyncPeriod,
		FanoutLimit: cfg.FanoutLimit,
		Panel: panel.Options{
			LoginTTL:    cfg.LoginTTL,
			InsecureTLS: cfg.InsecureTLS,
		},
	})
	defer reg.Close()

	if err := debughttp.StartPprofServer(ctx, cfg.PprofAddr, logger); err != nil {
		fmt.Fprintln(os.Stderr, "pprof error:", err)
		return 1
	}

	logger.Info("worker started", "version", Version, "db", cfg.DBPath,
		"reconcile_interval", cfg.ReconcileInterval.String())

	collector := stats.New(store, reg, logger, nil)
	go collector.Run(ctx)

	reconcile.New(store, reg, logger, cfg.ReconcileInterval).Run(ctx)

	logger.Info("worker stopped")
	return 0
}
