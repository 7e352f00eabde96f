// Package main runs the standalone process watchdog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/config"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/logging"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/notifier"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/watchdog"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("watchdog", cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, cleanup, err := buildServices(ctx, cfg.Watchdog.Services)
	if err != nil {
		logger.Fatal("service setup failed", zap.Error(err))
	}
	defer cleanup()

	alerts := buildNotifier(cfg, logger)

	monitor, err := watchdog.New(services, watchdog.Options{
		CheckInterval:      cfg.Watchdog.CheckInterval(),
		MaxRestartAttempts: cfg.Watchdog.MaxRestartAttempts,
	}, logger, alerts)
	if err != nil {
		logger.Fatal("watchdog init failed", zap.Error(err))
	}

	logger.Info("watchdog started",
		zap.Int("services", len(services)),
		zap.Duration("check_interval", cfg.Watchdog.CheckInterval()))
	if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watchdog stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildServices(ctx context.Context, specs []config.ServiceConfig) ([]watchdog.Service, func(), error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	var pools []*pgxpool.Pool
	cleanup := func() {
		for _, p := range pools {
			p.Close()
		}
	}

	services := make([]watchdog.Service, 0, len(specs))
	for _, spec := range specs {
		svc := watchdog.Service{Name: spec.Name}
		switch {
		case spec.HealthURL != "":
			svc.Probe = watchdog.HTTPProbe(httpClient, spec.HealthURL)
		case spec.PingDSN != "":
			pool, err := pgxpool.New(ctx, spec.PingDSN)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("pool for %s: %w", spec.Name, err)
			}
			pools = append(pools, pool)
			svc.Probe = watchdog.PingProbe(pool)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("service %s: no health_url or ping_dsn", spec.Name)
		}
		if spec.Restartable() {
			svc.Restart = watchdog.CommandRestart(spec.Command, spec.Args...)
		}
		services = append(services, svc)
	}
	return services, cleanup, nil
}

func buildNotifier(cfg config.Config, logger *zap.Logger) agent.Notifier {
	channels := []agent.Notifier{notifier.NewLog(logger.Named("alerts"))}
	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram init failed", zap.Error(err))
		} else {
			channels = append(channels, tg)
		}
	}
	return notifier.NewMulti(channels...)
}
