// Package main wires together the hub agent service binary.
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

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/api"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/clock/system"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/config"
	historyMemory "github.com/DeadManOfficial/HF-Agent-Infinite/internal/history/memory"
	historyPostgres "github.com/DeadManOfficial/HF-Agent-Infinite/internal/history/postgres"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/hubapi"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/id/uuid"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/logging"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/notifier"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/orchestrator"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/poller"
	pubsubPublisher "github.com/DeadManOfficial/HF-Agent-Infinite/internal/publisher/pubsub"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("hubagent", cfg.Logging.Development)
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

	history, closeHistory, err := buildHistory(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("history init failed", zap.Error(err))
	}
	defer closeHistory()

	var publisher agent.Publisher
	if cfg.PubSub.Enabled {
		ps, err := pubsubPublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := ps.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = ps
	}

	alerts := buildNotifier(cfg, logger)

	orch, err := orchestrator.New(orchestrator.Deps{
		Logger:    logger.Named("orchestrator"),
		Clock:     system.New(),
		IDs:       uuid.New(),
		History:   history,
		Publisher: publisher,
		Notifier:  alerts,
	}, orchestrator.Options{
		Workers:        cfg.Orchestrator.Workers,
		QueueCapacity:  cfg.Orchestrator.QueueCapacity,
		MaxRetries:     cfg.Orchestrator.MaxRetries,
		BackoffInitial: cfg.Orchestrator.BackoffInitial(),
		BackoffMax:     cfg.Orchestrator.BackoffMax(),
		RetainTasks:    cfg.Orchestrator.RetainTasks,
		DequeueTimeout: cfg.Orchestrator.DequeueTimeout(),
		SchedulerTick:  cfg.Orchestrator.SchedulerTick(),
		EventTopic:     cfg.PubSub.TopicName,
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}
	if err := orch.Start(ctx); err != nil {
		logger.Fatal("orchestrator start failed", zap.Error(err))
	}

	hub, err := hubapi.New(hubapi.Config{
		BaseURL:       cfg.Hub.BaseURL,
		Token:         cfg.Hub.Token,
		Timeout:       cfg.Hub.Timeout(),
		RatePerSecond: cfg.Hub.RatePerSecond,
		Burst:         cfg.Hub.Burst,
	})
	if err != nil {
		logger.Fatal("hub client init failed", zap.Error(err))
	}
	crawl := hubapi.NewCrawlJob(hub, cfg.Hub.PageSize)

	// The poller owns the continuous crawl; the scheduler runs a
	// periodic stats snapshot so queue health lands in history too.
	statsJob := agent.JobFunc(func(context.Context) (any, error) {
		return orch.Stats(), nil
	})
	if _, err := orch.Schedule("stats_snapshot", time.Hour, statsJob); err != nil {
		logger.Fatal("schedule registration failed", zap.Error(err))
	}

	catalog := api.Catalog{
		"hub_crawl":      crawl,
		"stats_snapshot": statsJob,
	}

	// Watched models get a recurring lookup of their own so staleness
	// or deletion shows up in history and alerts.
	for _, modelID := range cfg.Hub.WatchModels {
		lookup := hubapi.NewLookupJob(hub, modelID)
		name := "watch_" + modelID
		if _, err := orch.Schedule(name, cfg.Poller.Interval(), lookup); err != nil {
			logger.Fatal("watch schedule registration failed",
				zap.String("model", modelID), zap.Error(err))
		}
		catalog[name] = lookup
	}

	loop, err := poller.New("hub_poll", func(ctx context.Context) error {
		_, err := crawl.Execute(ctx)
		return err
	}, poller.Options{
		Interval:             cfg.Poller.Interval(),
		MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
		BackoffBase:          cfg.Poller.BackoffBase(),
		BackoffMax:           cfg.Poller.BackoffMax(),
		Cooldown:             cfg.Poller.Cooldown(),
	}, logger.Named("poller"), alerts)
	if err != nil {
		logger.Fatal("poller init failed", zap.Error(err))
	}
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", zap.Error(err))
		}
	}()

	apiServer := api.NewServer(orch, catalog, logger.Named("api"), cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildHistory(ctx context.Context, cfg config.Config, logger *zap.Logger) (agent.HistorySink, func(), error) {
	if cfg.History.Driver == "postgres" {
		store, err := historyPostgres.NewHistoryStore(ctx, historyPostgres.HistoryStoreConfig{
			DSN: cfg.History.DSN,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("history store ready", zap.String("driver", "postgres"))
		return store, store.Close, nil
	}
	logger.Info("history store ready", zap.String("driver", "memory"))
	return historyMemory.New(cfg.History.MaxRows), func() {}, nil
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
