package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinelwatch/internal/alerts"
	"sentinelwatch/internal/api"
	"sentinelwatch/internal/config"
	"sentinelwatch/internal/engine"
	"sentinelwatch/internal/ingest"
	"sentinelwatch/internal/logging"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/rules"
	"sentinelwatch/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML or JSON)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "sentinelwatch:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfgs *config.Manager
	if configPath != "" {
		m, err := config.NewManager(config.ResolvePath(configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfgs = m
	} else {
		cfgs = config.NewStaticManager(nil)
	}
	cfg := cfgs.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting sentinelwatch", "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	registry := rules.NewRegistry(logger)
	if err := registry.Reload(rules.FromConfig(cfg.Rules)); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	manager := alerts.NewManager(store, logger)
	if store != nil {
		persisted, err := store.LoadAlerts(ctx)
		if err != nil {
			return fmt.Errorf("load alerts: %w", err)
		}
		manager.Load(persisted)
		logger.Info("alerts rehydrated", "count", len(persisted))
	}

	eng := engine.NewEngine(cfg, logger, registry, manager, store)
	if err := eng.LoadState(ctx); err != nil {
		logger.Warn("engine state not restored", "err", err)
	}

	events := make(chan model.Event, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, events)

	if cfg.Ingest.REST.Enabled {
		src := ingest.NewRESTSource(cfgs, events, logger)
		go func() {
			if err := src.Run(ctx); err != nil {
				logger.Error("rest ingest stopped", "err", err)
			}
		}()
	}
	if cfg.Ingest.Syslog.Enabled {
		src := ingest.NewSyslogSource(cfgs, events, logger)
		go func() {
			if err := src.Run(ctx); err != nil {
				logger.Error("syslog ingest stopped", "err", err)
			}
		}()
	}
	if cfg.Ingest.FileTail.Enabled {
		src := ingest.NewFileTailSource(cfgs, events, logger)
		go func() {
			if err := src.Run(ctx); err != nil {
				logger.Error("file tail ingest stopped", "err", err)
			}
		}()
	}
	if cfg.Ingest.Kafka.Enabled {
		src := ingest.NewKafkaSource(cfgs, events, logger)
		go func() {
			if err := src.Run(ctx); err != nil {
				logger.Error("kafka ingest stopped", "err", err)
			}
		}()
	}

	if cfg.API.Enabled {
		server := api.NewServer(cfgs, registry, eng, manager, logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("api server stopped", "err", err)
			}
		}()
	}

	if configPath != "" {
		go cfgs.Watch(3*time.Second,
			func(updated *config.Config) {
				if err := registry.Reload(rules.FromConfig(updated.Rules)); err != nil {
					logger.Error("config reload rejected", "err", err)
					return
				}
				eng.SyncRules()
				eng.UpdateConfig(updated)
				logger.Info("config reloaded", "rules", len(registry.Snapshot()))
			},
			func(err error) {
				logger.Error("config watch failed", "err", err)
			},
			ctx.Done(),
		)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.SaveState(saveCtx); err != nil {
		logger.Error("final state snapshot failed", "err", err)
	}
	manager.Close()
	return nil
}
