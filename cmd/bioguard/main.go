package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"bioguard/internal/api"
	"bioguard/internal/audit"
	"bioguard/internal/config"
	"bioguard/internal/engine"
	"bioguard/internal/ingest"
	"bioguard/internal/logging"
	"bioguard/internal/model"
	"bioguard/internal/ops"
	"bioguard/internal/snapshot"
	"bioguard/internal/storage"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "bioguard.yaml", "path to config file")
	flag.Parse()
	path := *configPath
	if env := os.Getenv("BIOGUARD_CONFIG"); env != "" {
		path = env
	}
	path = config.ResolvePath(path)

	manager, err := config.NewManager(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.NewLogger("info").Error("config load failed", "path", path, "err", err)
			os.Exit(1)
		}
		manager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting bioguard", "version", version, "config", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage open failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	metrics := ops.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("metrics register failed", "err", err)
		os.Exit(1)
	}

	snapshots := snapshot.NewStore(cfg.Snapshot.StoreLimit)
	auditLog := audit.NewStore(cfg.Audit.StoreLimit)
	eng := engine.NewEngine(cfg, logger, snapshots, auditLog, store, metrics)

	events := make(chan model.BehaviorEvent, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, events)

	ingest.StartREST(ctx, manager, events, logger)
	ingest.StartKafka(ctx, manager, events, logger)
	api.Start(ctx, manager, snapshots, auditLog, eng, registry, logger, version)

	stopWatch := make(chan struct{})
	go manager.Watch(5*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded", "path", manager.Path())
			eng.UpdateConfig(next)
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		stopWatch,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	close(stopWatch)
	cancel()
	time.Sleep(200 * time.Millisecond)
}
