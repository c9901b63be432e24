package main

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

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"wwcpsync/config"
	"wwcpsync/engine"
	"wwcpsync/log"
	"wwcpsync/messaging"
	"wwcpsync/metrics"
	"wwcpsync/partner"
	"wwcpsync/protocol"
	"wwcpsync/statecache"
	"wwcpsync/store"
	"wwcpsync/www"
)

var Version = "dev"

func main() {
	showVersion := lflag.Bool("version", false, "print version and exit")
	configPath := lflag.String("config", "wwcpsync.yaml", "path to config file")
	lflag.Configure()

	if *showVersion {
		fmt.Println("wwcpsync", Version)
		return
	}

	// lflag sets llog's level; mirror it onto slog
	switch llog.GetLevel() {
	case llog.DebugLevel:
		log.SetDefaultLogLevel(slog.LevelDebug)
	case llog.WarnLevel:
		log.SetDefaultLogLevel(slog.LevelWarn)
	case llog.ErrorLevel:
		log.SetDefaultLogLevel(slog.LevelError)
	default:
		log.SetDefaultLogLevel(slog.LevelInfo)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := log.Ctx(ctx)
	slog.SetDefault(logger)

	if err := run(ctx, *configPath, logger); err != nil {
		logger.Error("wwcpsync failed", "error", err)
		os.Exit(1)
	}
	logger.Info("wwcpsync: stopped")
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("wwcpsync: database open", "driver", cfg.Database.Driver)

	// Redis
	var cache engine.Cache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		rs := statecache.NewRedisStore(redisClient, cfg.Redis.Prefix)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("wwcpsync: redis not available, running without cache", "error", err)
		} else {
			logger.Info("wwcpsync: redis connected", "address", cfg.Redis.Address)
			cache = rs
		}
		pingCancel()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging, logger)
	if err := msgClient.Connect(messagingTopics(cfg)...); err != nil {
		logger.Warn("wwcpsync: messaging connect failed", "error", err)
	} else {
		logger.Info("wwcpsync: messaging connected", "backend", msgClient.Backend())
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		DB:         db,
		Cache:      cache,
		Metrics:    rec,
		MsgClient:  msgClient,
		Logger:     logger,
	})

	src := protocol.Address{Role: protocol.RoleSync, Node: cfg.NodeID}
	for _, pc := range cfg.Partners {
		var tr partner.Transport
		switch pc.Transport {
		case "bus":
			tr = partner.NewBusTransport(pc.ID, pc.Topic, src, msgClient, db, logger)
		default:
			tr = partner.NewHTTPTransport(pc.BaseURL, pc.Timeout)
		}
		p := partner.New(pc.ID, pc.Name, tr, partner.WithBatchSize(pc.BatchSize))
		if _, err := eng.AddPartner(p, pc.AdapterConfig()); err != nil {
			return err
		}
		logger.Info("wwcpsync: partner configured", "partner", pc.ID, "transport", tr.Name())
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	// Outbox drainer (bus transports park failed pushes here)
	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval, logger)
	drainer.Start()
	defer drainer.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng, db)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("wwcpsync: web server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("wwcpsync: ready", "partners", len(cfg.Partners), "version", Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	}

	logger.Info("wwcpsync: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func messagingTopics(cfg *config.Config) []string {
	topics := []string{cfg.Messaging.IngestTopic, cfg.Messaging.AckTopic}
	for _, p := range cfg.Partners {
		if p.Transport == "bus" && p.Topic != "" {
			topics = append(topics, p.Topic)
		}
	}
	return topics
}
