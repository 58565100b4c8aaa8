package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"stayalert/database"
	"stayalert/internal/config"
	"stayalert/internal/microservices/admin"
	"stayalert/internal/microservices/relay"
	"stayalert/internal/telemetry"
)

func main() {
	flags := pflag.NewFlagSet("relay-server", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	configPath, _ := flags.GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyFlags(flags); err != nil {
		log.Fatalf("Failed to apply flags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// startPostgresSink runs the batch writer until stop is called. The writer is
// not tied to the run context: stop flushes every reading recorded before it.
func startPostgresSink(store telemetry.ReadingStore, flushInterval time.Duration, logger *slog.Logger) (*telemetry.PostgresSink, func()) {
	sink := telemetry.NewPostgresSink(store, telemetry.BatchOptions{
		FlushInterval: flushInterval,
	}, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.StartBatchWriter(context.Background())
	}()
	return sink, func() {
		sink.Close()
		<-done
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(registry)

	var sinks telemetry.Fanout
	var latest admin.LatestReader

	if cfg.RedisURL != "" {
		redisSink, err := telemetry.NewRedisSink(cfg.RedisURL, cfg.RedisChannel, cfg.RedisLatestTTL)
		if err != nil {
			return err
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		latest = redisSink
		logger.Info("redis_telemetry_enabled", "channel", cfg.RedisChannel)
	}

	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := telemetry.NewGormReadingStore(db.Gorm)
		if err != nil {
			return err
		}
		pgSink, stopWriter := startPostgresSink(store, cfg.DBFlushInterval, logger)
		// runs after server.Start returns, when no handler can record anymore
		defer stopWriter()
		sinks = append(sinks, pgSink)
		logger.Info("postgres_telemetry_enabled")
	}

	server, err := relay.NewServer(relay.Options{
		Host: cfg.Host,
		Port: cfg.Port,
		Connection: relay.ConnectionOptions{
			Framing:        cfg.Framing,
			ReadBufferSize: cfg.ReadBufferSize,
			IdleTimeout:    cfg.IdleTimeout,
			RateLimit:      cfg.RateLimit,
			RateBurst:      cfg.RateBurst,
		},
	}, relay.NewRegistry(logger), sinks, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	if cfg.AdminAddr != "" {
		if !cfg.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := admin.NewRouter(admin.NewHandler(server.Registry, latest, registry))
		go func() {
			if err := admin.Serve(ctx, cfg.AdminAddr, router, logger); err != nil {
				logger.Error("admin_server_error", "error", err.Error())
			}
		}()
	}

	logger.Info("starting_relay_server",
		"host", cfg.Host,
		"port", cfg.Port,
	)
	return server.Start(ctx)
}
