package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tdurouchoux/home-monitoring-display/internal/config"
	"github.com/tdurouchoux/home-monitoring-display/internal/scheduler"
	"github.com/tdurouchoux/home-monitoring-display/pkg/api"
	"github.com/tdurouchoux/home-monitoring-display/pkg/influx"
	"github.com/tdurouchoux/home-monitoring-display/pkg/session"
	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

const (
	version = "0.1.0"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("Home monitoring display failed")
	}
}

// run wires the sources, sessions, scheduler and API server and serves
// until ctx is done. Everything opened here is closed before it returns.
func run(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("timezone", loc.String()).
		Bool("local_store", cfg.Storage.Enabled).
		Int("connectors", len(cfg.Connectors)).
		Msg("Starting home monitoring display")

	sources := make(map[string]storage.Source)

	// Initialize local storage
	var flusher scheduler.WALFlusher
	if cfg.Storage.Enabled {
		store, err := storage.NewLocalStore(cfg.ToStorageConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close local storage")
			}
		}()

		sources[cfg.Storage.Name] = store
		if cfg.Storage.EnableWAL {
			flusher = store
		}
		log.Info().Str("source", cfg.Storage.Name).Str("path", cfg.Storage.Path).Msg("Local storage initialized")
	}

	// Initialize InfluxDB connectors
	names := make([]string, 0, len(cfg.Connectors))
	for name := range cfg.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ic, err := cfg.ToInfluxConfig(name)
		if err != nil {
			return fmt.Errorf("connector %s: %w", name, err)
		}
		src, err := influx.NewSource(name, ic)
		if err != nil {
			return fmt.Errorf("connector %s: %w", name, err)
		}
		defer src.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := src.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("connector", name).Msg("InfluxDB not reachable yet")
		}
		cancel()

		sources[name] = src
		log.Info().Str("connector", name).Str("addr", ic.Addr).Str("database", ic.Database).Msg("InfluxDB source ready")
	}

	multi := storage.NewMultiSource(sources)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := storage.NewCacheMetrics(reg)

	sessions := session.NewRegistry(multi, loc, cfg.Sessions.Capacity, cfg.Sessions.IdleTTL, storage.WithMetrics(metrics))

	sched := scheduler.New(sessions, flusher, cfg.Scheduler.SweepInterval, cfg.Scheduler.WALFlushInterval)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	server := api.NewServer(cfg.Server.ListenAddr, multi, sessions,
		api.WithLocation(loc),
		api.WithGatherer(reg),
		api.WithTimeout(cfg.Server.Timeout),
	)

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("API server listening")
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutdown signal received, stopping server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped successfully")
	return nil
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
