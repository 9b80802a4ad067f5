package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/me/batchpoll/internal/admin"
	"github.com/me/batchpoll/internal/config"
	"github.com/me/batchpoll/internal/logging"
	"github.com/me/batchpoll/internal/provider"
	"github.com/me/batchpoll/internal/retention"
	"github.com/me/batchpoll/internal/scheduler"
	"github.com/me/batchpoll/internal/secrets"
	"github.com/me/batchpoll/internal/server"
	"github.com/me/batchpoll/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "", "Log format: text, json (overrides config)")
	dbPath := flag.String("db", "", "Database path (default ~/.batchpoll/batchpoll.db)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "db":
			cfg.DBPath = *dbPath
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := errors.Join(cfg.Validate(), retention.ValidateSchedule(cfg.Retention.Schedule)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".batchpoll")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		cfg.DBPath = filepath.Join(dir, "batchpoll.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	sealer, err := secrets.NewSealer(cfg.Secrets.Key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secret key: %v\n", err)
		os.Exit(1)
	}
	secretMgr := secrets.NewManager(st, sealer, secrets.Options{
		CacheTTL: cfg.Secrets.CacheTTL,
		CacheMax: cfg.Secrets.CacheMax,
	}, logger)

	sc := cfg.Scheduler
	statusClient := provider.NewOpenAIClient(provider.Options{
		BaseURL:   cfg.Providers.OpenAI.BaseURL,
		Timeout:   sc.CallTimeout,
		RateLimit: cfg.Providers.OpenAI.RateLimit,
		Burst:     cfg.Providers.OpenAI.Burst,
	}, logger)
	triggerClient := provider.NewKeboolaClient(provider.Options{
		Timeout:   sc.CallTimeout,
		RateLimit: cfg.Providers.Keboola.RateLimit,
		Burst:     cfg.Providers.Keboola.Burst,
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched := scheduler.NewLoop(st, secretMgr, statusClient, triggerClient, scheduler.Config{
		TickInterval: sc.TickInterval,
		CallTimeout:  sc.CallTimeout,
		MaxWorkers:   sc.MaxWorkers,
		BatchSize:    sc.BatchSize,
		MaxRetries:   sc.MaxRetries,
		BackoffBase:  sc.BackoffBase,
		BackoffMax:   sc.BackoffMax,
	}, logger, scheduler.WithMetrics(scheduler.MustNewMetrics(registry)))

	sweeper, err := retention.New(st, retention.Config{
		Schedule: cfg.Retention.Schedule,
		JobDays:  cfg.Retention.JobDays,
		LogDays:  cfg.Retention.LogDays,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retention: %v\n", err)
		os.Exit(1)
	}

	svc := admin.NewService(st, secretMgr, admin.Limits{
		MinInterval:     sc.MinInterval,
		MaxInterval:     sc.MaxInterval,
		DefaultInterval: sc.DefaultInterval,
		DefaultStackURL: cfg.Providers.Keboola.BaseURL,
	}, logger)

	srv := server.New(cfg, svc, logger, server.WithTickCounter(sched), server.WithGatherer(registry))
	if cfg.AdminToken == "" {
		logger.Warn("admin token not set; admin API is unauthenticated", "env", config.AdminTokenEnv)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	}()
	sweeper.Start()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop the scheduler first so in-flight checks persist before the store closes.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
