package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runlens-backend/internal/alert"
	"runlens-backend/internal/bus"
	"runlens-backend/internal/checks"
	"runlens-backend/internal/config"
	"runlens-backend/internal/enrich"
	"runlens-backend/internal/radar"
	"runlens-backend/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	publisher, err := bus.NewPublisher(cfg.NATS.URL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer publisher.Close()

	subscriber, err := bus.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	subscriber.Log = logger
	defer subscriber.Close()

	registry := checks.Default()
	runner := checks.NewRunner(registry, repo)

	scanner := radar.NewScanner(repo, registry, runner, logger)
	scanner.BatchSize = cfg.Jobs.RadarBatchSize
	scanner.Timeout = time.Duration(cfg.Jobs.RadarTimeoutSeconds) * time.Second

	notifier := &alert.BusNotifier{Publisher: publisher}
	engine := alert.NewEngine(repo, notifier, logger)

	enrichJob := enrich.NewJob(repo, registry, logger)

	// Radar edits invalidate prior results; kick an immediate scan so
	// the backlog starts rescoring without waiting for the ticker.
	scanKick := make(chan struct{}, 1)
	kick := func(bus.Event) {
		select {
		case scanKick <- struct{}{}:
		default:
		}
	}
	for _, subject := range []string{"radar.created", "radar.updated"} {
		if _, err := subscriber.Subscribe(subject, kick); err != nil {
			logger.Error("subscribe failed", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}

	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	go runRadarLoop(jobCtx, scanner, scanKick, time.Duration(cfg.Jobs.RadarIntervalSeconds)*time.Second, logger)
	go runPeriodic(jobCtx, "alerts", time.Duration(cfg.Jobs.AlertIntervalSeconds)*time.Second, engine.Check, logger)
	go runPeriodic(jobCtx, "enrich", time.Duration(cfg.Jobs.EnrichIntervalSeconds)*time.Second, enrichJob.Run, logger)

	go startAdminServer(cfg.Admin.Port, scanner, scanKick, logger)

	logger.Info("worker started", slog.String("admin_port", cfg.Admin.Port))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	logger.Info("shutting down")
}

func runRadarLoop(ctx context.Context, scanner *radar.Scanner, kick <-chan struct{}, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-kick:
		case <-ctx.Done():
			return
		}
		if err := scanner.Scan(ctx); err != nil {
			logger.Error("radar scan error", slog.String("error", err.Error()))
		}
	}
}

func runPeriodic(ctx context.Context, name string, interval time.Duration, job func(context.Context) error, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := job(ctx); err != nil {
				logger.Error("job error", slog.String("job", name), slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func startAdminServer(port string, scanner *radar.Scanner, kick chan<- struct{}, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"radar_scan_running": scanner.Running(),
		})
	})
	r.Post("/jobs/radar/scan", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case kick <- struct{}{}:
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusConflict)
		}
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server error", slog.String("error", err.Error()))
	}
}
