// main is the entry point of the patient service.
//
// STARTUP SEQUENCE:
//  1. Load configuration from a YAML file (env vars override)
//  2. Initialise the logger
//  3. Open the patient store (sqlite, postgres or memory)
//  4. Connect to billing and, if configured, Kafka
//  5. Register all HTTP routes
//  6. Serve until an OS signal arrives, then shut down gracefully
//
// RUNNING THE SERVER:
//
//	go run ./cmd/patient-service --config=config/local.yaml
//
// or (with the environment variable):
//
//	CONFIG_PATH=config/local.yaml go run ./cmd/patient-service
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pm/patient-service/internal/billing"
	"github.com/pm/patient-service/internal/config"
	"github.com/pm/patient-service/internal/events"
	"github.com/pm/patient-service/internal/http/handlers/patient"
	"github.com/pm/patient-service/internal/http/health"
	"github.com/pm/patient-service/internal/http/middleware"
	"github.com/pm/patient-service/internal/metrics"
	"github.com/pm/patient-service/internal/service"
	"github.com/pm/patient-service/internal/storage"
	"github.com/pm/patient-service/internal/storage/memory"
	"github.com/pm/patient-service/internal/storage/postgres"
	"github.com/pm/patient-service/internal/storage/sqlite"
)

func main() {
	// ── 1. Load Config ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	// ── 2. Initialise Logger ──────────────────────────────────────────────
	// Handlers pick the logger up through slog.Default().
	log := setupLogger(cfg.Env)
	slog.SetDefault(log)

	log.Info("starting patient-service",
		slog.String("env", cfg.Env),
		slog.String("version", health.Version),
	)

	// ── 3. Initialise Storage ─────────────────────────────────────────────
	store, err := openStorage(context.Background(), cfg.Storage)
	if err != nil {
		log.Error("failed to initialise storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("storage initialised", slog.String("driver", cfg.Storage.Driver))

	// ── 4. Downstream services ────────────────────────────────────────────
	// grpc.NewClient connects lazily, so an unreachable billing service
	// does not block startup; the first Create reports the failure.
	billingClient, err := billing.New(cfg.Billing.Target(), cfg.Billing.Timeout, log)
	if err != nil {
		log.Error("failed to create billing client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	healthHandler := health.New(cfg.Env, 2*time.Second)
	healthHandler.RegisterCheck("storage", store.Ping)

	opts := []service.Option{service.WithMetrics(m)}
	var producer *events.Producer
	if cfg.Kafka.Enabled() {
		producer, err = events.New(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, log)
		if err != nil {
			log.Error("failed to create kafka producer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		opts = append(opts, service.WithPublisher(producer))
		healthHandler.RegisterCheck("kafka", producer.Ping)
		log.Info("patient events enabled", slog.String("topic", cfg.Kafka.Topic))
	} else {
		log.Info("kafka not configured, patient events disabled")
	}

	svc := service.New(store, billingClient, log, opts...)

	// ── 5. Register HTTP Routes ───────────────────────────────────────────
	//   GET    /patients        list all patients
	//   GET    /patients/{id}   get one patient
	//   POST   /patients        create a patient
	//   PUT    /patients/{id}   update a patient
	//   DELETE /patients/{id}   delete a patient
	//   GET    /health          readiness (storage, kafka)
	//   GET    /health/live     liveness
	//   GET    /metrics         Prometheus scrape endpoint
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Logger(log))
	router.Use(chimw.Recoverer)
	router.Use(m.Middleware)

	patient.Register(router, svc)
	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:         cfg.HTTPServer.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	// ── 6. Serve and wait for a signal ────────────────────────────────────
	go func() {
		log.Info("server started", slog.String("address", cfg.HTTPServer.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server encountered an error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	exitCode := 0
	if err := server.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown server gracefully", slog.String("error", err.Error()))
		exitCode = 1
	}
	cancel()

	// Dependents first: nothing produces or calls billing once the
	// server has drained.
	if producer != nil {
		producer.Close()
	}
	if err := billingClient.Close(); err != nil {
		log.Error("failed to close billing client", slog.String("error", err.Error()))
	}
	if err := store.Close(); err != nil {
		log.Error("failed to close storage", slog.String("error", err.Error()))
	}

	log.Info("server stopped")
	os.Exit(exitCode)
}

// openStorage returns the store selected by cfg.Driver.
func openStorage(ctx context.Context, cfg config.Storage) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// setupLogger returns a *slog.Logger configured for the given environment.
//
// Development (dev): human-readable text output at DEBUG level.
// Production (prod): machine-readable JSON output at INFO level.
func setupLogger(env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case "staging":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
