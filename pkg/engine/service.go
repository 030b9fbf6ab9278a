package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/ethpandaops/harvester/pkg/api"
	"github.com/ethpandaops/harvester/pkg/api/handlers"
	"github.com/ethpandaops/harvester/pkg/catalog"
	"github.com/ethpandaops/harvester/pkg/harvest"
	"github.com/ethpandaops/harvester/pkg/lock"
	"github.com/ethpandaops/harvester/pkg/observability"
	"github.com/ethpandaops/harvester/pkg/scheduler"
	"github.com/ethpandaops/harvester/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Service owns every long-lived dependency of a harvester process
type Service struct {
	config *Config
	log    logrus.FieldLogger

	store     *store.SQLStore
	catalog   *catalog.HTTPClient
	harvest   harvest.Service
	scheduler scheduler.Service
	api       api.Service

	redisClient *redis.Client
	locker      lock.Locker

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewService opens the store, builds the catalog client and wires the
// harvest, lock, scheduler and API services.
func NewService(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(ctx, log, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	svc := &Service{
		config: cfg,
		log:    log,
		store:  st,
	}

	if err := svc.wire(); err != nil {
		_ = svc.Stop()

		return nil, err
	}

	return svc, nil
}

func (a *Service) wire() error {
	var err error

	a.catalog, err = catalog.NewClient(a.log, &a.config.Catalog)
	if err != nil {
		return fmt.Errorf("failed to create catalog client: %w", err)
	}

	a.harvest, err = harvest.NewService(a.log, &a.config.Harvest, a.store, a.catalog)
	if err != nil {
		return fmt.Errorf("failed to create harvest service: %w", err)
	}

	if a.config.Redis.Enabled() {
		opts, err := redis.ParseURL(a.config.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}

		a.redisClient = redis.NewClient(opts)
		a.locker = lock.New(a.log, a.redisClient, &a.config.Redis, "")
	}

	if a.config.Scheduler.Enabled() {
		var tracker redis.Cmdable
		if a.redisClient != nil {
			tracker = a.redisClient
		}

		a.scheduler, err = scheduler.NewService(a.log, &a.config.Scheduler, a, tracker)
		if err != nil {
			return fmt.Errorf("failed to create scheduler service: %w", err)
		}
	}

	var lastRun handlers.LastRunSource
	if a.scheduler != nil {
		lastRun = a.scheduler
	}

	a.api = api.NewService(&a.config.API, handlers.NewServer(a.harvest, a.store, lastRun, a.log), a.log)

	return nil
}

// Scheduled reports whether the harvest runs on a schedule rather than once
func (a *Service) Scheduled() bool {
	return a.scheduler != nil
}

// Start starts the metrics, health, pprof and API servers and, in scheduled
// mode, the scheduler.
func (a *Service) Start(ctx context.Context) error {
	a.log.Info("Starting harvester...")

	observability.StartMetricsServer(a.log, a.config.MetricsAddr)

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	a.log.Info("Harvester started successfully")

	return nil
}

// Run performs one harvest, holding the run lock when Redis is configured
func (a *Service) Run(ctx context.Context) (*harvest.Result, error) {
	if a.locker != nil {
		if err := a.locker.Acquire(ctx); err != nil {
			return &harvest.Result{Reason: harvest.ReasonCancelled}, nil //nolint:nilerr // interrupted while waiting
		}

		defer func() {
			if err := a.locker.Release(context.WithoutCancel(ctx)); err != nil {
				a.log.WithError(err).Warn("Failed to release run lock")
			}
		}()

		var cancel context.CancelFunc

		ctx, cancel = a.cancelOnLost(ctx, a.locker.Lost())
		defer cancel()
	}

	return a.harvest.Run(ctx)
}

// cancelOnLost cancels the harvest once the lease is taken over; the run
// stops at the next page boundary.
func (a *Service) cancelOnLost(ctx context.Context, lost <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-lost:
			a.log.Error("Run lock lost, stopping harvest after the current page")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Progress returns the live harvest progress
func (a *Service) Progress() harvest.Progress {
	return a.harvest.Progress()
}

// Stop gracefully shuts everything down
func (a *Service) Stop() error {
	a.log.Info("Shutting down harvester...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if err := stopFunc(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop scheduling new runs and wait for the active one
	if a.scheduler != nil {
		stopService("scheduler service", a.scheduler.Stop)
	}

	// 2. Stop the API
	if a.api != nil {
		stopService("API service", a.api.Stop)
	}

	// 3. Close Redis now nothing holds the lock
	if a.redisClient != nil {
		stopService("Redis client", a.redisClient.Close)
	}

	if a.catalog != nil {
		stopService("catalog client", a.catalog.Stop)
	}

	if a.healthServer != nil {
		stopService("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}

	if a.pprofServer != nil {
		stopService("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}

	stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	// Store last: it is the only critical close
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close store")
			return err
		}
	}

	a.log.Info("Harvester stopped")

	return nil
}

func (a *Service) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := a.store.Healthy(ctx); err != nil {
			a.log.WithError(err).Debug("Store not ready")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func (a *Service) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           a.healthHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Service) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}

var _ scheduler.Runner = (*Service)(nil)
