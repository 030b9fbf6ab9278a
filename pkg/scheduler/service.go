package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/harvester/pkg/harvest"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotEnabled is returned when starting a scheduler without a schedule
	ErrNotEnabled = errors.New("no schedule configured")
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start registers the schedule and returns immediately
	Start(ctx context.Context) error
	// Stop waits for an in-flight harvest to finish and shuts down
	Stop() error
	// LastRun returns the most recent recorded run
	LastRun(ctx context.Context) (RunRecord, error)
}

// Runner executes one harvest
type Runner interface {
	Run(ctx context.Context) (*harvest.Result, error)
}

type service struct {
	log     logrus.FieldLogger
	cfg     *Config
	runner  Runner
	tracker runTracker

	cron   *cron.Cron
	entry  cron.EntryID
	ctx    context.Context //nolint:containedctx // cron jobs take no context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a scheduler. redisClient may be nil, in which case the
// last run is only tracked in memory.
func NewService(log logrus.FieldLogger, cfg *Config, runner Runner, redisClient redis.Cmdable) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled() {
		return nil, ErrNotEnabled
	}

	log = log.WithField("service", "scheduler")

	var tracker runTracker = &memoryRunTracker{}
	if redisClient != nil {
		tracker = newRedisRunTracker(log, redisClient, cfg.KeyPrefix)
	}

	cronLog := cron.PrintfLogger(log)

	return &service{
		log:     log,
		cfg:     cfg,
		runner:  runner,
		tracker: tracker,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	entry, err := s.cron.AddFunc(s.cfg.Schedule, s.execute)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	s.entry = entry
	s.cron.Start()

	next := s.cron.Entry(entry).Next

	s.log.WithFields(logrus.Fields{
		"schedule": s.cfg.Schedule,
		"next_run": next,
	}).Info("Scheduler started")

	if s.cfg.RunOnStart && s.missed(ctx) {
		job := s.cron.Entry(entry).WrappedJob

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}

	return nil
}

// missed reports whether a tick was due since the last recorded run
func (s *service) missed(ctx context.Context) bool {
	last, err := s.tracker.GetLastRun(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to read last run, running now")
		return true
	}

	if last.StartedAt.IsZero() {
		return true
	}

	return due(s.cron.Entry(s.entry).Schedule, last.StartedAt, time.Now())
}

func due(sched cron.Schedule, last, now time.Time) bool {
	return !sched.Next(last).After(now)
}

func (s *service) execute() {
	started := time.Now().UTC()
	log := s.log.WithField("started_at", started)

	log.Info("Starting scheduled harvest")

	res, err := s.runner.Run(s.ctx)
	if errors.Is(err, harvest.ErrAlreadyRunning) {
		log.Info("Harvest still running, skipping tick")
		return
	}

	rec := RunRecord{StartedAt: started}

	if res != nil {
		rec.Reason = string(res.Reason)
		rec.Detections = res.Detections
	}

	if err != nil {
		log.WithError(err).Error("Scheduled harvest failed")
	} else {
		log.WithFields(logrus.Fields{
			"reason":     rec.Reason,
			"detections": rec.Detections,
		}).Info("Scheduled harvest finished")
	}

	if err := s.tracker.SetLastRun(context.WithoutCancel(s.ctx), rec); err != nil {
		log.WithError(err).Warn("Failed to record last run")
	}
}

func (s *service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	<-s.cron.Stop().Done()

	s.wg.Wait()

	s.log.Info("Scheduler stopped")

	return nil
}

func (s *service) LastRun(ctx context.Context) (RunRecord, error) {
	return s.tracker.GetLastRun(ctx)
}

var _ Service = (*service)(nil)
