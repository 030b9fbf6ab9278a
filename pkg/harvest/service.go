// Package harvest drives the page loop that pulls candidate sources from the
// catalog and persists their detections until a target count is reached or
// the catalog stops yielding new data.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/harvester/pkg/catalog"
	"github.com/ethpandaops/harvester/pkg/dedup"
	"github.com/ethpandaops/harvester/pkg/fetcher"
	"github.com/ethpandaops/harvester/pkg/observability"
	"github.com/ethpandaops/harvester/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStore is returned when the store fails; the run stops immediately
	ErrStore = errors.New("store failure")
	// ErrAlreadyRunning is returned when Run is called while a run is active
	ErrAlreadyRunning = errors.New("harvest already running")
)

// Service runs harvests
type Service interface {
	// Run harvests until a terminal state is reached
	Run(ctx context.Context) (*Result, error)
	// Progress returns a snapshot of the current or last run
	Progress() Progress
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a service
type Option func(*service)

// WithSleep replaces the inter-page delay implementation
func WithSleep(fn SleepFunc) Option {
	return func(s *service) {
		s.sleep = fn
	}
}

type service struct {
	log     logrus.FieldLogger
	cfg     *Config
	store   store.Store
	fetcher *fetcher.Fetcher
	sleep   SleepFunc

	running  sync.Mutex
	mu       sync.RWMutex
	progress Progress
}

// NewService creates a harvest service over the given store and catalog
func NewService(log logrus.FieldLogger, cfg *Config, st store.Store, client catalog.Client, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid harvest configuration: %w", err)
	}

	f, err := fetcher.New(log, client, &cfg.Config)
	if err != nil {
		return nil, err
	}

	s := &service{
		log:      log.WithField("service", "harvest"),
		cfg:      cfg,
		store:    st,
		fetcher:  f,
		sleep:    sleepContext,
		progress: Progress{State: StateIdle, Target: cfg.TargetRecords},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// run holds the mutable state of one Run call
type run struct {
	id         string
	log        logrus.FieldLogger
	started    time.Time
	tracker    *dedup.Tracker
	page       int
	pages      int
	detections int64
	start      int64
	emptyPages int
}

func (s *service) Run(ctx context.Context) (*Result, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	r := &run{
		id:      uuid.New().String(),
		started: time.Now(),
		page:    1,
	}
	r.log = s.log.WithField("run_id", r.id)

	s.update(func(p *Progress) {
		*p = Progress{
			RunID:     r.id,
			State:     StateInit,
			Page:      r.page,
			Target:    s.cfg.TargetRecords,
			StartedAt: r.started,
		}
	})

	if err := s.init(ctx, r); err != nil {
		return s.finish(r, ReasonFailed), err
	}

	r.log.WithFields(logrus.Fields{
		"detections": r.start,
		"processed":  r.tracker.Len(),
		"target":     s.cfg.TargetRecords,
	}).Info("Starting harvest")

	if r.detections >= s.cfg.TargetRecords {
		return s.finish(r, ReasonTargetReached), nil
	}

	for {
		if ctx.Err() != nil {
			return s.finish(r, ReasonCancelled), nil
		}

		if err := s.step(ctx, r); err != nil {
			return s.finish(r, ReasonFailed), err
		}

		if reason, done := s.terminal(ctx, r); done {
			return s.finish(r, reason), nil
		}

		s.setState(StateThrottling)

		if err := s.sleep(ctx, s.cfg.PageDelay); err != nil {
			return s.finish(r, ReasonCancelled), nil
		}
	}
}

func (s *service) init(ctx context.Context, r *run) error {
	count, err := s.store.CountDetections(ctx)
	if err != nil {
		return fmt.Errorf("%w: count detections: %w", ErrStore, err)
	}

	ids, err := s.store.ProcessedIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: load processed sources: %w", ErrStore, err)
	}

	r.start = count
	r.detections = count
	r.tracker = dedup.New(ids...)

	s.publish(r)

	return nil
}

// step fetches and commits one page. Only store failures are returned.
func (s *service) step(ctx context.Context, r *run) error {
	s.setState(StateFetching)

	page := r.page
	log := r.log.WithField("page", page)

	batch, err := s.fetcher.Fetch(ctx, page, r.tracker)

	r.page++
	r.pages++

	if err != nil {
		log.WithError(err).Warn("Page fetch failed")
		observability.RecordPage("error")
		observability.RecordError("fetcher", "candidate_query")

		r.emptyPages++
		s.publish(r)

		return nil
	}

	if len(batch.SourceIDs) > 0 {
		if err := s.commit(ctx, r, batch); err != nil {
			log.WithError(err).Error("Failed to commit batch")
			observability.RecordError("store", "commit")

			return err
		}
	}

	if batch.Empty() {
		observability.RecordPage("empty")

		r.emptyPages++

		log.WithFields(logrus.Fields{
			"empty_pages": r.emptyPages,
			"max":         s.cfg.MaxEmptyPages,
		}).Info("No new data on page")
	} else {
		observability.RecordPage("committed")

		r.emptyPages = 0

		s.logProgress(r)
	}

	s.publish(r)

	return nil
}

// commit persists rows and markers as one unit and only then updates the
// tracker. It is not interrupted by ctx cancellation.
func (s *service) commit(ctx context.Context, r *run, batch *fetcher.Batch) error {
	s.setState(StateCommitting)

	commitCtx := context.WithoutCancel(ctx)
	started := time.Now()

	res, err := s.store.CommitBatch(commitCtx, batch.Rows, batch.SourceIDs)
	if err != nil {
		observability.RecordCommit("error", 0, time.Since(started).Seconds())

		return fmt.Errorf("%w: page %d: %w", ErrStore, batch.Page, err)
	}

	observability.RecordCommit("ok", res.Inserted, time.Since(started).Seconds())

	r.tracker.Add(batch.SourceIDs...)

	count, err := s.store.CountDetections(commitCtx)
	if err != nil {
		return fmt.Errorf("%w: count detections: %w", ErrStore, err)
	}

	r.detections = count

	r.log.WithFields(logrus.Fields{
		"page":       batch.Page,
		"inserted":   res.Inserted,
		"duplicates": res.Duplicates,
		"sources":    res.Marked,
	}).Debug("Committed batch")

	return nil
}

func (s *service) terminal(ctx context.Context, r *run) (Reason, bool) {
	if r.detections >= s.cfg.TargetRecords {
		return ReasonTargetReached, true
	}

	if ctx.Err() != nil {
		return ReasonCancelled, true
	}

	if r.emptyPages >= s.cfg.MaxEmptyPages {
		return ReasonExhausted, true
	}

	return "", false
}

func (s *service) finish(r *run, reason Reason) *Result {
	elapsed := time.Since(r.started)

	result := &Result{
		RunID:           r.id,
		Reason:          reason,
		Pages:           r.pages,
		Detections:      r.detections,
		StartDetections: r.start,
		Elapsed:         elapsed,
	}

	if r.tracker != nil {
		result.Processed = r.tracker.Len()
	}

	s.update(func(p *Progress) {
		p.State = reason.state()
		p.Reason = reason
	})

	observability.RecordRun(string(reason))

	fields := logrus.Fields{
		"reason":       reason,
		"detections":   r.detections,
		"new":          r.detections - r.start,
		"pages":        r.pages,
		"elapsed_mins": fmt.Sprintf("%.1f", elapsed.Minutes()),
	}

	switch reason {
	case ReasonTargetReached:
		r.log.WithFields(fields).Info("Target reached")
	case ReasonExhausted:
		r.log.WithFields(fields).Warn("Catalog exhausted before reaching target")
	case ReasonCancelled:
		r.log.WithFields(fields).Info("Harvest cancelled")
	default:
		r.log.WithFields(fields).Error("Harvest failed")
	}

	return result
}

func (s *service) logProgress(r *run) {
	elapsed := time.Since(r.started)

	r.log.WithFields(logrus.Fields{
		"current":      r.detections,
		"target":       s.cfg.TargetRecords,
		"percent":      fmt.Sprintf("%.1f", percent(r.detections, s.cfg.TargetRecords)),
		"elapsed_mins": fmt.Sprintf("%.1f", elapsed.Minutes()),
		"rate":         fmt.Sprintf("%.1f", rate(r.detections-r.start, elapsed)),
	}).Info("Progress")
}

func (s *service) publish(r *run) {
	observability.RecordProgress(r.detections, s.cfg.TargetRecords, r.emptyPages)

	s.update(func(p *Progress) {
		p.Page = r.page
		p.Detections = r.detections
		p.Percent = percent(r.detections, s.cfg.TargetRecords)
		p.Processed = r.tracker.Len()
		p.EmptyPages = r.emptyPages
		p.RecordsPerSecond = rate(r.detections-r.start, time.Since(r.started))
	})
}

func (s *service) setState(state State) {
	s.update(func(p *Progress) {
		p.State = state
	})
}

func (s *service) update(fn func(p *Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.progress)
}

func (s *service) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.progress
}

func percent(current, target int64) float64 {
	if target <= 0 {
		return 0
	}

	return float64(current) / float64(target) * 100
}

func rate(added int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return float64(added) / elapsed.Seconds()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Service = (*service)(nil)
