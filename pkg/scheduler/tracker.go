package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const lastRunKey = "last_run"

// RunRecord describes the most recent scheduled harvest
type RunRecord struct {
	StartedAt  time.Time `json:"started_at"`
	Reason     string    `json:"reason"`
	Detections int64     `json:"detections"`
}

// runTracker persists the last scheduled run so restarts can tell whether a
// tick was missed. A zero RunRecord means no run has been recorded.
type runTracker interface {
	GetLastRun(ctx context.Context) (RunRecord, error)
	SetLastRun(ctx context.Context, rec RunRecord) error
}

type redisRunTracker struct {
	log   logrus.FieldLogger
	redis redis.Cmdable
	key   string
}

func newRedisRunTracker(log logrus.FieldLogger, client redis.Cmdable, prefix string) runTracker {
	return &redisRunTracker{
		log:   log.WithField("component", "run_tracker"),
		redis: client,
		key:   prefix + lastRunKey,
	}
}

func (r *redisRunTracker) GetLastRun(ctx context.Context) (RunRecord, error) {
	vals, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to get last run: %w", err)
	}

	if len(vals) == 0 {
		r.log.Debug("No last run recorded")
		return RunRecord{}, nil
	}

	startedAt, err := time.Parse(time.RFC3339, vals["started_at"])
	if err != nil {
		r.log.WithError(err).WithField("raw_value", vals["started_at"]).Error("Failed to parse timestamp")
		return RunRecord{}, fmt.Errorf("failed to parse last run timestamp: %w", err)
	}

	detections, _ := strconv.ParseInt(vals["detections"], 10, 64)

	return RunRecord{
		StartedAt:  startedAt,
		Reason:     vals["reason"],
		Detections: detections,
	}, nil
}

func (r *redisRunTracker) SetLastRun(ctx context.Context, rec RunRecord) error {
	err := r.redis.HSet(ctx, r.key,
		"started_at", rec.StartedAt.UTC().Format(time.RFC3339),
		"reason", rec.Reason,
		"detections", rec.Detections,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set last run: %w", err)
	}

	r.log.WithField("started_at", rec.StartedAt).Debug("Updated last run")

	return nil
}

type memoryRunTracker struct {
	mu  sync.RWMutex
	rec RunRecord
}

func (m *memoryRunTracker) GetLastRun(_ context.Context) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rec, nil
}

func (m *memoryRunTracker) SetLastRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rec = rec

	return nil
}

var (
	_ runTracker = (*redisRunTracker)(nil)
	_ runTracker = (*memoryRunTracker)(nil)
)
