package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/harvester/pkg/catalog"
	"github.com/ethpandaops/harvester/pkg/fetcher"
	"github.com/ethpandaops/harvester/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

// stubCatalog serves fixed candidate pages; pages not listed are empty
type stubCatalog struct {
	mu       sync.Mutex
	pages    map[int][]string
	counts   map[string]int
	failOnce map[string]bool
	pageErr  map[int]error
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		pages:    make(map[int][]string),
		counts:   make(map[string]int),
		failOnce: make(map[string]bool),
		pageErr:  make(map[int]error),
	}
}

func (s *stubCatalog) mock() *catalog.MockClient {
	m := catalog.NewMockClient()

	m.QueryCandidatesFunc = func(_ context.Context, q catalog.CandidateQuery) ([]catalog.Candidate, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.pageErr[q.Page]; err != nil {
			return nil, err
		}

		out := make([]catalog.Candidate, 0, len(s.pages[q.Page]))
		for _, id := range s.pages[q.Page] {
			out = append(out, catalog.Candidate{SourceID: id})
		}

		return out, nil
	}

	m.QueryDetectionsFunc = func(_ context.Context, id string) ([]catalog.Detection, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.failOnce[id] {
			s.failOnce[id] = false
			return nil, errBroker
		}

		rows := make([]catalog.Detection, 0, s.counts[id])
		for i := 0; i < s.counts[id]; i++ {
			rows = append(rows, catalog.Detection{MJD: 60100 + float64(i), BandID: 1 + i%2, Magnitude: 18.5})
		}

		return rows, nil
	}

	return m
}

// add puts sources with n detections each on page
func (s *stubCatalog) add(page, n int, ids ...string) {
	s.pages[page] = append(s.pages[page], ids...)
	for _, id := range ids {
		s.counts[id] = n
	}
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
	hook  func(n int)
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	n := len(r.calls)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	return ctx.Err()
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

func testConfig(target int64) *Config {
	return &Config{
		Config: fetcher.Config{
			Classifier:     "stamp_classifier",
			ClassName:      "SN",
			MinProbability: 0.7,
			PageSize:       5,
			MinEpoch:       60000,
			Concurrency:    2,
		},
		TargetRecords: target,
		PageDelay:     3 * time.Second,
		MaxEmptyPages: 5,
	}
}

func newTestService(t *testing.T, cfg *Config, st store.Store, client catalog.Client, sleeper *sleepRecorder) Service {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	svc, err := NewService(log, cfg, st, client, WithSleep(sleeper.sleep))
	require.NoError(t, err)

	return svc
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{name: "valid", mutate: func(_ *Config) {}},
		{name: "zero target", mutate: func(c *Config) { c.TargetRecords = 0 }, want: ErrInvalidTarget},
		{name: "zero max empty", mutate: func(c *Config) { c.MaxEmptyPages = 0 }, want: ErrInvalidMaxEmptyPages},
		{name: "negative delay", mutate: func(c *Config) { c.PageDelay = -time.Second }, want: ErrInvalidPageDelay},
		{name: "fetcher settings", mutate: func(c *Config) { c.PageSize = 0 }, want: fetcher.ErrInvalidPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(10)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRun_ExhaustsAfterConsecutiveEmptyPages(t *testing.T) {
	for _, maxEmpty := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", maxEmpty), func(t *testing.T) {
			cfg := testConfig(10)
			cfg.MaxEmptyPages = maxEmpty

			mock := newStubCatalog().mock()
			sleeper := &sleepRecorder{}

			res, err := newTestService(t, cfg, store.NewMemory(), mock, sleeper).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, ReasonExhausted, res.Reason)
			assert.Equal(t, maxEmpty, res.Pages)
			assert.Equal(t, int64(0), res.Detections)
			assert.Len(t, mock.GetCandidateCalls(), maxEmpty)
			assert.Equal(t, maxEmpty-1, sleeper.count(), "no delay after the terminal page")
		})
	}
}

func TestRun_ExhaustsBelowTarget(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 3, "ZTF21aaa", "ZTF21aab")

	st := store.NewMemory()
	mock := stub.mock()
	sleeper := &sleepRecorder{}

	svc := newTestService(t, testConfig(10), st, mock, sleeper)

	res, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, int64(6), res.Detections)
	assert.Equal(t, 6, res.Pages)
	assert.Equal(t, 2, res.Processed)

	count, err := st.CountDetections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	for i, q := range mock.GetCandidateCalls() {
		assert.Equal(t, i+1, q.Page, "page index advances by one every iteration")
	}

	progress := svc.Progress()
	assert.Equal(t, StateTerminalExhausted, progress.State)
	assert.Equal(t, int64(6), progress.Detections)
	assert.InDelta(t, 60.0, progress.Percent, 1e-9)
}

func TestRun_TargetReached(t *testing.T) {
	stub := newStubCatalog()
	for page := 1; page <= 10; page++ {
		stub.add(page, 3, fmt.Sprintf("ZTF-%d", page))
	}

	sleeper := &sleepRecorder{}
	svc := newTestService(t, testConfig(10), store.NewMemory(), stub.mock(), sleeper)

	res, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonTargetReached, res.Reason)
	assert.Equal(t, 4, res.Pages)
	assert.Equal(t, int64(12), res.Detections)
	assert.Equal(t, 3, sleeper.count())
	assert.Equal(t, StateTerminalSuccess, svc.Progress().State)

	for _, d := range sleeper.calls {
		assert.Equal(t, 3*time.Second, d, "delay is flat")
	}
}

func TestRun_AlreadyAtTarget(t *testing.T) {
	st := store.NewMemory()
	_, err := st.CommitBatch(context.Background(), []catalog.Detection{
		{SourceID: "a", MJD: 1, BandID: 1},
		{SourceID: "a", MJD: 2, BandID: 1},
	}, []string{"a"})
	require.NoError(t, err)

	mock := newStubCatalog().mock()

	res, err := newTestService(t, testConfig(2), st, mock, &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonTargetReached, res.Reason)
	assert.Equal(t, 0, res.Pages)
	assert.Equal(t, int64(2), res.StartDetections)
	assert.Empty(t, mock.GetCandidateCalls())
}

func TestRun_PartialFailureRetriedLater(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 2, "ok-1", "ok-2", "flaky", "ok-3", "ok-4")
	stub.failOnce["flaky"] = true
	stub.pages[2] = []string{"ok-1", "flaky"}

	st := store.NewMemory()
	mock := stub.mock()

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 2

	var afterFirstPage []string

	sleeper := &sleepRecorder{hook: func(n int) {
		if n == 1 {
			ids, err := st.ProcessedIDs(context.Background())
			require.NoError(t, err)
			afterFirstPage = ids
		}
	}}

	res, err := newTestService(t, cfg, st, mock, sleeper).Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ok-1", "ok-2", "ok-3", "ok-4"}, afterFirstPage)
	assert.True(t, st.IsProcessed("flaky"), "failed candidate is retried on a later page")
	assert.Equal(t, int64(10), res.Detections)

	calls := 0
	for _, id := range mock.GetDetectionCalls() {
		if id == "ok-1" {
			calls++
		}
	}
	assert.Equal(t, 1, calls, "processed sources are never re-fetched")
}

func TestRun_StoreErrorIsFatal(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 3, "ZTF-a", "ZTF-b")

	errDisk := errors.New("disk full")

	st := store.NewMemory()
	st.BeforeCommit = func(_ []catalog.Detection, _ []string) error {
		return errDisk
	}

	sleeper := &sleepRecorder{}
	svc := newTestService(t, testConfig(10), st, stub.mock(), sleeper)

	res, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, errDisk)

	require.NotNil(t, res)
	assert.Equal(t, ReasonFailed, res.Reason)
	assert.Equal(t, 0, res.Processed, "tracker is not updated for a failed commit")
	assert.Equal(t, 0, sleeper.count())
	assert.Equal(t, StateFailed, svc.Progress().State)

	ids, err := st.ProcessedIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRun_EmptyCounterResetsOnData(t *testing.T) {
	stub := newStubCatalog()
	stub.add(3, 1, "late")
	stub.add(5, 1, "later")

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 3

	res, err := newTestService(t, cfg, store.NewMemory(), stub.mock(), &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)

	// pages 1-2 empty, 3 data, 4 empty, 5 data, 6-8 empty
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 8, res.Pages)
	assert.Equal(t, int64(2), res.Detections)
}

func TestRun_PageErrorCountsAsEmpty(t *testing.T) {
	stub := newStubCatalog()
	stub.pageErr[1] = errBroker
	stub.add(2, 2, "after-error")

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 2

	res, err := newTestService(t, cfg, store.NewMemory(), stub.mock(), &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 4, res.Pages)
	assert.Equal(t, int64(2), res.Detections)
}

func TestRun_ZeroDetectionSourcesAreMarked(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 0, "quiet")
	stub.pages[2] = []string{"quiet"}

	st := store.NewMemory()
	mock := stub.mock()

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 2

	res, err := newTestService(t, cfg, st, mock, &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 2, res.Pages)
	assert.True(t, st.IsProcessed("quiet"))
	assert.Equal(t, []string{"quiet"}, mock.GetDetectionCalls())
}

func TestRun_Cancelled(t *testing.T) {
	stub := newStubCatalog()
	for page := 1; page <= 10; page++ {
		stub.add(page, 1, fmt.Sprintf("src-%d", page))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeper := &sleepRecorder{hook: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	svc := newTestService(t, testConfig(100), store.NewMemory(), stub.mock(), sleeper)

	res, err := svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, int64(2), res.Detections)
	assert.Equal(t, StateCancelled, svc.Progress().State)
}

func TestRun_ProgressMonotonic(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 3, "a", "b")
	stub.add(2, 3, "a", "c")
	stub.add(4, 2, "d")

	st := store.NewMemory()

	var (
		counts []int64
		mu     sync.Mutex
	)

	sleeper := &sleepRecorder{hook: func(_ int) {
		n, err := st.CountDetections(context.Background())
		require.NoError(t, err)

		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}}

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 2

	_, err := newTestService(t, cfg, st, stub.mock(), sleeper).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, counts)
	for i := 1; i < len(counts); i++ {
		assert.GreaterOrEqual(t, counts[i], counts[i-1])
	}
}

func TestRun_ResumesFromStore(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 2, "a", "b")
	stub.add(2, 2, "c")

	st := store.NewMemory()
	mock := stub.mock()

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 1

	first, err := newTestService(t, cfg, st, mock, &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), first.Detections)

	second, err := newTestService(t, cfg, st, mock, &sleepRecorder{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), second.StartDetections)
	assert.Equal(t, int64(6), second.Detections)
	assert.Equal(t, 3, second.Processed)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, mock.GetDetectionCalls())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	stub := newStubCatalog()
	stub.add(1, 1, "a")

	entered := make(chan struct{})
	release := make(chan struct{})

	sleeper := &sleepRecorder{hook: func(n int) {
		if n == 1 {
			close(entered)
			<-release
		}
	}}

	cfg := testConfig(100)
	cfg.MaxEmptyPages = 2

	svc := newTestService(t, cfg, store.NewMemory(), stub.mock(), sleeper)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		done <- err
	}()

	<-entered

	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateThrottling, svc.Progress().State)

	close(release)
	require.NoError(t, <-done)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
