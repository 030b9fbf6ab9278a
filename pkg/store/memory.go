package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/harvester/pkg/catalog"
)

type detectionKey struct {
	oid string
	mjd float64
	fid int
}

// Memory is an in-process Store used by tests and dry runs
type Memory struct {
	mu sync.RWMutex

	detections []catalog.Detection
	keys       map[detectionKey]struct{}
	processed  map[string]time.Time
	order      []string
	closed     bool

	// BeforeCommit, when set, runs before any write and aborts the commit
	// if it returns an error
	BeforeCommit func(rows []catalog.Detection, ids []string) error

	now func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		keys:      make(map[detectionKey]struct{}),
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

// InsertDetections implements Store
func (m *Memory) InsertDetections(ctx context.Context, rows []catalog.Detection) (int64, error) {
	res, err := m.CommitBatch(ctx, rows, nil)

	return res.Inserted, err
}

// MarkProcessed implements Store
func (m *Memory) MarkProcessed(ctx context.Context, ids []string) error {
	_, err := m.CommitBatch(ctx, nil, ids)

	return err
}

// CommitBatch implements Store. All input is validated before anything is
// written, so a rejected batch leaves the store untouched.
func (m *Memory) CommitBatch(ctx context.Context, rows []catalog.Detection, ids []string) (CommitResult, error) {
	var result CommitResult

	if err := ctx.Err(); err != nil {
		return result, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return result, ErrClosed
	}

	if err := validate(rows, ids); err != nil {
		return result, err
	}

	if m.BeforeCommit != nil {
		if err := m.BeforeCommit(rows, ids); err != nil {
			return result, err
		}
	}

	now := m.now().UTC()

	for i := range rows {
		key := detectionKey{oid: rows[i].SourceID, mjd: rows[i].MJD, fid: rows[i].BandID}
		if _, ok := m.keys[key]; ok {
			result.Duplicates++
			continue
		}

		row := rows[i]
		row.InsertedAt = now

		m.keys[key] = struct{}{}
		m.detections = append(m.detections, row)
		result.Inserted++
	}

	for _, id := range ids {
		if _, ok := m.processed[id]; ok {
			continue
		}

		m.processed[id] = now
		m.order = append(m.order, id)
		result.Marked++
	}

	return result, nil
}

// CountDetections implements Store
func (m *Memory) CountDetections(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	return int64(len(m.detections)), nil
}

// CountProcessed implements Store
func (m *Memory) CountProcessed(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	return int64(len(m.processed)), nil
}

// CountSources implements Store
func (m *Memory) CountSources(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	sources := make(map[string]struct{})
	for i := range m.detections {
		sources[m.detections[i].SourceID] = struct{}{}
	}

	return int64(len(sources)), nil
}

// ProcessedIDs implements Store
func (m *Memory) ProcessedIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, len(m.order))
	copy(ids, m.order)

	return ids, nil
}

// Detections returns a copy of the stored detections in insertion order
func (m *Memory) Detections() []catalog.Detection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]catalog.Detection, len(m.detections))
	copy(out, m.detections)

	return out
}

// IsProcessed reports whether id has a processed marker
func (m *Memory) IsProcessed(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.processed[id]

	return ok
}

// Close implements Store
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

// Ensure Memory implements the interface
var _ Store = (*Memory)(nil)
