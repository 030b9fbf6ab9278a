package catalog

import (
	"context"
	"sync"
)

// MockClient is a mock implementation of Client for testing
type MockClient struct {
	mu sync.Mutex

	// Control behavior
	QueryCandidatesFunc func(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	QueryDetectionsFunc func(ctx context.Context, sourceID string) ([]Detection, error)

	// Track calls for assertions
	CandidateCalls []CandidateQuery
	DetectionCalls []string
}

// NewMockClient creates a new mock catalog client
func NewMockClient() *MockClient {
	return &MockClient{
		CandidateCalls: make([]CandidateQuery, 0),
		DetectionCalls: make([]string, 0),
	}
}

// QueryCandidates implements Client
func (m *MockClient) QueryCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	m.mu.Lock()
	m.CandidateCalls = append(m.CandidateCalls, q)
	fn := m.QueryCandidatesFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, q)
	}

	return nil, nil
}

// QueryDetections implements Client
func (m *MockClient) QueryDetections(ctx context.Context, sourceID string) ([]Detection, error) {
	m.mu.Lock()
	m.DetectionCalls = append(m.DetectionCalls, sourceID)
	fn := m.QueryDetectionsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sourceID)
	}

	return nil, nil
}

// GetDetectionCalls returns a copy of the source ids passed to QueryDetections
func (m *MockClient) GetDetectionCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]string, len(m.DetectionCalls))
	copy(calls, m.DetectionCalls)

	return calls
}

// GetCandidateCalls returns a copy of the queries passed to QueryCandidates
func (m *MockClient) GetCandidateCalls() []CandidateQuery {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]CandidateQuery, len(m.CandidateCalls))
	copy(calls, m.CandidateCalls)

	return calls
}

// Ensure MockClient implements the interface
var _ Client = (*MockClient)(nil)
