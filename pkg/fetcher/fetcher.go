// Package fetcher retrieves one page of new candidate sources and their
// detection histories from the catalog.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/harvester/pkg/catalog"
	"github.com/ethpandaops/harvester/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCandidateQuery is returned when the candidate page itself could not be fetched
	ErrCandidateQuery = errors.New("candidate query failed")
	// ErrInvalidPage is returned for page indexes below 1
	ErrInvalidPage = errors.New("page index must be >= 1")
)

// Membership answers whether a source has already been processed
type Membership interface {
	Contains(id string) bool
}

// CandidateError records a candidate whose detections could not be fetched
type CandidateError struct {
	SourceID string
	Err      error
}

func (e CandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.SourceID, e.Err)
}

func (e CandidateError) Unwrap() error {
	return e.Err
}

// Batch is the result of fetching one page
type Batch struct {
	Page       int
	Candidates int // candidates returned by the catalog
	Known      int // candidates skipped because they were already processed
	Rows       []catalog.Detection
	SourceIDs  []string // successfully fetched sources, including ones with no detections
	Failures   []CandidateError
}

// Empty reports whether the batch carries no detections
func (b *Batch) Empty() bool {
	return b == nil || len(b.Rows) == 0
}

// Fetcher produces batches of new detections
type Fetcher struct {
	log    logrus.FieldLogger
	client catalog.Client
	config Config
}

// New creates a fetcher
func New(log logrus.FieldLogger, client catalog.Client, cfg *Config) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Fetcher{
		log:    log.WithField("component", "fetcher"),
		client: client,
		config: *cfg,
	}, nil
}

type detectionResult struct {
	rows []catalog.Detection
	err  error
}

// Fetch queries candidate page `page`, drops sources in seen and fetches the
// detection history of every remaining candidate with bounded concurrency.
//
// Only a failure of the candidate query itself is returned as an error.
// Per-candidate failures are reported in Batch.Failures and leave the
// candidate out of Batch.SourceIDs so a later page can retry it.
func (f *Fetcher) Fetch(ctx context.Context, page int, seen Membership) (*Batch, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}

	log := f.log.WithField("page", page)
	batch := &Batch{Page: page}

	candidates, err := f.client.QueryCandidates(ctx, f.config.query(page))
	if err != nil {
		return batch, fmt.Errorf("%w: %w", ErrCandidateQuery, err)
	}

	batch.Candidates = len(candidates)

	if len(candidates) == 0 {
		log.Info("No candidates returned")
		return batch, nil
	}

	fresh := make([]catalog.Candidate, 0, len(candidates))
	inPage := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if c.SourceID == "" {
			continue
		}

		if _, dup := inPage[c.SourceID]; dup || seen.Contains(c.SourceID) {
			batch.Known++
			continue
		}

		inPage[c.SourceID] = struct{}{}
		fresh = append(fresh, c)
	}

	if len(fresh) == 0 {
		log.WithField("candidates", len(candidates)).Info("All candidates already processed")
		observability.RecordCandidates(batch.Known, 0, 0)

		return batch, nil
	}

	log.WithField("new", len(fresh)).Info("Found new candidates")

	results := make([]detectionResult, len(fresh))

	var g errgroup.Group
	g.SetLimit(f.config.Concurrency)

	for i, c := range fresh {
		i, c := i, c
		g.Go(func() error {
			rows, err := f.client.QueryDetections(ctx, c.SourceID)
			results[i] = detectionResult{rows: rows, err: err}

			return nil
		})
	}

	_ = g.Wait()

	for i, c := range fresh {
		res := results[i]
		if res.err != nil {
			log.WithError(res.err).WithField("oid", c.SourceID).Warn("Failed to fetch detections")
			batch.Failures = append(batch.Failures, CandidateError{SourceID: c.SourceID, Err: res.err})

			continue
		}

		for _, row := range res.rows {
			row.SourceID = c.SourceID
			if row.RA == nil {
				row.RA = c.MeanRA
			}

			if row.Dec == nil {
				row.Dec = c.MeanDec
			}

			batch.Rows = append(batch.Rows, row)
		}

		batch.SourceIDs = append(batch.SourceIDs, c.SourceID)
	}

	observability.RecordCandidates(batch.Known, len(batch.SourceIDs), len(batch.Failures))

	if batch.Empty() {
		log.Info("No detections retrieved")
	} else {
		log.WithFields(logrus.Fields{
			"detections": len(batch.Rows),
			"objects":    len(batch.SourceIDs),
			"failed":     len(batch.Failures),
		}).Info("Retrieved detections")
	}

	return batch, nil
}
