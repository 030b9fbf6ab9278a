// Package store persists harvested detections and processed-source markers.
//
// Both tables are append-only: detections are keyed by (oid, mjd, fid) and
// processed markers by oid, and re-submitting an existing key is a no-op.
package store

import (
	"context"
	"errors"

	"github.com/ethpandaops/harvester/pkg/catalog"
)

// Static errors
var (
	ErrInvalidSourceID = errors.New("source id must not be empty")
	ErrClosed          = errors.New("store is closed")
)

// CommitResult summarises one CommitBatch call
type CommitResult struct {
	Inserted   int64 // detections newly stored
	Duplicates int64 // detections already present
	Marked     int64 // processed markers newly stored
}

// Store is the durable, idempotent persistence the harvester depends on
type Store interface {
	// InsertDetections stores rows, ignoring ones whose key already exists
	InsertDetections(ctx context.Context, rows []catalog.Detection) (int64, error)
	// MarkProcessed records source ids as fetched, ignoring known ids
	MarkProcessed(ctx context.Context, ids []string) error
	// CommitBatch stores rows and markers as one unit: on error neither is written
	CommitBatch(ctx context.Context, rows []catalog.Detection, ids []string) (CommitResult, error)
	// CountDetections returns the committed detection count
	CountDetections(ctx context.Context) (int64, error)
	// CountProcessed returns the committed processed-marker count
	CountProcessed(ctx context.Context) (int64, error)
	// CountSources returns the number of distinct sources with detections
	CountSources(ctx context.Context) (int64, error)
	// ProcessedIDs returns every processed source id
	ProcessedIDs(ctx context.Context) ([]string, error)
	// Close releases the store
	Close() error
}

func validate(rows []catalog.Detection, ids []string) error {
	for i := range rows {
		if rows[i].SourceID == "" {
			return ErrInvalidSourceID
		}
	}

	for _, id := range ids {
		if id == "" {
			return ErrInvalidSourceID
		}
	}

	return nil
}
