package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/harvester/pkg/catalog"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/sirupsen/logrus"
)

// SQL queries shared by both dialects, written with ? placeholders
const (
	queryInsertDetection = `
INSERT INTO detections (oid, mjd, magpsf, fid, sigmapsf, ra, "dec")
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (oid, mjd, fid) DO NOTHING`

	queryMarkProcessed = `
INSERT INTO processed_sources (oid)
VALUES (?)
ON CONFLICT (oid) DO NOTHING`

	queryCountDetections = `SELECT COUNT(*) FROM detections`
	queryCountProcessed  = `SELECT COUNT(*) FROM processed_sources`
	queryCountSources    = `SELECT COUNT(DISTINCT oid) FROM detections`
	queryProcessedIDs    = `SELECT oid FROM processed_sources`
)

// SQLStore persists to SQLite or PostgreSQL through database/sql
type SQLStore struct {
	log     logrus.FieldLogger
	db      *sql.DB
	dialect string
}

// Open connects to the configured database and applies migrations.
//
// Idle connections are not kept: each read or write takes a connection for
// its own duration only, so nothing is held across the inter-page delay.
func Open(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	driverName, dsn := "pgx", cfg.DSN
	if cfg.Driver == DriverSQLite {
		driverName, dsn = "sqlite3", sqliteDSN(cfg.DSN, cfg.ReadOnly)
	}

	log = log.WithFields(logrus.Fields{
		"component": "store",
		"driver":    cfg.Driver,
	})

	if cfg.Migrate && !cfg.ReadOnly {
		if err := runMigrations(log, driverName, dsn, cfg.Driver); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(5 * time.Minute)

	if cfg.Driver == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Info("Store opened")

	return &SQLStore{log: log, db: db, dialect: cfg.Driver}, nil
}

// Close implements Store
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Healthy returns nil when the database is reachable
func (s *SQLStore) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDetections implements Store
func (s *SQLStore) InsertDetections(ctx context.Context, rows []catalog.Detection) (int64, error) {
	res, err := s.CommitBatch(ctx, rows, nil)
	if err != nil {
		return 0, err
	}

	return res.Inserted, nil
}

// MarkProcessed implements Store
func (s *SQLStore) MarkProcessed(ctx context.Context, ids []string) error {
	_, err := s.CommitBatch(ctx, nil, ids)

	return err
}

// CommitBatch implements Store. Detections and markers share one
// transaction; any failure rolls both back.
func (s *SQLStore) CommitBatch(ctx context.Context, rows []catalog.Detection, ids []string) (CommitResult, error) {
	var result CommitResult

	if len(rows) == 0 && len(ids) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(queryInsertDetection))
		if err != nil {
			return CommitResult{}, fmt.Errorf("prepare insert detection: %w", err)
		}
		defer stmt.Close()

		for i := range rows {
			row := &rows[i]

			res, err := stmt.ExecContext(ctx,
				row.SourceID,
				row.MJD,
				row.Magnitude,
				row.BandID,
				row.MagnitudeErr,
				nullFloat(row.RA),
				nullFloat(row.Dec),
			)
			if err != nil {
				return CommitResult{}, fmt.Errorf("insert detection %s@%v/%d: %w", row.SourceID, row.MJD, row.BandID, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return CommitResult{}, fmt.Errorf("rows affected: %w", err)
			}

			if n > 0 {
				result.Inserted++
			} else {
				result.Duplicates++
			}
		}
	}

	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind(queryMarkProcessed))
		if err != nil {
			return CommitResult{}, fmt.Errorf("prepare mark processed: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return CommitResult{}, fmt.Errorf("mark processed %q: %w", id, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return CommitResult{}, fmt.Errorf("rows affected: %w", err)
			}

			result.Marked += n
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	return result, nil
}

// CountDetections implements Store
func (s *SQLStore) CountDetections(ctx context.Context) (int64, error) {
	return s.count(ctx, queryCountDetections)
}

// CountProcessed implements Store
func (s *SQLStore) CountProcessed(ctx context.Context) (int64, error) {
	return s.count(ctx, queryCountProcessed)
}

// CountSources implements Store
func (s *SQLStore) CountSources(ctx context.Context) (int64, error) {
	return s.count(ctx, queryCountSources)
}

// ProcessedIDs implements Store
func (s *SQLStore) ProcessedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryProcessedIDs)
	if err != nil {
		return nil, fmt.Errorf("query processed ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan processed id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed ids: %w", err)
	}

	return ids, nil
}

func (s *SQLStore) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return n, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Ensure SQLStore implements the interface
var _ Store = (*SQLStore)(nil)
