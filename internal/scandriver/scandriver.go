// Package scandriver implements a restartable, paginated scan over the
// entities table (§4.8), the Go counterpart of the original's IndexUpdater
// batch base class: fetch a page ordered by added_id, hand each row to a
// caller-supplied processor, and always report a run summary even if the
// scan stops early on error.
package scandriver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"schemaless/internal/ddl"
	"schemaless/internal/entitycodec"
	"schemaless/internal/storeerr"
)

// DefaultBatchSize mirrors the original's --batch-size default.
const DefaultBatchSize = 100

// EntityRow carries the raw entities-table columns alongside the decoded
// entity passed to RowProcessor.ProcessRow.
type EntityRow struct {
	AddedID int64
	ID      []byte
	Updated time.Time
}

// RowProcessor does whatever work a scan batch exists to do — typically
// populating a newly declared index table, per spec §4.8's supplemented
// IndexUpdater use case. Subclassed in the original; here it's an
// interface implemented by the caller.
type RowProcessor interface {
	ProcessRow(ctx context.Context, row EntityRow, entity entitycodec.Entity) error
}

// DB is the subset of *sql.DB the scanner needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Scanner drives a paginated scan over the entities table.
type Scanner struct {
	db        DB
	codec     *entitycodec.Codec
	batchSize int
	log       *slog.Logger
}

// NewScanner builds a Scanner. A non-positive batchSize falls back to
// DefaultBatchSize; a nil log falls back to slog.Default().
func NewScanner(db DB, codec *entitycodec.Codec, batchSize int, log *slog.Logger) *Scanner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{db: db, codec: codec, batchSize: batchSize, log: log}
}

// Summary reports what a Run accomplished, logged at the end of every run
// regardless of whether it finished cleanly or stopped on error.
type Summary struct {
	RowsProcessed int64
	LastAddedID   int64
	Elapsed       time.Duration
}

// Run scans the entities table starting at startAddedID, ordered by
// added_id ascending, calling processor.ProcessRow for each row in turn.
// It stops at the first error from either the scan itself or the
// processor, but always returns (and logs) a Summary describing progress
// made before stopping — the run-loop try/finally pattern of the original.
func (s *Scanner) Run(ctx context.Context, startAddedID int64, processor RowProcessor) (Summary, error) {
	start := time.Now()
	nextID := startAddedID
	lastProcessed := startAddedID - 1
	var processed int64
	var runErr error

	s.log.Info("scan starting", "start_added_id", startAddedID, "batch_size", s.batchSize)

scan:
	for {
		rows, err := s.fetchBatch(ctx, nextID)
		if err != nil {
			runErr = err
			break
		}
		if len(rows) == 0 {
			break
		}

		for _, r := range rows {
			entity, err := s.codec.Decode(r.body, r.id, r.updated)
			if err != nil {
				runErr = fmt.Errorf("scandriver.Run: added_id %d: %w", r.addedID, err)
				break scan
			}
			entity["added_id"] = r.addedID

			row := EntityRow{AddedID: r.addedID, ID: r.id, Updated: r.updated}
			if err := processor.ProcessRow(ctx, row, entity); err != nil {
				runErr = fmt.Errorf("scandriver.Run: added_id %d: %w", r.addedID, err)
				break scan
			}

			processed++
			lastProcessed = r.addedID
		}
		nextID = lastProcessed + 1
	}

	summary := Summary{
		RowsProcessed: processed,
		LastAddedID:   lastProcessed,
		Elapsed:       time.Since(start),
	}

	if runErr != nil {
		s.log.Error("scan stopped early", "error", runErr, "rows_processed", summary.RowsProcessed, "last_added_id", summary.LastAddedID, "elapsed", summary.Elapsed)
	} else {
		s.log.Info("scan finished", "rows_processed", summary.RowsProcessed, "last_added_id", summary.LastAddedID, "elapsed", summary.Elapsed)
	}

	return summary, runErr
}

type scanRow struct {
	addedID int64
	id      []byte
	updated time.Time
	body    []byte
}

func (s *Scanner) fetchBatch(ctx context.Context, fromAddedID int64) ([]scanRow, error) {
	stmt := fmt.Sprintf(
		"SELECT added_id, id, updated, body FROM %s WHERE added_id >= ? ORDER BY added_id ASC LIMIT ?",
		ddl.QuoteIdentifier("entities"),
	)
	rows, err := s.db.QueryContext(ctx, stmt, fromAddedID, s.batchSize)
	if err != nil {
		return nil, storeerr.New(storeerr.Backend, "scandriver.fetchBatch", err)
	}
	defer rows.Close()

	var out []scanRow
	for rows.Next() {
		var r scanRow
		if err := rows.Scan(&r.addedID, &r.id, &r.updated, &r.body); err != nil {
			return nil, storeerr.New(storeerr.Backend, "scandriver.fetchBatch", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.New(storeerr.Backend, "scandriver.fetchBatch", err)
	}
	return out, nil
}
