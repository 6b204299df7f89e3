package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/track"
)

// ErrNoData indicates that the session has no stored positions.
var ErrNoData = errors.New("no data available")

var _ TrackReader = (*SqliteTrackReader)(nil)

// ReaderOption configures a SqliteTrackReader with specific filtering criteria.
type ReaderOption func(*SqliteTrackReader)

// WithStartTime excludes positions computed before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes positions computed after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
// This is a convenience function equivalent to applying both WithStartTime
// and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// WithValidOnly skips positions whose accuracy is over the threshold.
func WithValidOnly() ReaderOption {
	return func(r *SqliteTrackReader) {
		r.validOnly = true
	}
}

// WithSamples loads the ranges every position was computed from.
func WithSamples() ReaderOption {
	return func(r *SqliteTrackReader) {
		r.includeSamples = true
	}
}

func newSqliteTrackReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteTrackReader, error) {
	tr := &SqliteTrackReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTrackReader implements TrackReader for SQLite database backend.
type SqliteTrackReader struct {
	db *sql.DB

	sessionID      int64
	session        *track.Session
	validOnly      bool
	includeSamples bool

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	samplesStmt *sql.Stmt
	current     *track.Point
	rows        *sql.Rows
	err         error
}

func (tr *SqliteTrackReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: tr.loadSession},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTrackReader) loadSession(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if tr.session, err = scanSession(stmt.QueryRowContext(ctx, tr.sessionID)); err != nil {
		return fmt.Errorf("querying session: %w", err)
	}
	return
}

func (tr *SqliteTrackReader) initFilters(ctx context.Context) (err error) {
	if tr.startTime != nil && tr.endTime != nil {
		if tr.startTime.After(*tr.endTime) {
			return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
		}
		return nil
	}

	stmt, err := tr.db.PrepareContext(ctx, selectTrackBoundsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var first, last int64
	if err = stmt.QueryRowContext(ctx, tr.sessionID).Scan(&first, &last); err != nil {
		return fmt.Errorf("scanning filters data: %w", err)
	}
	if first == 0 && last == 0 {
		return ErrNoData
	}

	if tr.startTime == nil {
		t := fromMicros(first)
		tr.startTime = &t
	}
	if tr.endTime == nil {
		t := fromMicros(last)
		tr.endTime = &t
	}

	if tr.startTime.After(*tr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
	}
	return nil
}

func (tr *SqliteTrackReader) initQuery(ctx context.Context) (err error) {
	if tr.includeSamples {
		if tr.samplesStmt, err = tr.db.PrepareContext(ctx, selectCycleSamplesSQL); err != nil {
			return fmt.Errorf("preparing samples statement: %w", err)
		}
	}

	stmt, err := tr.db.PrepareContext(ctx, selectTrackSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	validOnly := 0
	if tr.validOnly {
		validOnly = 1
	}

	tr.rows, err = stmt.QueryContext(ctx, tr.sessionID, toMicros(*tr.startTime), toMicros(*tr.endTime), validOnly)
	return err
}

func (tr *SqliteTrackReader) loadSamples(ctx context.Context, cycleRowID int64) (samples []track.Sample, err error) {
	rows, err := tr.samplesStmt.QueryContext(ctx, cycleRowID)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data sampleData
		if err = rows.Scan(&data.NodeID, &data.FlightUS, &data.DistanceCM, &data.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		samples = append(samples, data.toSample())
	}
	return samples, rows.Err()
}

func (tr *SqliteTrackReader) Session() *track.Session {
	return tr.session
}

func (tr *SqliteTrackReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		tr.err = err
		return false
	}

	if !tr.rows.Next() {
		tr.current = nil
		return false
	}

	var data positionData
	if err := tr.rows.Scan(
		&data.RowID,
		&data.CycleID,
		&data.Timestamp,
		&data.X,
		&data.Y,
		&data.Accuracy,
		&data.Valid,
		&data.Outcome,
	); err != nil {
		tr.err = fmt.Errorf("scanning position: %w", err)
		return false
	}

	point := data.toPoint()
	if tr.includeSamples {
		samples, err := tr.loadSamples(ctx, data.RowID)
		if err != nil {
			tr.err = err
			return false
		}
		point.Samples = samples
	}

	tr.current = point
	return true
}

func (tr *SqliteTrackReader) Current() *track.Point {
	return tr.current
}

func (tr *SqliteTrackReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTrackReader) Close() error {
	var rowsErr, stmtErr error
	if tr.rows != nil {
		rowsErr = tr.rows.Close()
		tr.rows = nil
	}
	if tr.samplesStmt != nil {
		stmtErr = tr.samplesStmt.Close()
		tr.samplesStmt = nil
	}
	tr.current = nil
	return errors.Join(rowsErr, stmtErr)
}
