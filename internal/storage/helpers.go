package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/ranging"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/track"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError rolls the transaction back unless it was committed.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toNullString(v any) (ns sql.NullString, err error) {
	switch v := v.(type) {
	case nil:
	case string:
		ns = sql.NullString{String: v, Valid: true}
	case []byte:
		ns = sql.NullString{String: string(v), Valid: true}
	default:
		var p []byte
		if p, err = json.Marshal(v); err != nil {
			return ns, fmt.Errorf("marshaling value: %w", err)
		}
		ns = sql.NullString{String: string(p), Valid: true}
	}
	return
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func toCycleData(sessionID int64, r *cycle.Report) *cycleData {
	var errMsg sql.NullString
	if r.Error != "" {
		errMsg = sql.NullString{String: r.Error, Valid: true}
	}

	return &cycleData{
		SessionID:  sessionID,
		CycleID:    r.CycleID,
		StartedAt:  toMicros(r.StartedAt),
		FinishedAt: toMicros(r.FinishedAt),
		Outcome:    string(r.Outcome),
		Error:      errMsg,
	}
}

func toSampleData(s ranging.Sample) *sampleData {
	return &sampleData{
		NodeID:     int64(s.Node),
		FlightUS:   s.Flight.Microseconds(),
		DistanceCM: s.DistanceCM,
		CapturedAt: toMicros(s.CapturedAt),
	}
}

func (d *sampleData) toSample() track.Sample {
	return track.Sample{
		NodeID:     int(d.NodeID),
		FlightUS:   d.FlightUS,
		DistanceCM: d.DistanceCM,
		CapturedAt: fromMicros(d.CapturedAt),
	}
}

func (d *positionData) toPoint() *track.Point {
	return &track.Point{
		CycleID:   d.CycleID,
		Timestamp: fromMicros(d.Timestamp),
		X:         d.X,
		Y:         d.Y,
		Accuracy:  d.Accuracy,
		Valid:     d.Valid,
		Outcome:   d.Outcome,
	}
}

func scanSession(row interface{ Scan(...any) error }) (*track.Session, error) {
	var sess track.Session
	var layout sql.NullString
	if err := row.Scan(&sess.ID, &sess.StartTime, &sess.RunID, &layout); err != nil {
		return nil, err
	}
	if layout.Valid {
		sess.Layout = &layout.String
	}
	return &sess, nil
}
