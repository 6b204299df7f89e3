package storage

import (
	"database/sql"
)

type cycleData struct {
	SessionID  int64
	CycleID    uint64
	StartedAt  int64
	FinishedAt int64
	Outcome    string
	Error      sql.NullString
}

type sampleData struct {
	NodeID     int64
	FlightUS   int64
	DistanceCM float64
	CapturedAt int64
}

type positionData struct {
	RowID     int64 // cycles.id
	CycleID   uint64
	Timestamp int64
	X         float64
	Y         float64
	Accuracy  float64
	Valid     bool
	Outcome   string
}
