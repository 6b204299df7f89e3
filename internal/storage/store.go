package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/track"
)

// Store provides an interface for persisting positioning sessions and their cycles.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession starts a new positioning session and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - runID: Unique identifier of the positioner run
	//   - layout: Optional anchor layout. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, runID string, layout any) (sessionID int64, err error)

	// Session retrieves a session by its ID.
	Session(ctx context.Context, id int64) (session *track.Session, err error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) (sessions []*track.Session, err error)

	// StoreCycle saves a finished measurement cycle: the cycle outcome, every collected
	// sample and the computed position, if any, in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session this cycle belongs to
	//   - report: Cycle report produced by the coordinator
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreCycle(ctx context.Context, sessionID int64, report *cycle.Report) error

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}

// TrackReader iterates over the positions stored for a session in time order.
type TrackReader interface {
	// Session returns metadata about the session this reader is accessing.
	Session() *track.Session

	// Next advances the iterator and returns true if there is another point
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current point in the iteration.
	Current() *track.Point

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}
