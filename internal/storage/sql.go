package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      run_id,
                      layout)
VALUES (CURRENT_TIMESTAMP, ?, ?)`

	selectSessionSQL = `
SELECT id,
       start_time,
       run_id,
       layout
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       start_time,
       run_id,
       layout
FROM sessions
ORDER BY start_time, id`

	insertCycleSQL = `
INSERT INTO cycles (session_id,
                    cycle_id,
                    started_at,
                    finished_at,
                    outcome,
                    error)
VALUES (?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
INSERT INTO samples (cycle_id,
                     node_id,
                     flight_us,
                     distance_cm,
                     captured_at)
VALUES `

	insertPositionSQL = `
INSERT INTO positions (session_id,
                       cycle_id,
                       timestamp,
                       x,
                       y,
                       accuracy,
                       valid)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectTrackBoundsSQL = `
SELECT COALESCE(MIN(timestamp), 0),
       COALESCE(MAX(timestamp), 0)
FROM positions
WHERE session_id = ?`

	selectTrackSQL = `
SELECT p.cycle_id,
       c.cycle_id,
       p.timestamp,
       p.x,
       p.y,
       p.accuracy,
       p.valid,
       c.outcome
FROM positions p
         JOIN cycles c ON c.id = p.cycle_id
WHERE p.session_id = ?
  AND p.timestamp BETWEEN ? AND ?
  AND (? = 0 OR p.valid = 1)
ORDER BY p.timestamp, p.id`

	selectCycleSamplesSQL = `
SELECT node_id,
       flight_us,
       distance_cm,
       captured_at
FROM samples
WHERE cycle_id = ?
ORDER BY id`
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed indexes.sql
var initIndexesSQL string
