package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// DefaultAlarmEventLimit caps RecentAlarmEvents when no limit is given.
const DefaultAlarmEventLimit = 100

// AlarmEvent is one alarm raise or reset.
type AlarmEvent struct {
	EventID string       `json:"event_id"`
	Kind    string       `json:"kind"`
	Time    time.Time    `json:"time"`
	Points  []grid.Point `json:"points"`
}

// RecordAlarmEvent stores ev. If ev.EventID is empty, a new UUID is
// generated.
func (db *DB) RecordAlarmEvent(ev *AlarmEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	points := ev.Points
	if points == nil {
		points = []grid.Point{}
	}
	pointsJSON, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("marshal alarm points: %w", err)
	}
	_, err = db.Exec(`INSERT INTO alarm_events (event_id, kind, time_ns, points_json) VALUES (?, ?, ?, ?)`,
		ev.EventID, ev.Kind, ev.Time.UnixNano(), string(pointsJSON))
	if err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}
	return nil
}

// RecentAlarmEvents returns up to limit events, newest first.
func (db *DB) RecentAlarmEvents(limit int) ([]AlarmEvent, error) {
	if limit <= 0 {
		limit = DefaultAlarmEventLimit
	}
	rows, err := db.Query(`
		SELECT event_id, kind, time_ns, points_json
		FROM alarm_events
		ORDER BY time_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alarm events: %w", err)
	}
	defer rows.Close()

	events := []AlarmEvent{}
	for rows.Next() {
		var (
			ev         AlarmEvent
			timeNs     int64
			pointsJSON string
		)
		if err := rows.Scan(&ev.EventID, &ev.Kind, &timeNs, &pointsJSON); err != nil {
			return nil, fmt.Errorf("scan alarm event: %w", err)
		}
		ev.Time = time.Unix(0, timeNs).UTC()
		if err := json.Unmarshal([]byte(pointsJSON), &ev.Points); err != nil {
			return nil, fmt.Errorf("decode points of %s: %w", ev.EventID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
