package store

import "time"

// DispatchEvent is one journaled waypoint transition.
type DispatchEvent struct {
	ID     int64     `json:"id"`
	PlanID string    `json:"plan_id"`
	Seq    int       `json:"seq"`
	Kind   string    `json:"kind"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func (db *DB) RecordDispatchEvent(ev DispatchEvent) (int64, error) {
	res, err := db.Exec(`INSERT INTO dispatch_events (plan_id, seq, kind, x, y, error, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.PlanID, ev.Seq, ev.Kind, ev.X, ev.Y, ev.Error, formatTime(ev.At))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentDispatchEvents returns the newest events first.
func (db *DB) RecentDispatchEvents(limit int) ([]DispatchEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT id, plan_id, seq, kind, x, y, error, at FROM dispatch_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DispatchEvent
	for rows.Next() {
		var ev DispatchEvent
		var at string
		if err := rows.Scan(&ev.ID, &ev.PlanID, &ev.Seq, &ev.Kind, &ev.X, &ev.Y, &ev.Error, &at); err != nil {
			return nil, err
		}
		ev.At = parseTime(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}
