package store

import "time"

// OutboxMessage is a queued outbound message.
type OutboxMessage struct {
	ID        int64  `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Retries   int    `json:"retries"`
	CreatedAt string `json:"created_at"`
}

func (db *DB) EnqueueOutbox(topic string, payload []byte) (int64, error) {
	res, err := db.Exec(`INSERT INTO outbox (topic, payload, created_at) VALUES (?, ?, ?)`, topic, payload, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) ListPendingOutbox(limit int) ([]OutboxMessage, error) {
	rows, err := db.Query(`SELECT id, topic, payload, retries, created_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Retries, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckOutbox(id int64) error {
	return db.execOne(`UPDATE outbox SET sent_at = ? WHERE id = ?`, formatTime(time.Now()), id)
}

func (db *DB) IncrementOutboxRetries(id int64) error {
	return db.execOne(`UPDATE outbox SET retries = retries + 1 WHERE id = ?`, id)
}

// PruneOutbox deletes sent messages older than before.
func (db *DB) PruneOutbox(before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
