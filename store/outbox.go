package store

import (
	"fmt"
	"time"
)

// OutboxMessage is an envelope parked after a failed publish.
type OutboxMessage struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"-"`
	MsgType   string     `json:"msg_type"`
	PartnerID string     `json:"partner_id"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType, partnerID string) error {
	_, err := db.Exec(db.Q(`INSERT INTO outbox (topic, payload, msg_type, partner_id) VALUES (?, ?, ?, ?)`),
		topic, payload, msgType, partnerID)
	return err
}

func (db *DB) ListPendingOutbox(limit int) ([]*OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, payload, msg_type, partner_id, retries, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt, sentAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.PartnerID, &m.Retries, &createdAt, &sentAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		m.SentAt = parseTimePtr(sentAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) CountPendingOutbox() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}

func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(db.Q(fmt.Sprintf(`UPDATE outbox SET sent_at=%s WHERE id=?`, db.dialect.Now())), id)
	return err
}

func (db *DB) IncrementOutboxRetries(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}
