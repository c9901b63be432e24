package store

import (
	"time"
)

// AuditEntry is one row of the audit log. Entity ids are the normalised
// keys of the roaming domain, or an adapter id for adapter-level events.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

const auditColumns = `id, entity_type, entity_id, action, old_value, new_value, actor, created_at`

func (db *DB) AppendAudit(entityType, entityID, action, oldValue, newValue, actor string) error {
	_, err := db.Exec(db.Q(`INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor) VALUES (?, ?, ?, ?, ?, ?)`),
		entityType, entityID, action, oldValue, newValue, actor)
	return err
}

// ListAuditLog returns the newest limit entries across all entities.
func (db *DB) ListAuditLog(limit int) ([]*AuditEntry, error) {
	return db.selectAudit(`ORDER BY id DESC LIMIT ?`, limit)
}

// ListEntityAudit returns the full history of one entity, newest first.
func (db *DB) ListEntityAudit(entityType, entityID string) ([]*AuditEntry, error) {
	return db.selectAudit(`WHERE entity_type=? AND entity_id=? ORDER BY id DESC`, entityType, entityID)
}

func (db *DB) selectAudit(clause string, args ...any) ([]*AuditEntry, error) {
	rows, err := db.Query(db.Q(`SELECT `+auditColumns+` FROM audit_log `+clause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		e := &AuditEntry{}
		var ts any
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.OldValue, &e.NewValue, &e.Actor, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
