package store

import (
	"database/sql"
	"errors"
	"time"
)

// FlushRun is the persisted outcome of one executed flush.
type FlushRun struct {
	ID         int64     `json:"id"`
	AdapterID  string    `json:"adapter_id"`
	Cycle      string    `json:"cycle"`
	RunID      uint64    `json:"run_id"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RuntimeMS  int64     `json:"runtime_ms"`
	Error      string    `json:"error,omitempty"`
}

// RecordFlushRun inserts r and sets r.ID.
func (db *DB) RecordFlushRun(r *FlushRun) error {
	query := `INSERT INTO flush_runs (adapter_id, cycle, run_id, state, started_at, finished_at, runtime_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{r.AdapterID, r.Cycle, int64(r.RunID), r.State, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.RuntimeMS, r.Error}
	if db.Driver() == "postgres" {
		return db.QueryRow(db.Q(query+` RETURNING id`), args...).Scan(&r.ID)
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ListFlushRuns returns the newest runs first; an empty adapterID lists all adapters.
func (db *DB) ListFlushRuns(adapterID string, limit int) ([]*FlushRun, error) {
	query := `SELECT id, adapter_id, cycle, run_id, state, started_at, finished_at, runtime_ms, error FROM flush_runs`
	var args []any
	if adapterID != "" {
		query += ` WHERE adapter_id=?`
		args = append(args, adapterID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []*FlushRun
	for rows.Next() {
		r, err := scanFlushRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastFlushRun returns nil, nil when the cycle never ran.
func (db *DB) LastFlushRun(adapterID, cycle string) (*FlushRun, error) {
	row := db.QueryRow(db.Q(`SELECT id, adapter_id, cycle, run_id, state, started_at, finished_at, runtime_ms, error FROM flush_runs WHERE adapter_id=? AND cycle=? ORDER BY id DESC LIMIT 1`), adapterID, cycle)
	r, err := scanFlushRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFlushRun(s scanner) (*FlushRun, error) {
	var r FlushRun
	var runID int64
	var started, finished any
	if err := s.Scan(&r.ID, &r.AdapterID, &r.Cycle, &runID, &r.State, &started, &finished, &r.RuntimeMS, &r.Error); err != nil {
		return nil, err
	}
	r.RunID = uint64(runID)
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return &r, nil
}
