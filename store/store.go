// Package store persists the audit trail, the flush-run history, the bus
// outbox and the web admin users in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"wwcpsync/config"
)

type DB struct {
	*sql.DB
	dialect Dialect
}

func Open(cfg *config.DatabaseConfig) (*DB, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(d.sqlDriver(), d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	if n := d.maxOpenConns(); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	db := &DB{DB: sqlDB, dialect: d}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.Name(), err)
	}
	return db, nil
}

func (db *DB) Dialect() Dialect { return db.dialect }
func (db *DB) Driver() string   { return db.dialect.Name() }

// Q rewrites placeholders and the datetime literal for the open backend.
func (db *DB) Q(query string) string {
	if _, ok := db.dialect.(postgresDialect); !ok {
		return query
	}
	return Rebind(strings.ReplaceAll(query, sqliteNow, db.dialect.Now()))
}

// Healthy pings the database with ctx.
func (db *DB) Healthy(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", db.Driver(), err)
	}
	return nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(db.dialect.schema())
	return err
}
