package store

import (
	"fmt"
	"strings"
	"time"

	"wwcpsync/config"
)

// Dialect hides the SQL differences between the supported backends. Queries
// are written with ? placeholders and SQLite's datetime('now') and rewritten
// by Q.
type Dialect interface {
	Name() string
	sqlDriver() string
	dsn(cfg *config.DatabaseConfig) string
	schema() string
	// maxOpenConns is 0 for no limit.
	maxOpenConns() int
	Placeholder(n int) string
	Now() string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string      { return "sqlite" }
func (sqliteDialect) sqlDriver() string { return "sqlite" }
func (sqliteDialect) schema() string    { return schemaSQLite }
func (sqliteDialect) maxOpenConns() int { return 1 }

func (sqliteDialect) dsn(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", cfg.SQLite.Path)
}

func (sqliteDialect) Placeholder(_ int) string { return "?" }
func (sqliteDialect) Now() string             { return sqliteNow }

type postgresDialect struct{}

func (postgresDialect) Name() string      { return "postgres" }
func (postgresDialect) sqlDriver() string { return "pgx" }
func (postgresDialect) schema() string    { return schemaPostgres }
func (postgresDialect) maxOpenConns() int { return 0 }

func (postgresDialect) dsn(cfg *config.DatabaseConfig) string {
	p := cfg.Postgres
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) Now() string             { return "NOW()" }

const sqliteNow = "datetime('now','localtime')"

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", driver)
}

// parseTime converts a scanned timestamp: SQLite yields strings in several
// layouts, Postgres yields time.Time.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999-07:00",
}

func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, part := range strings.SplitAfter(query, "?") {
		if !strings.HasSuffix(part, "?") {
			b.WriteString(part)
			continue
		}
		n++
		b.WriteString(part[:len(part)-1])
		b.WriteString(postgresDialect{}.Placeholder(n))
	}
	return b.String()
}
