package store

import "strings"

// Opts holds configuration options for store implementations.
type Opts struct {
	// SQLiteDSN is the SQLite database file path or DSN.
	SQLiteDSN string
	// PostgresDSN is the PostgreSQL connection string.
	PostgresDSN string
}

// Option configures store options.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite DSN for the store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL DSN for the store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// DetectDSNType inspects a DSN string and reports which backend it belongs
// to. Returns "postgres", "sqlite", or "unknown".
func DetectDSNType(dsn string) string {
	if dsn == "" {
		return "unknown"
	}
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// Key/value form, e.g. "host=localhost user=enrollpipe dbname=enrollpipe".
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	if strings.HasPrefix(lower, "file:") || strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3") {
		return "sqlite"
	}
	// Bare paths default to SQLite files.
	if strings.Contains(dsn, "/") || !strings.Contains(dsn, "=") {
		return "sqlite"
	}
	return "unknown"
}
