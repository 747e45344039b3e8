package gateway

// embedded.go registers the file-backed databases: SQLite and DuckDB.

import (
	"database/sql"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // sqlite driver
)

func init() {
	Register("sqlite", newSQLite)
	Register("sqlite3", newSQLite)
	Register("file", newSQLite)
	Register("duckdb", newDuckDB)
}

var sqliteDialect = sqlDialect{
	name:          "sqlite",
	quote:         doubleQuote,
	placeholder:   questionMark,
	exportPrelude: []string{"PRAGMA read_uncommitted = 1"},
	truncate:      "DELETE FROM",
}

var duckdbDialect = sqlDialect{
	name:        "duckdb",
	quote:       doubleQuote,
	placeholder: questionMark,
	truncate:    "TRUNCATE TABLE",
}

// sqlitePath converts a descriptor into a modernc DSN.
// sqlite:///abs/app.db and sqlite://rel.db name files; file: URIs pass
// through unchanged.
func sqlitePath(descriptor string) string {
	if strings.HasPrefix(strings.ToLower(descriptor), "file:") {
		return descriptor
	}
	_, path, _ := strings.Cut(descriptor, "://")
	return path
}

func newSQLite(descriptor string, opts Options) (Gateway, error) {
	dsn := sqlitePath(descriptor)
	return &sqlGateway{
		dialect: sqliteDialect,
		open:    func() (*sql.DB, error) { return sql.Open("sqlite", dsn) },
		timeout: opts.ConnectTimeout,
		logger:  opts.Logger,
		load:    insertLoader(sqliteDialect, opts.Logger),
	}, nil
}

// newDuckDB opens duckdb:///path/to/file.duckdb. An empty path is an
// in-memory database that lives for one operation, useful only in tests.
func newDuckDB(descriptor string, opts Options) (Gateway, error) {
	_, dsn, _ := strings.Cut(descriptor, "://")
	return &sqlGateway{
		dialect: duckdbDialect,
		open:    func() (*sql.DB, error) { return sql.Open("duckdb", dsn) },
		timeout: opts.ConnectTimeout,
		logger:  opts.Logger,
		load:    insertLoader(duckdbDialect, opts.Logger),
	}, nil
}
