package gateway

// sqldb.go holds the database/sql implementation shared by the SQL Server,
// SQLite and DuckDB drivers. Dialect differences are captured in sqlDialect;
// the bulk-load strategy is supplied per driver.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/tablesync/internal/table"
)

type sqlDialect struct {
	name string

	// quote quotes a single identifier.
	quote func(ident string) string

	// placeholder returns the bind parameter for position n (1-based).
	placeholder func(n int) string

	// exportPrelude runs on the export connection before the select.
	exportPrelude []string

	// exportHint is appended to SELECT * FROM <table>.
	exportHint string

	// truncate is the statement prefix that empties a table.
	truncate string

	// exportValue, when set, converts a scanned value of the given declared
	// type into the form written to files.
	exportValue func(v any, dbType string) any
}

func (d sqlDialect) quoteTable(name string) string {
	schema, tbl := splitTableName(name)
	if schema == "" {
		return d.quote(tbl)
	}
	return d.quote(schema) + "." + d.quote(tbl)
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func questionMark(int) string { return "?" }

// loadFunc appends data to the quoted table over conn.
type loadFunc func(ctx context.Context, conn *sql.Conn, quoted string, data *table.Table) error

type sqlGateway struct {
	dialect sqlDialect
	open    func() (*sql.DB, error)
	timeout time.Duration
	logger  *slog.Logger
	load    loadFunc
}

// connect opens a database handle and pins a single connection so session
// settings apply to every statement of the operation.
func (g *sqlGateway) connect(ctx context.Context) (*sql.Conn, func(), error) {
	db, err := g.open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", g.dialect.name, err)
	}

	cctx, cancel := connectContext(ctx, g.timeout)
	defer cancel()

	conn, err := db.Conn(cctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect %s: %w", g.dialect.name, err)
	}

	return conn, func() {
		_ = conn.Close()
		_ = db.Close()
	}, nil
}

// Export implements Gateway.
func (g *sqlGateway) Export(ctx context.Context, name string) (*table.Table, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}

	conn, done, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	for _, stmt := range g.dialect.exportPrelude {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("export %s: %s: %w", name, stmt, err)
		}
	}

	query := "SELECT * FROM " + g.dialect.quoteTable(name) + g.dialect.exportHint
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	t, err := scanTable(rows, g.dialect.exportValue)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	g.logger.Debug("table exported", "driver", g.dialect.name, "table", name, "rows", t.Len())
	return t, nil
}

// Truncate implements Gateway.
func (g *sqlGateway) Truncate(ctx context.Context, name string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}

	conn, done, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := conn.ExecContext(ctx, g.dialect.truncate+" "+g.dialect.quoteTable(name)); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}

	g.logger.Debug("table truncated", "driver", g.dialect.name, "table", name)
	return nil
}

// Load implements Gateway.
func (g *sqlGateway) Load(ctx context.Context, name string, data *table.Table) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}
	if data.IsEmpty() {
		return nil
	}

	conn, done, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	start := time.Now()
	if err := g.load(ctx, conn, g.dialect.quoteTable(name), data); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	g.logger.Debug("table loaded",
		"driver", g.dialect.name,
		"table", name,
		"rows", data.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// scanTable reads a result set into a table, keeping column order and the
// database's declared type names. convert may be nil.
func scanTable(rows *sql.Rows, convert func(v any, dbType string) any) (*table.Table, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	cols := make([]table.Column, len(types))
	for i, ct := range types {
		cols[i] = table.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}
	t, err := table.New(cols...)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", t.Len()+1, err)
		}
		if convert != nil {
			for i, v := range values {
				values[i] = convert(v, cols[i].Type)
			}
		}
		if err := t.AppendRow(values...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return t, nil
}

// insertLoader returns a loadFunc that runs a prepared INSERT per row,
// committing once per batch.
func insertLoader(d sqlDialect, logger *slog.Logger) loadFunc {
	return func(ctx context.Context, conn *sql.Conn, quoted string, data *table.Table) error {
		if col, ok := OrderHint(data); ok {
			logger.Debug("order hint not supported by driver, ignored", "driver", d.name, "column", col)
		}

		names := data.ColumnNames()
		cols := make([]string, len(names))
		marks := make([]string, len(names))
		for i, n := range names {
			cols[i] = d.quote(n)
			marks[i] = d.placeholder(i + 1)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoted, strings.Join(cols, ", "), strings.Join(marks, ", "))

		for n, batch := range data.Batches(BatchSize) {
			if err := insertBatch(ctx, conn, insert, batch); err != nil {
				return fmt.Errorf("batch %d: %w", n+1, err)
			}
		}
		return nil
	}
}

func insertBatch(ctx context.Context, conn *sql.Conn, insert string, batch [][]any) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, 0)
	for _, row := range batch {
		args = args[:0]
		for _, v := range row {
			args = append(args, loadValue(v))
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
