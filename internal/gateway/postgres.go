package gateway

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/tablesync/internal/table"
)

func init() {
	Register("postgres", newPostgres)
	Register("postgresql", newPostgres)
}

// Postgres is the PostgreSQL gateway. It talks to the server through pgx
// directly so loads can use the COPY protocol.
//
// Table names are validated identifiers and are sent unquoted, so PostgreSQL
// folds their case like any hand-written statement.
type Postgres struct {
	config *pgx.ConnConfig
	logger *slog.Logger
}

func newPostgres(descriptor string, opts Options) (Gateway, error) {
	cfg, err := pgx.ParseConfig(descriptor)
	if err != nil {
		return nil, err
	}
	cfg.ConnectTimeout = opts.ConnectTimeout
	return &Postgres{config: cfg, logger: opts.Logger}, nil
}

func (p *Postgres) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, p.config.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return conn, nil
}

func closeConn(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// Export implements Gateway. Rows are read inside a read-only READ
// UNCOMMITTED transaction.
func (p *Postgres) Export(ctx context.Context, name string) (*table.Table, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadUncommitted,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("export %s: begin: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, "SELECT * FROM "+name)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]table.Column, len(fields))
	for i, fd := range fields {
		cols[i] = table.Column{Name: fd.Name, Type: p.typeName(conn, fd.DataTypeOID)}
	}
	t, err := table.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("export %s: row %d: %w", name, t.Len()+1, err)
		}
		for i, v := range values {
			values[i] = textValue(conn.TypeMap(), fields[i].DataTypeOID, v)
		}
		if err := t.AppendRow(values...); err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	p.logger.Debug("table exported", "driver", "postgres", "table", name, "rows", t.Len())
	return t, nil
}

// textValue renders json documents, arrays and bytea in PostgreSQL's own text
// form so COPY accepts them on import. Other values are returned as is.
func textValue(m *pgtype.Map, oid uint32, v any) any {
	if v == nil {
		return nil
	}
	if oid == pgtype.JSONOID || oid == pgtype.JSONBOID {
		doc, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(doc)
	}
	switch v.(type) {
	case map[string]any, []any, []byte:
		buf, err := m.Encode(oid, pgtype.TextFormatCode, v, nil)
		if err != nil || buf == nil {
			return v
		}
		return string(buf)
	}
	return v
}

func (p *Postgres) typeName(conn *pgx.Conn, oid uint32) string {
	if typ, ok := conn.TypeMap().TypeForOID(oid); ok {
		return typ.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

// Truncate implements Gateway.
func (p *Postgres) Truncate(ctx context.Context, name string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer closeConn(conn)

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE "+name); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}

	p.logger.Debug("table truncated", "driver", "postgres", "table", name)
	return nil
}

// Load implements Gateway. Each batch is sent as its own COPY FROM STDIN in
// CSV format, so the server converts text to the column types.
func (p *Postgres) Load(ctx context.Context, name string, data *table.Table) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}
	if data.IsEmpty() {
		return nil
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer closeConn(conn)

	dest, err := p.columns(ctx, conn, name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	names, err := matchColumns(data.ColumnNames(), dest)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	if col, ok := OrderHint(data); ok {
		p.logger.Debug("order hint not supported by driver, ignored", "driver", "postgres", "column", col)
	}

	start := time.Now()
	stmt := copyStatement(name, names)
	for n, batch := range data.Batches(BatchSize) {
		buf, err := encodeCopyBatch(batch)
		if err != nil {
			return fmt.Errorf("load %s: batch %d: %w", name, n+1, err)
		}
		if _, err := conn.PgConn().CopyFrom(ctx, bytes.NewReader(buf), stmt); err != nil {
			return fmt.Errorf("load %s: batch %d: %w", name, n+1, err)
		}
	}

	p.logger.Debug("table loaded",
		"driver", "postgres",
		"table", name,
		"rows", data.Len(),
		"duration", time.Since(start),
	)
	return nil
}

// columns returns the destination's column names without reading rows.
func (p *Postgres) columns(ctx context.Context, conn *pgx.Conn, name string) ([]string, error) {
	rows, err := conn.Query(ctx, "SELECT * FROM "+name+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}
	rows.Close()
	return names, rows.Err()
}

func copyStatement(name string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv)", name, strings.Join(quoted, ", "))
}

// encodeCopyBatch renders rows as COPY CSV input. Unquoted empty fields are
// NULL in this format, which is how nil and empty text arrive.
func encodeCopyBatch(rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	record := make([]string, 0)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, table.FormatValue(loadValue(v)))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
