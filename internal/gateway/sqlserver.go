package gateway

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/JonMunkholm/tablesync/internal/table"
)

func init() {
	Register("sqlserver", newSQLServer)
}

var sqlServerDialect = sqlDialect{
	name:        "sqlserver",
	quote:       bracketQuote,
	placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	exportHint:  " WITH (NOLOCK)",
	truncate:    "TRUNCATE TABLE",
	exportValue: exportSQLServer,
}

func bracketQuote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func newSQLServer(descriptor string, opts Options) (Gateway, error) {
	return newSQLServerGateway(func() (*sql.DB, error) {
		return sql.Open("sqlserver", descriptor)
	}, opts), nil
}

func newSQLServerGateway(open func() (*sql.DB, error), opts Options) *sqlGateway {
	return &sqlGateway{
		dialect: sqlServerDialect,
		open:    open,
		timeout: opts.ConnectTimeout,
		logger:  opts.Logger,
		load:    bulkCopyLoader(opts.Logger),
	}
}

// bulkCopyLoader streams rows through the TDS bulk-load protocol.
// File columns are mapped onto the destination's columns by name and
// converted to the destination's types. When the data has an id column the
// load carries an ORDER hint on it.
func bulkCopyLoader(logger *slog.Logger) loadFunc {
	return func(ctx context.Context, conn *sql.Conn, quoted string, data *table.Table) (err error) {
		dest, err := destinationColumns(ctx, conn, quoted)
		if err != nil {
			return err
		}

		destNames := make([]string, len(dest))
		for i, c := range dest {
			destNames[i] = c.Name
		}
		names, err := matchColumns(data.ColumnNames(), destNames)
		if err != nil {
			return err
		}
		types := make([]string, len(names))
		for i, n := range names {
			for _, c := range dest {
				if c.Name == n {
					types[i] = c.Type
				}
			}
		}

		opts := mssql.BulkOptions{
			RowsPerBatch: BatchSize,
			KeepNulls:    true,
		}
		if col, ok := OrderHint(data); ok {
			idCol := names[data.ColumnIndex(col)]
			opts.Order = []string{bracketQuote(idCol) + " ASC"}
			logger.Debug("bulk copy ordered", "column", idCol)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(quoted, opts, names...))
		if err != nil {
			return fmt.Errorf("prepare bulk copy: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		args := make([]any, len(names))
		for r, row := range data.Rows() {
			for i, v := range row {
				if args[i], err = coerceSQLServer(v, types[i]); err != nil {
					return fmt.Errorf("row %d column %s: %w", r+1, names[i], err)
				}
			}
			if _, err = stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("row %d: %w", r+1, err)
			}
		}

		// An Exec without arguments flushes the bulk load.
		if _, err = stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flush bulk copy: %w", err)
		}
		return tx.Commit()
	}
}

// destinationColumns returns the columns of a table without reading rows.
func destinationColumns(ctx context.Context, conn *sql.Conn, quoted string) ([]table.Column, error) {
	rows, err := conn.QueryContext(ctx, "SELECT TOP 0 * FROM "+quoted)
	if err != nil {
		return nil, fmt.Errorf("read destination columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	t, err := scanTable(rows, nil)
	if err != nil {
		return nil, fmt.Errorf("read destination columns: %w", err)
	}
	return t.Columns(), nil
}

// coerceSQLServer converts file text into the Go type the bulk-load encoder
// expects for the destination column type. Types not listed travel as text
// and are converted by the server.
func coerceSQLServer(v any, dbType string) (any, error) {
	v = loadValue(v)
	s, ok := v.(string)
	if !ok {
		return v, nil
	}

	switch strings.ToUpper(dbType) {
	case "INT", "BIGINT", "SMALLINT", "TINYINT":
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case "BIT":
		return strconv.ParseBool(strings.TrimSpace(s))
	case "FLOAT", "REAL":
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET":
		return table.ParseTime(strings.TrimSpace(s))
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(strings.TrimSpace(s)); err != nil {
			return nil, err
		}
		// Bulk copy takes the wire byte order.
		return id.Value()
	case "VARBINARY", "BINARY", "IMAGE":
		return parseBinary(s)
	default:
		return s, nil
	}
}

// exportSQLServer gives binary and GUID columns a text form. The driver
// returns both as raw bytes; other []byte values (DECIMAL, MONEY) are
// already text.
func exportSQLServer(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err != nil {
			return v
		}
		return id.String()
	case "VARBINARY", "BINARY", "IMAGE":
		return formatBinary(b)
	}
	return v
}

// formatBinary writes bytes as a SQL Server binary literal: 0x + upper hex.
func formatBinary(b []byte) string {
	return "0x" + strings.ToUpper(hex.EncodeToString(b))
}

// parseBinary reads the output of formatBinary. The 0x prefix is optional.
func parseBinary(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid binary literal: %w", err)
	}
	return b, nil
}
