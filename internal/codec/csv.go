package codec

// csv.go reads and writes delimited text.
//
// Input is decoded on the fly: a leading byte-order mark is skipped and the
// configured character set is converted to UTF-8. For utf-8 input, invalid
// byte sequences are replaced with U+FFFD rather than failing the whole file,
// which keeps exports from legacy Windows tools readable.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/tablesync/internal/table"
)

// CSV is the delimited text codec.
type CSV struct {
	enc    encoding.Encoding
	name   string
	logger *slog.Logger
}

func newCSV(o options) (*CSV, error) {
	enc, err := htmlindex.Get(o.encoding)
	if err != nil {
		return nil, fmt.Errorf("csv encoding %q: %w", o.encoding, err)
	}
	name, _ := htmlindex.Name(enc)
	return &CSV{enc: enc, name: name, logger: o.logger}, nil
}

// Extension implements Codec.
func (c *CSV) Extension() string { return "csv" }

// Write implements Codec.
func (c *CSV) Write(path string, t *table.Table) error {
	err := writeAtomic(path, func(w io.Writer) error {
		var tw *transform.Writer
		if !c.isUTF8() {
			tw = transform.NewWriter(w, c.enc.NewEncoder())
			w = tw
		}

		cw := csv.NewWriter(w)
		if err := cw.Write(t.ColumnNames()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for i, row := range t.Rows() {
			if err := writeRecord(cw, w, table.FormatRow(row)); err != nil {
				return fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		if tw != nil {
			if err := tw.Close(); err != nil {
				return fmt.Errorf("encode %s: %w", c.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("csv write %s: %w", path, err)
	}

	c.logger.Debug("csv written", "path", path, "rows", t.Len(), "encoding", c.name)
	return nil
}

// writeRecord writes one record. A lone empty field is quoted because
// encoding/csv would emit a blank line, which readers skip.
func writeRecord(cw *csv.Writer, w io.Writer, record []string) error {
	if len(record) != 1 || record[0] != "" {
		return cw.Write(record)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\"\"\n")
	return err
}

// Read implements Codec.
func (c *CSV) Read(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv read: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(c.decode(f))
	// FieldsPerRecord = 0 pins the width to the header record.
	r.FieldsPerRecord = 0

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return table.NewText()
	}
	if err != nil {
		return nil, fmt.Errorf("csv read %s: header: %w", path, err)
	}

	t, err := table.NewText(header...)
	if err != nil {
		return nil, fmt.Errorf("csv read %s: header: %w", path, err)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && errors.Is(err, csv.ErrFieldCount) {
				return nil, fmt.Errorf("csv read %s: line %d: %w: got %d, want %d",
					path, pe.StartLine, ErrFieldCount, len(record), len(header))
			}
			return nil, fmt.Errorf("csv read %s: %w", path, err)
		}

		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		if err := t.AppendRow(row...); err != nil {
			return nil, fmt.Errorf("csv read %s: %w", path, err)
		}
	}

	c.logger.Debug("csv read", "path", path, "rows", t.Len(), "encoding", c.name)
	return t, nil
}

// decode wraps r so it yields UTF-8 with any byte-order mark removed.
func (c *CSV) decode(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(c.enc.NewDecoder()))
}

func (c *CSV) isUTF8() bool {
	return c.name == "utf-8"
}
