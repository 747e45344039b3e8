// Package codec reads and writes tables as files.
//
// Two formats are supported: delimited text (CSV) and spreadsheet (xlsx).
// Every codec writes a header row holding the column names followed by one
// line per row, and reads files of that shape back into a table.Table whose
// columns are all of type table.TextType.
//
// A missing input file is a precondition checked by callers, not a codec
// concern: Read on a missing path returns the underlying fs error.
package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/table"
)

// ErrFieldCount is returned when a record has a different number of fields
// than the header.
var ErrFieldCount = errors.New("wrong number of fields")

// Codec reads and writes one file format.
type Codec interface {
	// Extension returns the file extension without the leading dot.
	Extension() string

	// Write stores t at path, replacing any existing file.
	Write(path string, t *table.Table) error

	// Read loads the file at path. The first record supplies the columns.
	Read(path string) (*table.Table, error)
}

type options struct {
	encoding string
	logger   *slog.Logger
}

// Option configures a codec.
type Option func(*options)

// WithEncoding sets the character set of CSV files. Any WHATWG label is
// accepted (utf-8, windows-1252, latin1, shift_jis...). Ignored by xlsx.
func WithEncoding(name string) Option {
	return func(o *options) {
		o.encoding = name
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// For returns the codec for a file format.
func For(format config.FileFormat, opts ...Option) (Codec, error) {
	o := options{
		encoding: "utf-8",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch format {
	case config.FormatCSV:
		return newCSV(o)
	case config.FormatXLSX:
		return &XLSX{logger: o.logger}, nil
	default:
		return nil, fmt.Errorf("unsupported file format %q", format)
	}
}

// writeAtomic writes a file through a temporary file in the same folder and
// renames it into place, so readers never observe a partial file and an
// existing file is replaced in full.
func writeAtomic(path string, write func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
