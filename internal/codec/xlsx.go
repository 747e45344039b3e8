package codec

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tablesync/internal/table"
)

// MaxSheetNameLength is the longest sheet name spreadsheet applications accept.
const MaxSheetNameLength = excelize.MaxSheetNameLength

// XLSX is the spreadsheet codec. Files hold a single worksheet named after
// the file.
type XLSX struct {
	logger *slog.Logger
}

// Extension implements Codec.
func (x *XLSX) Extension() string { return "xlsx" }

// Write implements Codec. An empty table produces no file.
func (x *XLSX) Write(path string, t *table.Table) error {
	if t.IsEmpty() {
		x.logger.Debug("xlsx write skipped, table is empty", "path", path)
		return nil
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(path)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("xlsx write %s: %w", path, err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("xlsx write %s: %w", path, err)
	}

	header := make([]interface{}, len(t.Columns()))
	for i, name := range t.ColumnNames() {
		header[i] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("xlsx write %s: header: %w", path, err)
	}

	for i, row := range t.Rows() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx write %s: %w", path, err)
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("xlsx write %s: row %d: %w", path, i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx write %s: %w", path, err)
	}

	err = writeAtomic(path, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("xlsx write %s: %w", path, err)
	}

	x.logger.Debug("xlsx written", "path", path, "sheet", sheet, "rows", t.Len())
	return nil
}

// Read implements Codec. The first worksheet is read; its first row holds the
// column names. Cells are placed by their column number, so a row with
// trailing empty cells yields nil for the missing values. Empty cells read
// as nil. Empty rows inside the data read as all-nil rows; empty rows after
// the last data row are dropped.
func (x *XLSX) Read(path string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsx read: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return table.NewText()
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("xlsx read %s: %w", path, err)
	}
	defer rows.Close()

	var t *table.Table
	line, blank := 0, 0
	for rows.Next() {
		line++
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("xlsx read %s: row %d: %w", path, line, err)
		}

		if t == nil {
			names := trimTrailingEmpty(cells)
			if len(names) == 0 {
				continue
			}
			if t, err = table.NewText(names...); err != nil {
				return nil, fmt.Errorf("xlsx read %s: header: %w", path, err)
			}
			continue
		}

		cells = trimTrailingEmpty(cells)
		if len(cells) == 0 {
			blank++
			continue
		}
		width := len(t.Columns())
		if len(cells) > width {
			return nil, fmt.Errorf("xlsx read %s: row %d: %w: got %d, want %d",
				path, line, ErrFieldCount, len(cells), width)
		}

		// Empty rows between data rows are all-null records.
		for ; blank > 0; blank-- {
			if err := t.AppendRow(make([]any, width)...); err != nil {
				return nil, fmt.Errorf("xlsx read %s: row %d: %w", path, line-blank, err)
			}
		}

		row := make([]any, width)
		for i, v := range cells {
			if v != "" {
				row[i] = v
			}
		}
		if err := t.AppendRow(row...); err != nil {
			return nil, fmt.Errorf("xlsx read %s: row %d: %w", path, line, err)
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("xlsx read %s: %w", path, err)
	}

	if t == nil {
		return table.NewText()
	}

	x.logger.Debug("xlsx read", "path", path, "sheet", sheets[0], "rows", t.Len())
	return t, nil
}

// SheetName derives a worksheet name from a file path: the base name without
// extension, stripped of characters not allowed in sheet names and cut to
// MaxSheetNameLength characters. Names may not start or end with a quote.
func SheetName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return -1
		}
		return r
	}, base)

	if runes := []rune(name); len(runes) > MaxSheetNameLength {
		name = string(runes[:MaxSheetNameLength])
	}
	name = strings.Trim(name, "'")
	if name == "" {
		return "Sheet1"
	}
	return name
}

// cellValue keeps numbers numeric so spreadsheet applications can compute
// with them; everything else is written as its text form.
func cellValue(v any) interface{} {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case nil:
		return nil
	default:
		return table.FormatValue(v)
	}
}

func trimTrailingEmpty(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}
