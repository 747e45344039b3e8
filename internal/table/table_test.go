package table

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNew_RejectsDuplicateColumns(t *testing.T) {
	_, err := NewText("id", "amount", "id")
	if err == nil {
		t.Fatal("NewText() expected error for duplicate column")
	}
}

func TestNew_RejectsEmptyColumnName(t *testing.T) {
	_, err := NewText("id", "")
	if err == nil {
		t.Fatal("NewText() expected error for empty column name")
	}
}

func TestAppendRow_WidthMismatch(t *testing.T) {
	tbl, err := NewText("id", "amount")
	if err != nil {
		t.Fatalf("NewText() error = %v", err)
	}

	if err := tbl.AppendRow("1"); !errors.Is(err, ErrRowWidth) {
		t.Errorf("AppendRow(short) error = %v, want ErrRowWidth", err)
	}
	if err := tbl.AppendRow("1", "2", "3"); !errors.Is(err, ErrRowWidth) {
		t.Errorf("AppendRow(long) error = %v, want ErrRowWidth", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after rejected rows", tbl.Len())
	}
}

func TestAppendRow_CopiesValues(t *testing.T) {
	tbl, _ := NewText("a")
	row := []any{"x"}
	if err := tbl.AppendRow(row...); err != nil {
		t.Fatalf("AppendRow() error = %v", err)
	}
	row[0] = "changed"

	if got := tbl.Rows()[0][0]; got != "x" {
		t.Errorf("stored value = %v, want %q", got, "x")
	}
}

func TestIsEmpty(t *testing.T) {
	var nilTable *Table
	if !nilTable.IsEmpty() {
		t.Error("nil table should be empty")
	}

	tbl, _ := NewText("id")
	if !tbl.IsEmpty() {
		t.Error("table without rows should be empty")
	}

	_ = tbl.AppendRow("1")
	if tbl.IsEmpty() {
		t.Error("table with a row should not be empty")
	}
}

func TestColumnIndex_CaseInsensitive(t *testing.T) {
	tbl, _ := New(Column{Name: "Name", Type: "varchar"}, Column{Name: "ID", Type: "int"})

	tests := []struct {
		name string
		want int
	}{
		{"id", 1},
		{"ID", 1},
		{"name", 0},
		{"missing", -1},
	}
	for _, tt := range tests {
		if got := tbl.ColumnIndex(tt.name); got != tt.want {
			t.Errorf("ColumnIndex(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	a, _ := NewText("id", "amount")
	b, _ := NewText("id", "amount")
	_ = a.AppendRow("1", "10")
	_ = b.AppendRow("1", "10")

	if !a.Equal(b) {
		t.Error("identical tables should be equal")
	}

	_ = b.AppendRow("2", "20")
	if a.Equal(b) {
		t.Error("tables with different rows should not be equal")
	}

	c, _ := NewText("amount", "id")
	if a.Equal(c) {
		t.Error("column order must be significant")
	}
}

func TestBatches(t *testing.T) {
	tbl, _ := NewText("n")
	for i := 0; i < 5; i++ {
		_ = tbl.AppendRow(FormatValue(i))
	}

	batches := tbl.Batches(2)
	if len(batches) != 3 {
		t.Fatalf("Batches(2) returned %d batches, want 3", len(batches))
	}
	if len(batches[2]) != 1 {
		t.Errorf("last batch size = %d, want 1", len(batches[2]))
	}

	if got := len(tbl.Batches(0)); got != 1 {
		t.Errorf("Batches(0) returned %d batches, want 1", got)
	}
}

func TestFormatValue(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bytes", []byte("12.50"), "12.50"},
		{"bool", true, "true"},
		{"int64", int64(-42), "-42"},
		{"int32", int32(7), "7"},
		{"uint8", uint8(255), "255"},
		{"float64 no exponent", 1e21, "1000000000000000000000"},
		{"float64 fraction", 0.1, "0.1"},
		{"float32", float32(2.5), "2.5"},
		{"nan", math.NaN(), "NaN"},
		{"date only", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), "2024-03-09"},
		{"datetime", time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC), "2024-03-09 14:05:06"},
		{"datetime fraction", time.Date(2024, 3, 9, 14, 5, 6, 500000000, time.UTC), "2024-03-09 14:05:06.5"},
		{"datetime offset", time.Date(2024, 3, 9, 14, 5, 6, 0, time.FixedZone("", 2*3600)), "2024-03-09 14:05:06+02:00"},
		{"zero time", time.Time{}, ""},
		{"uuid array", [16]byte(id), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"uuid", id, "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"json object", map[string]any{"b": []any{"x"}, "a": float64(1)}, `{"a":1,"b":["x"]}`},
		{"json array", []any{float64(1), "two", nil}, `[1,"two",null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.value); got != tt.want {
				t.Errorf("FormatValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestFormatRow(t *testing.T) {
	got := FormatRow([]any{int64(1), nil, "x"})
	want := []string{"1", "", "x"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FormatRow()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseTime_InvertsFormatValue(t *testing.T) {
	values := []time.Time{
		time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC),
		time.Date(2024, 3, 9, 14, 5, 6, 500000000, time.UTC),
		time.Date(2024, 3, 9, 14, 5, 6, 0, time.FixedZone("", 2*3600)),
	}

	for _, want := range values {
		text := FormatValue(want)
		got, err := ParseTime(text)
		if err != nil {
			t.Errorf("ParseTime(%q) error = %v", text, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", text, got, want)
		}
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(\"yesterday\") expected error")
	}
}
