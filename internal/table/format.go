package table

// format.go converts database values to the culture-invariant text written
// into files.
//
// Database drivers return a wide range of Go types for the same SQL type
// (pgx returns [16]byte for uuid and pgtype.Numeric for numeric, go-mssqldb
// returns []byte for decimals, SQLite returns int64 for everything integral).
// FormatValue flattens them into the single text form files can carry.

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DateTimeLayout is used for time values without a zone offset or with UTC.
const DateTimeLayout = "2006-01-02 15:04:05.999999999"

// DateLayout is used for time values that carry only a calendar date.
const DateLayout = "2006-01-02"

// FormatValue returns the textual representation of a cell value.
// nil becomes the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val), 32)
	case float64:
		return formatFloat(val, 64)
	case time.Time:
		return formatTime(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case map[string]any, []any:
		doc, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(doc)
	case fmt.Stringer:
		return val.String()
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return ""
		}
		return FormatValue(inner)
	default:
		return fmt.Sprint(val)
	}
}

// FormatRow formats every value of a row.
func FormatRow(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = FormatValue(v)
	}
	return out
}

// ParseTime parses the text written by FormatValue for time values.
// RFC 3339 input is accepted as well.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		DateTimeLayout + "Z07:00",
		DateTimeLayout,
		DateLayout,
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or timestamp", s)
}

func formatFloat(f float64, bits int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	_, offset := t.Zone()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && offset == 0 {
		return t.Format(DateLayout)
	}
	if offset == 0 {
		return t.Format(DateTimeLayout)
	}
	return t.Format(DateTimeLayout + "Z07:00")
}
