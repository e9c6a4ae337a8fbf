package records

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Coercion helpers never fail: a value that cannot be represented in the
// target type becomes nil. Callers rely on this to keep malformed source data
// from aborting a run.

// nullTokens are textual artifacts that upstream exports use for "no value".
var nullTokens = map[string]struct{}{
	"":     {},
	"None": {},
	"none": {},
	"nan":  {},
	"NaN":  {},
	"NaT":  {},
	"null": {},
	"NULL": {},
}

// IsNullToken reports whether s is one of the textual null artifacts.
func IsNullToken(s string) bool {
	_, ok := nullTokens[strings.TrimSpace(s)]
	return ok
}

// unwrap resolves driver.Valuer implementations (pgx numeric, time, etc.) to
// their primitive driver value.
func unwrap(v any) any {
	for i := 0; i < 4; i++ {
		dv, ok := v.(driver.Valuer)
		if !ok {
			return v
		}
		if _, isTime := v.(time.Time); isTime {
			return v
		}
		nv, err := dv.Value()
		if err != nil {
			return nil
		}
		v = nv
	}
	return v
}

// Text coerces v to a trimmed, NFC-normalized string. Null tokens become nil.
func Text(v any) *string {
	v = unwrap(v)
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case time.Time:
		s = t.Format(time.RFC3339)
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(t)) {
			return nil
		}
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if IsNullToken(s) {
		return nil
	}
	s = norm.NFC.String(s)
	return &s
}

// Float coerces v to float64. Non-numeric, NaN and infinite values become nil.
func Float(v any) *float64 {
	v = unwrap(v)
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case string, []byte:
		s := strings.TrimSpace(asString(t))
		if IsNullToken(s) {
			return nil
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Brazilian exports occasionally use a decimal comma.
			p, err = strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
			if err != nil {
				return nil
			}
		}
		f = p
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Int coerces v to int64. Fractional values are truncated toward zero; values
// outside the int64 range (bigint overflow) become nil.
func Int(v any) *int64 {
	v = unwrap(v)
	var n int64
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		n = int64(t)
	case int8:
		n = int64(t)
	case int16:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint8:
		n = int64(t)
	case uint16:
		n = int64(t)
	case uint32:
		n = int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return nil
		}
		n = int64(t)
	case bool:
		if t {
			n = 1
		}
	case float32:
		return floatToInt(float64(t))
	case float64:
		return floatToInt(t)
	case string, []byte:
		s := strings.TrimSpace(asString(t))
		if IsNullToken(s) {
			return nil
		}
		if p, err := strconv.ParseInt(s, 10, 64); err == nil {
			n = p
			break
		}
		// Decimal or scientific text ("12.0", "1e3"), or an integer too large
		// for int64.
		bf, ok := new(big.Float).SetString(s)
		if !ok {
			return nil
		}
		bi, _ := bf.Int(nil)
		if !bi.IsInt64() {
			return nil
		}
		n = bi.Int64()
	default:
		return nil
	}
	return &n
}

func floatToInt(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
}

// Timestamp coerces v to a time.Time. Strings are parsed against the common
// ISO and dd/mm/yyyy layouts; anything else becomes nil.
func Timestamp(v any) *time.Time {
	v = unwrap(v)
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case string, []byte:
		s := strings.TrimSpace(asString(t))
		if IsNullToken(s) {
			return nil
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return &ts
			}
		}
		return nil
	default:
		return nil
	}
}

// Date coerces v like Timestamp and truncates the result to midnight UTC of
// its calendar date.
func Date(v any) *time.Time {
	ts := Timestamp(v)
	if ts == nil {
		return nil
	}
	d := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// DateString formats v as YYYY-MM-DD, or returns "" if it is not a date.
func DateString(v any) string {
	d := Date(v)
	if d == nil {
		return ""
	}
	return d.Format("2006-01-02")
}

// Clock coerces a time-of-day value to "HH:MM:SS". time.Time values keep only
// their clock part; strings are accepted when they parse as a clock.
func Clock(v any) *string {
	v = unwrap(v)
	var out string
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		out = t.Format("15:04:05")
	case string, []byte:
		s := strings.TrimSpace(asString(t))
		if IsNullToken(s) {
			return nil
		}
		parsed := false
		for _, layout := range []string{"15:04:05.999999", "15:04:05", "15:04"} {
			if ts, err := time.Parse(layout, s); err == nil {
				out = ts.Format("15:04:05")
				parsed = true
				break
			}
		}
		if !parsed {
			if ts := Timestamp(s); ts != nil {
				out = ts.Format("15:04:05")
			} else {
				return nil
			}
		}
	default:
		return nil
	}
	return &out
}

// Bytes returns v as a byte slice for binary columns. Strings are converted;
// nil and other types become nil.
func Bytes(v any) []byte {
	v = unwrap(v)
	switch t := v.(type) {
	case []byte:
		if t == nil {
			return nil
		}
		return append([]byte(nil), t...)
	case string:
		if t == "" {
			return nil
		}
		return []byte(t)
	default:
		return nil
	}
}

// Flag coerces 0/1, booleans and "true"/"false"-like text to a bool.
func Flag(v any) *bool {
	v = unwrap(v)
	var b bool
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		b = t
	case string, []byte:
		s := strings.ToLower(strings.TrimSpace(asString(t)))
		switch s {
		case "1", "t", "true", "s", "sim", "y", "yes":
			b = true
		case "0", "f", "false", "n", "nao", "não", "no":
			b = false
		default:
			return nil
		}
	default:
		n := Int(t)
		if n == nil {
			return nil
		}
		switch *n {
		case 0:
			b = false
		case 1:
			b = true
		default:
			return nil
		}
	}
	return &b
}

// Label maps a boolean-ish value to one of two labels; unknown values are nil.
func Label(v any, whenTrue, whenFalse string) *string {
	b := Flag(v)
	if b == nil {
		return nil
	}
	s := whenFalse
	if *b {
		s = whenTrue
	}
	return &s
}

// Value dereferences p, returning an untyped nil for a nil pointer so drivers
// see SQL NULL.
func Value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}
