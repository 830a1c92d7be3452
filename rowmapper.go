package formstore

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RawRow is a backend result row before type normalization.
type RawRow interface {
	RawValue(f *DataField) any
}

// RawSlice holds raw values positionally, in relation field order, the way
// SQL backends select them.
type RawSlice []any

func (rs RawSlice) RawValue(f *DataField) any {
	if f.pos >= len(rs) {
		return nil
	}
	return rs[f.pos]
}

// RawMap holds raw values by field name, the way KVStore decodes them.
type RawMap map[string]any

func (rm RawMap) RawValue(f *DataField) any {
	return rm[f.Name]
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// MapRow produces a typed row of rel from a raw backend row, normalizing
// backend-specific representations: nulls stay absent, decimals are parsed from
// their string form, times are forced to UTC.
func MapRow(rel *Relation, raw RawRow) (*Row, error) {
	row := NewRow(rel)
	for _, f := range rel.fields {
		v, err := mapValue(f, raw.RawValue(f))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rel.name, f.Name, err)
		}
		row.values[f.pos] = v
	}
	return row, nil
}

func mapValue(f *DataField, v any) (any, error) {
	switch f.Type {
	case Binary:
		switch v := v.(type) {
		case nil:
			return nil, nil
		case []byte:
			return append([]byte{}, v...), nil
		case string:
			return []byte(v), nil
		}

	case String, LongString, URI:
		switch v := v.(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}

	case Integer:
		if v == nil {
			return nil, nil
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		if s, ok := toText(v); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, dataErrf(nil, 0, err, "invalid integer %q", s)
			}
			return n, nil
		}

	case Decimal:
		switch v := v.(type) {
		case nil:
			return nil, nil
		case decimal.Decimal:
			return v, nil
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, dataErrf(nil, 0, nil, "invalid decimal %v", v)
			}
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		}
		if n, ok := toInt64(v); ok {
			return decimal.NewFromInt(n), nil
		}
		if s, ok := toText(v); ok {
			d, err := ParseDecimal(s)
			if err != nil {
				return nil, dataErrf([]byte(s), 0, err, "invalid decimal")
			}
			return d, nil
		}

	case Boolean:
		switch v := v.(type) {
		case nil:
			return nil, nil
		case bool:
			return v, nil
		}
		if n, ok := toInt64(v); ok {
			return n != 0, nil
		}
		if s, ok := toText(v); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, dataErrf(nil, 0, err, "invalid boolean %q", s)
			}
			return b, nil
		}

	case DateTime:
		switch v := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return v.UTC(), nil
		}
		if s, ok := toText(v); ok {
			return parseUTC(s)
		}

	default:
		return nil, fmt.Errorf("%w: unsupported type %v", ErrInvalidSchema, f.Type)
	}
	return nil, dataErrf(nil, 0, nil, "cannot convert %T to %v", v, f.Type)
}

// parseUTC reads a backend timestamp; strings without an explicit offset are
// taken to be UTC rather than the host's local zone.
func parseUTC(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, dataErrf(nil, 0, nil, "invalid timestamp %q", s)
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), true
		}
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

func toText(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

// MaxDecimalExponent bounds the exponent of decimals parsed from text, since
// "1e-50000000" would otherwise format to fifty million digits.
const MaxDecimalExponent = 1000

// ParseDecimal parses s exactly, rejecting exponents beyond
// MaxDecimalExponent in either direction.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if exp := d.Exponent(); exp > MaxDecimalExponent || exp < -MaxDecimalExponent {
		return decimal.Decimal{}, fmt.Errorf("exponent %d out of range", exp)
	}
	return d, nil
}

// CanonicalDecimal formats d keeping its scale, so "1.0" stays "1.0" and
// "1.50" stays "1.50".
func CanonicalDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}
