package submission

import (
	"fmt"
	"time"

	"github.com/andreyvit/formstore"
)

// Temporal is a date, time or date-time value: Parsed (UTC) for sorting and
// filtering, Raw for round-trip fidelity with the submitted text.
type Temporal struct {
	Parsed time.Time
	Raw    string
}

var (
	dateLayouts = []string{
		"2006-01-02",
	}
	timeLayouts = []string{
		"15:04:05.999999999Z07:00",
		"15:04:05.999999999Z0700",
		"15:04:05.999999999",
		"15:04",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
	}
)

// Layouts used to reconstruct the raw form of values stored in the legacy
// single-column layout.
const (
	legacyDateLayout     = "2006-01-02"
	legacyTimeLayout     = "15:04:05.000Z07:00"
	legacyDateTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ParseTemporal parses the external form of a date, time or date-time.
// Text without a zone offset is taken to be UTC. Times are placed on
// 1970-01-01.
func ParseTemporal(kind ElementType, s string) (Temporal, error) {
	var layouts []string
	switch kind {
	case TypeDate:
		layouts = dateLayouts
	case TypeTime:
		layouts = timeLayouts
	case TypeDateTime:
		layouts = dateTimeLayouts
	default:
		panic(fmt.Errorf("ParseTemporal: %v is not temporal", kind))
	}
	var first error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		if kind == TypeTime {
			t = time.Date(1970, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		}
		return Temporal{Parsed: t.UTC(), Raw: s}, nil
	}
	return Temporal{}, &formstore.ParseError{What: kind.String(), Input: s, Err: first}
}

// LegacyTemporal reconstructs a value stored without its raw form.
func LegacyTemporal(kind ElementType, parsed time.Time) Temporal {
	parsed = parsed.UTC()
	var layout string
	switch kind {
	case TypeDate:
		layout = legacyDateLayout
	case TypeTime:
		layout = legacyTimeLayout
	default:
		layout = legacyDateTimeLayout
	}
	return Temporal{Parsed: parsed, Raw: parsed.Format(layout)}
}
