// Package format holds Formatter implementations for submission trees.
package format

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/submission"
)

// Human-readable layouts, in UTC, used for dates and times.
const (
	DateLayout     = "Jan 2, 2006"
	TimeLayout     = "3:04:05 PM"
	DateTimeLayout = "Jan 2, 2006 3:04:05 PM"
)

// BasicFormatter emits one cell per value as plain text; repeat groups are
// represented by their unique key.
//
// Geo-points take two cells (latitude and longitude) plus one per requested
// extra component when SeparateCoordinates is set, and a single
// "lat, lng[, alt][, acc]" cell otherwise.
type BasicFormatter struct {
	SeparateCoordinates bool
	IncludeAltitude     bool
	IncludeAccuracy     bool
}

var _ submission.Formatter = (*BasicFormatter)(nil)

func (f *BasicFormatter) FormatUID(uri, propertyName string, out *submission.OutputRow) {
	out.Add(uri)
}

func (f *BasicFormatter) FormatString(v *string, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	out.AddOptional(v)
}

func (f *BasicFormatter) FormatLong(v *int64, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	if v == nil {
		out.AddNull()
	} else {
		out.Add(strconv.FormatInt(*v, 10))
	}
}

func (f *BasicFormatter) FormatDecimal(v *decimal.Decimal, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	if v == nil {
		out.AddNull()
	} else {
		out.Add(formstore.CanonicalDecimal(*v))
	}
}

func (f *BasicFormatter) FormatBoolean(v *bool, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	if v == nil {
		out.AddNull()
	} else {
		out.Add(strconv.FormatBool(*v))
	}
}

func (f *BasicFormatter) FormatDate(v *submission.Temporal, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	addTemporal(v, DateLayout, out)
}

func (f *BasicFormatter) FormatTime(v *submission.Temporal, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	addTemporal(v, TimeLayout, out)
}

func (f *BasicFormatter) FormatDateTime(v *submission.Temporal, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	addTemporal(v, DateTimeLayout, out)
}

func addTemporal(v *submission.Temporal, layout string, out *submission.OutputRow) {
	if v == nil {
		out.AddNull()
	} else {
		out.Add(v.Parsed.UTC().Format(layout))
	}
}

func (f *BasicFormatter) FormatGeoPoint(v *submission.GeoPoint, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	if v == nil {
		out.AddNull()
		return
	}
	if f.SeparateCoordinates {
		addNullDecimal(v.Latitude, out)
		addNullDecimal(v.Longitude, out)
		if f.IncludeAltitude {
			addNullDecimal(v.Altitude, out)
		}
		if f.IncludeAccuracy {
			addNullDecimal(v.Accuracy, out)
		}
		return
	}
	if !v.Latitude.Valid || !v.Longitude.Valid {
		return
	}
	parts := []string{
		formstore.CanonicalDecimal(v.Latitude.Decimal),
		formstore.CanonicalDecimal(v.Longitude.Decimal),
	}
	if f.IncludeAltitude && v.Altitude.Valid {
		parts = append(parts, formstore.CanonicalDecimal(v.Altitude.Decimal))
	}
	if f.IncludeAccuracy && v.Accuracy.Valid {
		parts = append(parts, formstore.CanonicalDecimal(v.Accuracy.Decimal))
	}
	out.Add(strings.Join(parts, ", "))
}

func addNullDecimal(d decimal.NullDecimal, out *submission.OutputRow) {
	if d.Valid {
		out.Add(formstore.CanonicalDecimal(d.Decimal))
	} else {
		out.AddNull()
	}
}

// FormatBinary emits the submission key of the value, which is how the
// content is addressed for download.
func (f *BasicFormatter) FormatBinary(v *submission.BinaryValue, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	if v == nil || v.IsEmpty() {
		out.AddNull()
	} else {
		out.Add(v.SubmissionKey().String())
	}
}

func (f *BasicFormatter) FormatChoices(v []string, e *submission.FormElement, ordinal string, out *submission.OutputRow) {
	out.Add(strings.Join(v, " "))
}

func (f *BasicFormatter) FormatRepeats(r *submission.Repeat, out *submission.OutputRow) error {
	if r == nil {
		out.AddNull()
	} else {
		out.Add(r.UniqueKey())
	}
	return nil
}
