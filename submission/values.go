package submission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andreyvit/formstore"
)

// Value is a single-value element. The set of implementations is closed:
// *StringValue, *LongValue, *DecimalValue, *BooleanValue, *TemporalValue,
// *GeoPointValue, *BinaryValue and *ChoicesValue.
//
// ParseExternal treats an empty string as an absent value.
type Value interface {
	Element
	ParseExternal(s string) error
	ReadRow(row *formstore.Row) error
	WriteRow(row *formstore.Row) error
	IsEmpty() bool

	isValue()
}

type valueBase struct {
	elem *FormElement
	set  *SubmissionSet
}

func (v *valueBase) FormElement() *FormElement { return v.elem }

// Enclosing returns the submission set holding the value.
func (v *valueBase) Enclosing() *SubmissionSet { return v.set }

func (v *valueBase) SubmissionKey() SubmissionKey {
	return v.set.SubmissionKey().Append(KeyPart{Name: v.elem.Name})
}

func (v *valueBase) parseError(input string, err error) error {
	return &formstore.ParseError{What: v.elem.Type.String() + " " + v.elem.Path(), Input: input, Err: err}
}

func (*valueBase) isValue() {}

func newValue(elem *FormElement, set *SubmissionSet) Value {
	base := valueBase{elem, set}
	switch elem.Type {
	case TypeString:
		return &StringValue{valueBase: base}
	case TypeLong:
		return &LongValue{valueBase: base}
	case TypeDecimal:
		return &DecimalValue{valueBase: base}
	case TypeBoolean:
		return &BooleanValue{valueBase: base}
	case TypeDate, TypeTime, TypeDateTime:
		return &TemporalValue{valueBase: base}
	case TypeGeoPoint:
		return &GeoPointValue{valueBase: base}
	case TypeBinary:
		return &BinaryValue{valueBase: base}
	case TypeChoices:
		return &ChoicesValue{valueBase: base}
	default:
		panic(fmt.Errorf("%w: %s has no value converter for %v", formstore.ErrInvalidSchema, elem.Path(), elem.Type))
	}
}

type StringValue struct {
	valueBase
	v  string
	ok bool
}

func (v *StringValue) Get() (string, bool) { return v.v, v.ok }
func (v *StringValue) Set(s string)        { v.v, v.ok = s, true }
func (v *StringValue) Clear()              { v.v, v.ok = "", false }
func (v *StringValue) IsEmpty() bool       { return !v.ok }

func (v *StringValue) ParseExternal(s string) error {
	if s == "" {
		v.Clear()
	} else {
		v.Set(s)
	}
	return nil
}

func (v *StringValue) ReadRow(row *formstore.Row) error {
	v.v, v.ok = row.String(v.elem.field)
	return nil
}

func (v *StringValue) WriteRow(row *formstore.Row) error {
	row.SetString(v.elem.field, v.v, v.ok)
	return nil
}

func (v *StringValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatString(optional(v.v, v.ok), v.elem, ordinal, out)
	return nil
}

type LongValue struct {
	valueBase
	v  int64
	ok bool
}

func (v *LongValue) Get() (int64, bool) { return v.v, v.ok }
func (v *LongValue) Set(n int64)        { v.v, v.ok = n, true }
func (v *LongValue) Clear()             { v.v, v.ok = 0, false }
func (v *LongValue) IsEmpty() bool      { return !v.ok }

func (v *LongValue) ParseExternal(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		v.Clear()
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return v.parseError(s, err)
	}
	v.Set(n)
	return nil
}

func (v *LongValue) ReadRow(row *formstore.Row) error {
	v.v, v.ok = row.Long(v.elem.field)
	return nil
}

func (v *LongValue) WriteRow(row *formstore.Row) error {
	row.SetLong(v.elem.field, v.v, v.ok)
	return nil
}

func (v *LongValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatLong(optional(v.v, v.ok), v.elem, ordinal, out)
	return nil
}

// DecimalValue holds an arbitrary-precision decimal; parsing never rounds and
// keeps the scale of the input.
type DecimalValue struct {
	valueBase
	v  decimal.Decimal
	ok bool
}

func (v *DecimalValue) Get() (decimal.Decimal, bool) { return v.v, v.ok }
func (v *DecimalValue) Set(d decimal.Decimal)        { v.v, v.ok = d, true }
func (v *DecimalValue) Clear()                       { v.v, v.ok = decimal.Decimal{}, false }
func (v *DecimalValue) IsEmpty() bool                { return !v.ok }

func (v *DecimalValue) String() string {
	if !v.ok {
		return ""
	}
	return formstore.CanonicalDecimal(v.v)
}

func (v *DecimalValue) ParseExternal(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		v.Clear()
		return nil
	}
	d, err := formstore.ParseDecimal(s)
	if err != nil {
		return v.parseError(s, err)
	}
	v.Set(d)
	return nil
}

func (v *DecimalValue) ReadRow(row *formstore.Row) error {
	v.v, v.ok = row.Decimal(v.elem.field)
	return nil
}

func (v *DecimalValue) WriteRow(row *formstore.Row) error {
	row.SetDecimal(v.elem.field, v.v, v.ok)
	return nil
}

func (v *DecimalValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatDecimal(optional(v.v, v.ok), v.elem, ordinal, out)
	return nil
}

type BooleanValue struct {
	valueBase
	v  bool
	ok bool
}

func (v *BooleanValue) Get() (bool, bool) { return v.v, v.ok }
func (v *BooleanValue) Set(b bool)        { v.v, v.ok = b, true }
func (v *BooleanValue) Clear()            { v.v, v.ok = false, false }
func (v *BooleanValue) IsEmpty() bool     { return !v.ok }

// ParseExternal accepts true, false, 1 and 0 in any case.
func (v *BooleanValue) ParseExternal(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		v.Clear()
	case "true", "1":
		v.Set(true)
	case "false", "0":
		v.Set(false)
	default:
		return v.parseError(s, nil)
	}
	return nil
}

func (v *BooleanValue) ReadRow(row *formstore.Row) error {
	v.v, v.ok = row.Bool(v.elem.field)
	return nil
}

func (v *BooleanValue) WriteRow(row *formstore.Row) error {
	row.SetBool(v.elem.field, v.v, v.ok)
	return nil
}

func (v *BooleanValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatBoolean(optional(v.v, v.ok), v.elem, ordinal, out)
	return nil
}

// TemporalValue is a date, time or date-time depending on its element type.
// The current layout stores the parsed value and the raw text in two columns;
// the legacy layout stores only the parsed value.
type TemporalValue struct {
	valueBase
	v  Temporal
	ok bool
}

func (v *TemporalValue) Get() (Temporal, bool) { return v.v, v.ok }
func (v *TemporalValue) Set(t Temporal)        { v.v, v.ok = t, true }
func (v *TemporalValue) Clear()                { v.v, v.ok = Temporal{}, false }
func (v *TemporalValue) IsEmpty() bool         { return !v.ok }

func (v *TemporalValue) ParseExternal(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		v.Clear()
		return nil
	}
	t, err := ParseTemporal(v.elem.Type, s)
	if err != nil {
		return v.parseError(s, err)
	}
	v.Set(t)
	return nil
}

func (v *TemporalValue) legacy() bool {
	return len(v.elem.subFields) == 0
}

func (v *TemporalValue) ReadRow(row *formstore.Row) error {
	parsed, ok := row.Time(v.elem.field)
	if v.legacy() {
		if ok {
			v.Set(LegacyTemporal(v.elem.Type, parsed))
		} else {
			v.Clear()
		}
		return nil
	}
	raw, rawOK := row.String(v.elem.subFields[0])
	if ok && rawOK {
		v.Set(Temporal{Parsed: parsed, Raw: raw})
	} else {
		v.Clear()
	}
	return nil
}

func (v *TemporalValue) WriteRow(row *formstore.Row) error {
	row.SetTime(v.elem.field, v.v.Parsed, v.ok)
	if !v.legacy() {
		row.SetString(v.elem.subFields[0], v.v.Raw, v.ok)
	}
	return nil
}

func (v *TemporalValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	t := optional(v.v, v.ok)
	switch v.elem.Type {
	case TypeDate:
		f.FormatDate(t, v.elem, ordinal, out)
	case TypeTime:
		f.FormatTime(t, v.elem, ordinal, out)
	default:
		f.FormatDateTime(t, v.elem, ordinal, out)
	}
	return nil
}

// GeoPoint components are each optional.
type GeoPoint struct {
	Latitude  decimal.NullDecimal
	Longitude decimal.NullDecimal
	Altitude  decimal.NullDecimal
	Accuracy  decimal.NullDecimal
}

func (p *GeoPoint) components() []*decimal.NullDecimal {
	return []*decimal.NullDecimal{&p.Latitude, &p.Longitude, &p.Altitude, &p.Accuracy}
}

func (p GeoPoint) IsEmpty() bool {
	return !p.Latitude.Valid && !p.Longitude.Valid && !p.Altitude.Valid && !p.Accuracy.Valid
}

type GeoPointValue struct {
	valueBase
	v GeoPoint
}

func (v *GeoPointValue) Get() (GeoPoint, bool) { return v.v, !v.v.IsEmpty() }
func (v *GeoPointValue) Set(p GeoPoint)        { v.v = p }
func (v *GeoPointValue) Clear()                { v.v = GeoPoint{} }
func (v *GeoPointValue) IsEmpty() bool         { return v.v.IsEmpty() }

// ParseExternal reads "lat lng [alt [acc]]".
func (v *GeoPointValue) ParseExternal(s string) error {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		v.Clear()
		return nil
	}
	if len(parts) < 2 || len(parts) > 4 {
		return v.parseError(s, fmt.Errorf("expected 2 to 4 components, got %d", len(parts)))
	}
	var p GeoPoint
	comps := p.components()
	for i, part := range parts {
		d, err := formstore.ParseDecimal(part)
		if err != nil {
			return v.parseError(s, err)
		}
		*comps[i] = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	v.Set(p)
	return nil
}

func (v *GeoPointValue) ReadRow(row *formstore.Row) error {
	for i, c := range v.v.components() {
		d, ok := row.Decimal(v.elem.subFields[i])
		*c = decimal.NullDecimal{Decimal: d, Valid: ok}
	}
	return nil
}

func (v *GeoPointValue) WriteRow(row *formstore.Row) error {
	for i, c := range v.v.components() {
		row.SetDecimal(v.elem.subFields[i], c.Decimal, c.Valid)
	}
	return nil
}

func (v *GeoPointValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	var p *GeoPoint
	if !v.v.IsEmpty() {
		p = &v.v
	}
	f.FormatGeoPoint(p, v.elem, ordinal, out)
	return nil
}

// BinaryValue references a blob store object; the bytes never live in the
// submission row.
type BinaryValue struct {
	valueBase
	objectID string
}

func (v *BinaryValue) ObjectID() string       { return v.objectID }
func (v *BinaryValue) Attach(objectID string) { v.objectID = objectID }
func (v *BinaryValue) Clear()                 { v.objectID = "" }
func (v *BinaryValue) IsEmpty() bool          { return v.objectID == "" }

// ParseExternal takes a blob object ID.
func (v *BinaryValue) ParseExternal(s string) error {
	v.objectID = strings.TrimSpace(s)
	return nil
}

func (v *BinaryValue) ReadRow(row *formstore.Row) error {
	v.objectID, _ = row.String(v.elem.field)
	return nil
}

func (v *BinaryValue) WriteRow(row *formstore.Row) error {
	row.SetString(v.elem.field, v.objectID, v.objectID != "")
	return nil
}

func (v *BinaryValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatBinary(v, v.elem, ordinal, out)
	return nil
}

// ChoicesValue is a multiple-choice selection, stored space-separated.
type ChoicesValue struct {
	valueBase
	v []string
}

func (v *ChoicesValue) Get() []string        { return v.v }
func (v *ChoicesValue) Set(choices []string) { v.v = choices }
func (v *ChoicesValue) Clear()               { v.v = nil }
func (v *ChoicesValue) IsEmpty() bool        { return len(v.v) == 0 }

func (v *ChoicesValue) ParseExternal(s string) error {
	v.v = strings.Fields(s)
	return nil
}

func (v *ChoicesValue) ReadRow(row *formstore.Row) error {
	s, _ := row.String(v.elem.field)
	v.v = strings.Fields(s)
	return nil
}

func (v *ChoicesValue) WriteRow(row *formstore.Row) error {
	row.SetString(v.elem.field, strings.Join(v.v, " "), len(v.v) > 0)
	return nil
}

func (v *ChoicesValue) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatChoices(v.v, v.elem, ordinal, out)
	return nil
}

func optional[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}
