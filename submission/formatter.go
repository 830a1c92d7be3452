package submission

import (
	"github.com/shopspring/decimal"
)

// Formatter turns typed values into output cells. The tree calls one method
// per value kind and never looks at the result. Absent values are passed as
// nil.
type Formatter interface {
	FormatUID(uri, propertyName string, out *OutputRow)
	FormatString(v *string, e *FormElement, ordinal string, out *OutputRow)
	FormatLong(v *int64, e *FormElement, ordinal string, out *OutputRow)
	FormatDecimal(v *decimal.Decimal, e *FormElement, ordinal string, out *OutputRow)
	FormatBoolean(v *bool, e *FormElement, ordinal string, out *OutputRow)
	FormatDate(v *Temporal, e *FormElement, ordinal string, out *OutputRow)
	FormatTime(v *Temporal, e *FormElement, ordinal string, out *OutputRow)
	FormatDateTime(v *Temporal, e *FormElement, ordinal string, out *OutputRow)
	FormatGeoPoint(v *GeoPoint, e *FormElement, ordinal string, out *OutputRow)
	FormatBinary(v *BinaryValue, e *FormElement, ordinal string, out *OutputRow)
	FormatChoices(v []string, e *FormElement, ordinal string, out *OutputRow)
	FormatRepeats(r *Repeat, out *OutputRow) error
}

// Cell is one output value; Valid is false for null.
type Cell struct {
	Value string
	Valid bool
}

// OutputRow accumulates the cells produced by a Formatter.
type OutputRow struct {
	cells []Cell
}

func (r *OutputRow) Add(v string) {
	r.cells = append(r.cells, Cell{Value: v, Valid: true})
}

func (r *OutputRow) AddNull() {
	r.cells = append(r.cells, Cell{})
}

// AddOptional adds *v, or null when v is nil.
func (r *OutputRow) AddOptional(v *string) {
	if v == nil {
		r.AddNull()
	} else {
		r.Add(*v)
	}
}

func (r *OutputRow) Cells() []Cell {
	return r.cells
}

func (r *OutputRow) Len() int {
	return len(r.cells)
}

// Strings returns the cell values with nulls replaced by null.
func (r *OutputRow) Strings(null string) []string {
	result := make([]string, len(r.cells))
	for i, c := range r.cells {
		if c.Valid {
			result[i] = c.Value
		} else {
			result[i] = null
		}
	}
	return result
}

func (r *OutputRow) Reset() {
	r.cells = r.cells[:0]
}
