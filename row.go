package formstore

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKey addresses one row for deletion.
type EntityKey struct {
	Relation *Relation
	URI      string
}

func (k EntityKey) String() string {
	if k.Relation == nil {
		return "?/" + k.URI
	}
	return k.Relation.Name() + "/" + k.URI
}

// Row is a typed snapshot of one record. Values are nil when absent, otherwise
// one of []byte, string, int64, decimal.Decimal, bool or time.Time depending
// on the field type.
type Row struct {
	rel    *Relation
	values []any
}

func NewRow(rel *Relation) *Row {
	return &Row{
		rel:    rel,
		values: make([]any, len(rel.fields)),
	}
}

func (row *Row) Relation() *Relation {
	return row.rel
}

func (row *Row) Key() EntityKey {
	return EntityKey{row.rel, row.URI()}
}

func (row *Row) Clone() *Row {
	c := &Row{rel: row.rel, values: slices.Clone(row.values)}
	for i, v := range c.values {
		if b, ok := v.([]byte); ok {
			c.values[i] = slices.Clone(b)
		}
	}
	return c
}

// Value returns the raw typed value of f, nil when absent.
func (row *Row) Value(f *DataField) any {
	row.rel.checkField(f)
	return row.values[f.pos]
}

func (row *Row) IsNull(f *DataField) bool {
	return row.Value(f) == nil
}

// SetValue stores v after checking that it matches the field type.
func (row *Row) SetValue(f *DataField, v any) {
	row.rel.checkField(f)
	if v != nil {
		if err := checkValueType(f, v); err != nil {
			panic(err)
		}
	}
	row.values[f.pos] = v
}

func checkValueType(f *DataField, v any) error {
	var ok bool
	switch f.Type {
	case String, LongString, URI:
		_, ok = v.(string)
	case Integer:
		_, ok = v.(int64)
	case Decimal:
		_, ok = v.(decimal.Decimal)
	case Boolean:
		_, ok = v.(bool)
	case DateTime:
		_, ok = v.(time.Time)
	case Binary:
		_, ok = v.([]byte)
	default:
		return fmt.Errorf("%w: field %s has unsupported type %v", ErrInvalidSchema, f.Name, f.Type)
	}
	if !ok {
		return fmt.Errorf("%w: field %s of type %v cannot hold %T", ErrInvalidSchema, f.Name, f.Type, v)
	}
	return nil
}

func (row *Row) String(f *DataField) (string, bool) {
	v, ok := row.Value(f).(string)
	return v, ok
}

func (row *Row) SetString(f *DataField, v string, ok bool) {
	row.setOptional(f, v, ok)
}

func (row *Row) Long(f *DataField) (int64, bool) {
	v, ok := row.Value(f).(int64)
	return v, ok
}

func (row *Row) SetLong(f *DataField, v int64, ok bool) {
	row.setOptional(f, v, ok)
}

func (row *Row) Decimal(f *DataField) (decimal.Decimal, bool) {
	v, ok := row.Value(f).(decimal.Decimal)
	return v, ok
}

func (row *Row) SetDecimal(f *DataField, v decimal.Decimal, ok bool) {
	row.setOptional(f, v, ok)
}

func (row *Row) Bool(f *DataField) (bool, bool) {
	v, ok := row.Value(f).(bool)
	return v, ok
}

func (row *Row) SetBool(f *DataField, v bool, ok bool) {
	row.setOptional(f, v, ok)
}

func (row *Row) Time(f *DataField) (time.Time, bool) {
	v, ok := row.Value(f).(time.Time)
	return v, ok
}

// SetTime stores t in UTC.
func (row *Row) SetTime(f *DataField, t time.Time, ok bool) {
	row.setOptional(f, t.UTC(), ok)
}

func (row *Row) Bytes(f *DataField) []byte {
	v, _ := row.Value(f).([]byte)
	return v
}

func (row *Row) SetBytes(f *DataField, v []byte) {
	if v == nil {
		row.SetValue(f, nil)
	} else {
		row.SetValue(f, v)
	}
}

func (row *Row) setOptional(f *DataField, v any, ok bool) {
	if ok {
		row.SetValue(f, v)
	} else {
		row.SetValue(f, nil)
	}
}

func (row *Row) URI() string {
	v, _ := row.values[posURI].(string)
	return v
}

func (row *Row) SetURI(uri string) {
	row.values[posURI] = uri
}

func (row *Row) ParentAuri() string {
	v, _ := row.values[posParentAuri].(string)
	return v
}

func (row *Row) SetParentAuri(uri string) {
	row.SetString(row.rel.ParentAuriField(), uri, uri != "")
}

func (row *Row) TopLevelAuri() string {
	v, _ := row.values[posTopLevelAuri].(string)
	return v
}

func (row *Row) SetTopLevelAuri(uri string) {
	row.SetString(row.rel.TopLevelAuriField(), uri, uri != "")
}

func (row *Row) OrdinalNumber() int64 {
	v, _ := row.values[posOrdinalNumber].(int64)
	return v
}

func (row *Row) SetOrdinalNumber(n int64) {
	row.values[posOrdinalNumber] = n
}

func (row *Row) CreationDate() time.Time {
	v, _ := row.values[posCreationDate].(time.Time)
	return v
}

func (row *Row) SetCreationDate(t time.Time) {
	row.values[posCreationDate] = t.UTC()
}

func (row *Row) LastUpdateDate() time.Time {
	v, _ := row.values[posLastUpdateDate].(time.Time)
	return v
}

func (row *Row) SetLastUpdateDate(t time.Time) {
	row.values[posLastUpdateDate] = t.UTC()
}

// Validate checks the URI and the non-nullable data fields before a write.
func (row *Row) Validate() error {
	if row.URI() == "" {
		return fmt.Errorf("%w: %s: row has no %s", ErrInvalidSchema, row.rel.name, FieldURI)
	}
	for _, f := range row.rel.fields {
		if !f.Nullable && f.pos != posURI && f.pos >= standardFieldCount && row.values[f.pos] == nil {
			return fmt.Errorf("%w: %s.%s is not nullable", ErrInvalidSchema, row.rel.name, f.Name)
		}
	}
	return nil
}
