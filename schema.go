package formstore

import (
	"fmt"
	"strings"
)

type DataType int

const (
	TypeInvalid DataType = iota
	String
	LongString
	URI
	Integer
	Decimal
	Boolean
	DateTime
	Binary
)

var dataTypeNames = [...]string{
	TypeInvalid: "INVALID",
	String:      "STRING",
	LongString:  "LONG_STRING",
	URI:         "URI",
	Integer:     "INTEGER",
	Decimal:     "DECIMAL",
	Boolean:     "BOOLEAN",
	DateTime:    "DATETIME",
	Binary:      "BINARY",
}

func (t DataType) Valid() bool {
	return t > TypeInvalid && t <= Binary
}

func (t DataType) String() string {
	if t >= 0 && int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// ParseDataType accepts the names produced by DataType.String, in any case.
func ParseDataType(s string) (DataType, error) {
	for i, name := range dataTypeNames {
		if i > 0 && strings.EqualFold(s, name) {
			return DataType(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("%w: unknown data type %q", ErrInvalidSchema, s)
}

const DefaultMaxCharLen = 255

type DataField struct {
	Name       string
	Type       DataType
	Nullable   bool
	MaxCharLen int

	pos int
}

func (f *DataField) Pos() int {
	return f.pos
}

func (f *DataField) String() string {
	return f.Name
}

// Standard field names present in every relation.
const (
	FieldURI            = "_URI"
	FieldCreationDate   = "_CREATION_DATE"
	FieldLastUpdateDate = "_LAST_UPDATE_DATE"
	FieldParentAuri     = "_PARENT_AURI"
	FieldOrdinalNumber  = "_ORDINAL_NUMBER"
	FieldTopLevelAuri   = "_TOP_LEVEL_AURI"
)

const (
	posURI = iota
	posCreationDate
	posLastUpdateDate
	posParentAuri
	posOrdinalNumber
	posTopLevelAuri
	standardFieldCount
)

func standardFields() []DataField {
	return []DataField{
		{Name: FieldURI, Type: URI},
		{Name: FieldCreationDate, Type: DateTime},
		{Name: FieldLastUpdateDate, Type: DateTime, Nullable: true},
		{Name: FieldParentAuri, Type: URI, Nullable: true},
		{Name: FieldOrdinalNumber, Type: Integer},
		{Name: FieldTopLevelAuri, Type: URI, Nullable: true},
	}
}

// Relation is a field schema: a named, ordered, immutable list of typed
// fields. Standard fields come first.
type Relation struct {
	name          string
	fields        []*DataField
	fieldsByLower map[string]*DataField
}

func NewRelation(name string, fields ...DataField) (*Relation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: relation name is empty", ErrInvalidSchema)
	}
	rel := &Relation{
		name:          name,
		fieldsByLower: make(map[string]*DataField),
	}
	for _, f := range append(standardFields(), fields...) {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: field name is empty", ErrInvalidSchema, name)
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("%w: %s.%s: unsupported type %v", ErrInvalidSchema, name, f.Name, f.Type)
		}
		lower := strings.ToLower(f.Name)
		if rel.fieldsByLower[lower] != nil {
			return nil, fmt.Errorf("%w: %s: duplicate field %s", ErrInvalidSchema, name, f.Name)
		}
		if f.MaxCharLen == 0 && f.Type == String {
			f.MaxCharLen = DefaultMaxCharLen
		}
		fp := new(DataField)
		*fp = f
		fp.pos = len(rel.fields)
		rel.fields = append(rel.fields, fp)
		rel.fieldsByLower[lower] = fp
	}
	return rel, nil
}

func MustRelation(name string, fields ...DataField) *Relation {
	rel, err := NewRelation(name, fields...)
	if err != nil {
		panic(err)
	}
	return rel
}

func (rel *Relation) Name() string {
	return rel.name
}

func (rel *Relation) String() string {
	return rel.name
}

// Fields returns all fields, standard ones first.
func (rel *Relation) Fields() []*DataField {
	return append([]*DataField(nil), rel.fields...)
}

// DataFields returns the fields after the standard ones.
func (rel *Relation) DataFields() []*DataField {
	return append([]*DataField(nil), rel.fields[standardFieldCount:]...)
}

func (rel *Relation) FieldCount() int {
	return len(rel.fields)
}

func (rel *Relation) Field(name string) *DataField {
	return rel.fieldsByLower[strings.ToLower(name)]
}

func (rel *Relation) MustField(name string) *DataField {
	f := rel.Field(name)
	if f == nil {
		panic(fmt.Errorf("%s: no field %s", rel.name, name))
	}
	return f
}

func (rel *Relation) URIField() *DataField            { return rel.fields[posURI] }
func (rel *Relation) CreationDateField() *DataField   { return rel.fields[posCreationDate] }
func (rel *Relation) LastUpdateDateField() *DataField { return rel.fields[posLastUpdateDate] }
func (rel *Relation) ParentAuriField() *DataField     { return rel.fields[posParentAuri] }
func (rel *Relation) OrdinalNumberField() *DataField  { return rel.fields[posOrdinalNumber] }
func (rel *Relation) TopLevelAuriField() *DataField   { return rel.fields[posTopLevelAuri] }

func (rel *Relation) owns(f *DataField) bool {
	return f != nil && f.pos < len(rel.fields) && rel.fields[f.pos] == f
}

func (rel *Relation) checkField(f *DataField) {
	if !rel.owns(f) {
		panic(fmt.Errorf("field %v does not belong to relation %s", f, rel.name))
	}
}
