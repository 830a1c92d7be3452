package submission

import (
	"fmt"
	"strings"

	"github.com/andreyvit/formstore"
)

type ElementType int

const (
	TypeInvalid ElementType = iota
	TypeGroup
	TypeRepeat
	TypeString
	TypeLong
	TypeDecimal
	TypeBoolean
	TypeDate
	TypeTime
	TypeDateTime
	TypeGeoPoint
	TypeBinary
	TypeChoices
)

var elementTypeNames = [...]string{
	TypeInvalid:  "invalid",
	TypeGroup:    "group",
	TypeRepeat:   "repeat",
	TypeString:   "string",
	TypeLong:     "long",
	TypeDecimal:  "decimal",
	TypeBoolean:  "boolean",
	TypeDate:     "date",
	TypeTime:     "time",
	TypeDateTime: "datetime",
	TypeGeoPoint: "geopoint",
	TypeBinary:   "binary",
	TypeChoices:  "choices",
}

var elementTypeAliases = map[string]ElementType{
	"int":     TypeLong,
	"integer": TypeLong,
	"text":    TypeString,
	"select":  TypeChoices,
	"bool":    TypeBoolean,
}

func (t ElementType) String() string {
	if t >= 0 && int(t) < len(elementTypeNames) {
		return elementTypeNames[t]
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

func (t ElementType) IsTemporal() bool {
	return t == TypeDate || t == TypeTime || t == TypeDateTime
}

func ParseElementType(s string) (ElementType, error) {
	s = strings.ToLower(s)
	for i, name := range elementTypeNames {
		if i > 0 && s == name {
			return ElementType(i), nil
		}
	}
	if t, ok := elementTypeAliases[s]; ok {
		return t, nil
	}
	return TypeInvalid, fmt.Errorf("%w: unknown element type %q", formstore.ErrInvalidSchema, s)
}

// FormElement is one node of a form definition. Name, Type, Children and
// Legacy are set by the caller; the rest is filled in by NewForm.
type FormElement struct {
	Name     string
	Type     ElementType
	Children []*FormElement

	// Legacy makes a date or time element use the old single-column layout:
	// only the parsed value is stored and the raw form is reconstructed.
	Legacy bool

	form      *Form
	parent    *FormElement
	owner     *FormElement
	relation  *formstore.Relation
	field     *formstore.DataField
	subFields []*formstore.DataField
	members   []*FormElement

	column     string
	subColumns []string
}

func (e *FormElement) String() string {
	return e.Path()
}

func (e *FormElement) Form() *Form {
	return e.form
}

// Parent returns the enclosing group or repeat element, nil for the root.
func (e *FormElement) Parent() *FormElement {
	return e.parent
}

// Relation returns the relation holding the element's columns, or for the
// root and repeats, the relation of their own rows.
func (e *FormElement) Relation() *formstore.Relation {
	return e.relation
}

// Field returns the primary column; nil for groups, repeats and geo-points.
func (e *FormElement) Field() *formstore.DataField {
	return e.field
}

// SubFields returns the secondary columns: the raw string of a date or time,
// the four components of a geo-point.
func (e *FormElement) SubFields() []*formstore.DataField {
	return e.subFields
}

// Members returns the value and repeat elements making up a submission set
// of the root or of a repeat, with groups flattened.
func (e *FormElement) Members() []*FormElement {
	return e.members
}

func (e *FormElement) IsRepeat() bool {
	return e.Type == TypeRepeat
}

func (e *FormElement) Path() string {
	if e.parent == nil {
		return e.Name
	}
	return e.parent.Path() + "/" + e.Name
}

// Form is a compiled form definition: the element tree plus one relation
// for the root and one per repeat group.
type Form struct {
	ID   string
	Root *FormElement

	relations []*formstore.Relation
}

// NewForm compiles a form definition. The root relation is named id, repeat
// relations id_PATH; columns are upper-cased element names, prefixed by the
// names of enclosing groups.
func NewForm(id string, children ...*FormElement) (*Form, error) {
	if !validName(id) {
		return nil, fmt.Errorf("%w: invalid form ID %q", formstore.ErrInvalidSchema, id)
	}
	f := &Form{
		ID: id,
		Root: &FormElement{
			Name:     id,
			Type:     TypeGroup,
			Children: children,
		},
	}
	f.Root.form = f
	if err := f.compileRelation(f.Root, id); err != nil {
		return nil, err
	}
	return f, nil
}

func MustForm(id string, children ...*FormElement) *Form {
	f, err := NewForm(id, children...)
	if err != nil {
		panic(err)
	}
	return f
}

// Relations returns every relation of the form, root first.
func (f *Form) Relations() []*formstore.Relation {
	return f.relations
}

func (f *Form) RootRelation() *formstore.Relation {
	return f.Root.relation
}

// Find returns the first element with the given name in depth-first order.
func (f *Form) Find(name string) *FormElement {
	var find func(e *FormElement) *FormElement
	find = func(e *FormElement) *FormElement {
		if strings.EqualFold(e.Name, name) {
			return e
		}
		for _, c := range e.Children {
			if r := find(c); r != nil {
				return r
			}
		}
		return nil
	}
	for _, c := range f.Root.Children {
		if r := find(c); r != nil {
			return r
		}
	}
	return nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

func columnName(prefix, name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(prefix + name))
}

func (f *Form) compileRelation(owner *FormElement, relName string) error {
	slot := len(f.relations)
	f.relations = append(f.relations, nil)

	var fields []formstore.DataField
	var bound []*FormElement
	seen := make(map[string]bool)

	var walk func(parent *FormElement, prefix string) error
	walk = func(parent *FormElement, prefix string) error {
		for _, e := range parent.Children {
			if e == nil || !validName(e.Name) {
				return fmt.Errorf("%w: %s: invalid element name %q", formstore.ErrInvalidSchema, parent.Path(), nameOf(e))
			}
			e.form, e.parent, e.owner = f, parent, owner
			e.column, e.subColumns = "", nil
			lower := strings.ToLower(e.Name)
			if seen[lower] {
				return fmt.Errorf("%w: %s: duplicate element %s", formstore.ErrInvalidSchema, owner.Path(), e.Name)
			}
			seen[lower] = true

			col := columnName(prefix, e.Name)
			switch e.Type {
			case TypeGroup:
				if err := walk(e, prefix+e.Name+"_"); err != nil {
					return err
				}
				continue
			case TypeRepeat:
				if err := f.compileRelation(e, relName+"_"+col); err != nil {
					return err
				}
			case TypeString, TypeChoices:
				fields = append(fields, column(e, col, formstore.LongString))
			case TypeLong:
				fields = append(fields, column(e, col, formstore.Integer))
			case TypeDecimal:
				fields = append(fields, column(e, col, formstore.Decimal))
			case TypeBoolean:
				fields = append(fields, column(e, col, formstore.Boolean))
			case TypeBinary:
				fields = append(fields, column(e, col, formstore.URI))
			case TypeDate, TypeTime, TypeDateTime:
				fields = append(fields, column(e, col, formstore.DateTime))
				if !e.Legacy {
					fields = append(fields, subColumn(e, col+"_RAW", formstore.String))
				}
			case TypeGeoPoint:
				for _, suffix := range geoSuffixes {
					fields = append(fields, subColumn(e, col+suffix, formstore.Decimal))
				}
			default:
				return fmt.Errorf("%w: %s has unsupported type %v", formstore.ErrInvalidSchema, e.Path(), e.Type)
			}
			if e.Type != TypeRepeat {
				bound = append(bound, e)
			}
			owner.members = append(owner.members, e)
		}
		return nil
	}
	owner.members = nil
	if err := walk(owner, ""); err != nil {
		return err
	}

	rel, err := formstore.NewRelation(relName, fields...)
	if err != nil {
		return err
	}
	owner.relation = rel
	for _, e := range bound {
		e.relation = rel
		if e.column != "" {
			e.field = rel.MustField(e.column)
		}
		e.subFields = nil
		for _, name := range e.subColumns {
			e.subFields = append(e.subFields, rel.MustField(name))
		}
	}
	f.relations[slot] = rel
	return nil
}

var geoSuffixes = []string{"_LAT", "_LNG", "_ALT", "_ACC"}

func column(e *FormElement, name string, typ formstore.DataType) formstore.DataField {
	e.column = name
	return formstore.DataField{Name: name, Type: typ, Nullable: true}
}

func subColumn(e *FormElement, name string, typ formstore.DataType) formstore.DataField {
	e.subColumns = append(e.subColumns, name)
	return formstore.DataField{Name: name, Type: typ, Nullable: true}
}

func nameOf(e *FormElement) string {
	if e == nil {
		return "<nil>"
	}
	return e.Name
}
