package submission

import (
	"strconv"
	"strings"

	"github.com/andreyvit/formstore"
)

// Element is a node of a submission tree: a *SubmissionSet, a *Repeat or a
// Value.
type Element interface {
	FormElement() *FormElement
	SubmissionKey() SubmissionKey
	Format(f Formatter, out *OutputRow, ordinal string) error
}

// tree carries what all nodes of one submission share.
type tree struct {
	store *Store
	form  *Form
}

// SubmissionSet is a node backed by one row: the root of a submission or
// one occurrence of a repeat group.
type SubmissionSet struct {
	tree      *tree
	elem      *FormElement
	row       *formstore.Row
	enclosing *SubmissionSet
	repeat    *Repeat

	elements []Element
	byName   map[string]Element
}

func newSet(t *tree, elem *FormElement, row *formstore.Row, enclosing *SubmissionSet, repeat *Repeat) *SubmissionSet {
	set := &SubmissionSet{
		tree:      t,
		elem:      elem,
		row:       row,
		enclosing: enclosing,
		repeat:    repeat,
		byName:    make(map[string]Element, len(elem.members)),
	}
	for _, m := range elem.members {
		var e Element
		if m.Type == TypeRepeat {
			e = &Repeat{elem: m, enclosing: set, index: make(map[int64]*SubmissionSet)}
		} else {
			e = newValue(m, set)
		}
		set.elements = append(set.elements, e)
		set.byName[strings.ToLower(m.Name)] = e
	}
	return set
}

func (set *SubmissionSet) FormElement() *FormElement { return set.elem }
func (set *SubmissionSet) Form() *Form               { return set.tree.form }
func (set *SubmissionSet) Row() *formstore.Row       { return set.row }
func (set *SubmissionSet) URI() string               { return set.row.URI() }
func (set *SubmissionSet) Key() formstore.EntityKey  { return set.row.Key() }
func (set *SubmissionSet) OrdinalNumber() int64      { return set.row.OrdinalNumber() }

// Enclosing returns the set this one is nested in, nil for the root.
func (set *SubmissionSet) Enclosing() *SubmissionSet { return set.enclosing }

// Owner returns the repeat group this set belongs to, nil for the root.
func (set *SubmissionSet) Owner() *Repeat { return set.repeat }

func (set *SubmissionSet) IsRoot() bool { return set.enclosing == nil }

func (set *SubmissionSet) Root() *SubmissionSet {
	for set.enclosing != nil {
		set = set.enclosing
	}
	return set
}

func (set *SubmissionSet) Elements() []Element {
	return set.elements
}

func (set *SubmissionSet) Element(name string) Element {
	return set.byName[strings.ToLower(name)]
}

func (set *SubmissionSet) Repeat(name string) *Repeat {
	r, _ := set.Element(name).(*Repeat)
	return r
}

func (set *SubmissionSet) Value(name string) Value {
	v, _ := set.Element(name).(Value)
	return v
}

func (set *SubmissionSet) Repeats() []*Repeat {
	var result []*Repeat
	for _, e := range set.elements {
		if r, ok := e.(*Repeat); ok {
			result = append(result, r)
		}
	}
	return result
}

func (set *SubmissionSet) values() []Value {
	var result []Value
	for _, e := range set.elements {
		if v, ok := e.(Value); ok {
			result = append(result, v)
		}
	}
	return result
}

// SubmissionKey is form#auri for the root and enclosing/repeat[ordinal] for
// the sets of a repeat group.
func (set *SubmissionSet) SubmissionKey() SubmissionKey {
	if set.enclosing == nil {
		return SubmissionKey{{Name: set.elem.Name, Auri: set.URI()}}
	}
	return set.enclosing.SubmissionKey().Append(KeyPart{Name: set.elem.Name, Ordinal: set.OrdinalNumber()})
}

// Format emits the set's URI followed by each of its elements.
func (set *SubmissionSet) Format(f Formatter, out *OutputRow, ordinal string) error {
	f.FormatUID(set.URI(), formstore.FieldURI, out)
	if set.repeat != nil {
		ordinal = strconv.FormatInt(set.OrdinalNumber(), 10)
	}
	for _, e := range set.elements {
		if err := e.Format(f, out, ordinal); err != nil {
			return err
		}
	}
	return nil
}

func (set *SubmissionSet) String() string {
	return set.SubmissionKey().String()
}

// Resolve returns the element addressed by key, or nil when there is none.
// A key whose first part names the form is absolute and must match this
// set's auri if it carries one; any other key is relative to this set.
func (set *SubmissionSet) Resolve(key SubmissionKey) Element {
	if len(key) > 0 && set.enclosing == nil && strings.EqualFold(key[0].Name, set.elem.Name) {
		if key[0].Ordinal > 1 || (key[0].Auri != "" && key[0].Auri != set.URI()) {
			return nil
		}
		return set.resolveRelative(key[1:])
	}
	return set.resolveRelative(key)
}

// ResolveString parses and resolves a key.
func (set *SubmissionSet) ResolveString(s string) (Element, error) {
	key, err := ParseKey(s)
	if err != nil {
		return nil, err
	}
	return set.Resolve(key), nil
}

func (set *SubmissionSet) resolveRelative(parts SubmissionKey) Element {
	if len(parts) == 0 {
		return set
	}
	switch e := set.Element(parts[0].Name).(type) {
	case *Repeat:
		return e.resolve(parts)
	case Value:
		if len(parts) == 1 && parts[0].Ordinal == 0 && parts[0].Auri == "" {
			return e
		}
	}
	return nil
}

// Repeat is a repeat group: the ordered sets nested under one enclosing set.
type Repeat struct {
	elem      *FormElement
	enclosing *SubmissionSet
	sets      []*SubmissionSet
	index     map[int64]*SubmissionSet
}

func (r *Repeat) FormElement() *FormElement { return r.elem }

func (r *Repeat) Enclosing() *SubmissionSet { return r.enclosing }

// UniqueKey is the URI of the enclosing row, which child rows carry as
// their parent link.
func (r *Repeat) UniqueKey() string {
	return r.enclosing.URI()
}

func (r *Repeat) Relation() *formstore.Relation {
	return r.elem.relation
}

func (r *Repeat) Sets() []*SubmissionSet {
	return r.sets
}

func (r *Repeat) Len() int {
	return len(r.sets)
}

// Set returns the set with the given ordinal number, nil if there is none.
func (r *Repeat) Set(ordinal int64) *SubmissionSet {
	return r.index[ordinal]
}

func (r *Repeat) SubmissionKey() SubmissionKey {
	return r.enclosing.SubmissionKey().Append(KeyPart{Name: r.elem.Name})
}

func (r *Repeat) Format(f Formatter, out *OutputRow, ordinal string) error {
	return f.FormatRepeats(r, out)
}

func (r *Repeat) String() string {
	return r.SubmissionKey().String()
}

// AddSet appends a new occurrence numbered after the last one.
func (r *Repeat) AddSet() *SubmissionSet {
	t := r.enclosing.tree
	next := int64(1)
	if n := len(r.sets); n > 0 {
		next = r.sets[n-1].OrdinalNumber() + 1
	}
	row := formstore.NewRow(r.elem.relation)
	row.SetURI(t.store.newURI())
	row.SetParentAuri(r.UniqueKey())
	row.SetTopLevelAuri(r.enclosing.Root().URI())
	row.SetOrdinalNumber(next)
	row.SetCreationDate(t.store.now())
	set := newSet(t, r.elem, row, r.enclosing, r)
	r.add(set)
	return set
}

func (r *Repeat) add(set *SubmissionSet) {
	r.sets = append(r.sets, set)
	r.index[set.OrdinalNumber()] = set
}

func (r *Repeat) clear() {
	r.sets = nil
	r.index = make(map[int64]*SubmissionSet)
}

// resolve handles parts whose first element names this repeat: an ordinal
// selects by index, an auri by scan, neither addresses the group itself.
func (r *Repeat) resolve(parts SubmissionKey) Element {
	p := parts[0]
	switch {
	case p.Ordinal > 0:
		set := r.index[p.Ordinal]
		if set == nil {
			return nil
		}
		if p.Auri != "" && p.Auri != set.URI() {
			return nil
		}
		return set.resolveRelative(parts[1:])
	case p.Auri != "":
		for _, set := range r.sets {
			if set.URI() == p.Auri {
				return set.resolveRelative(parts[1:])
			}
		}
		return nil
	case len(parts) == 1:
		return r
	default:
		return nil
	}
}
