package formstore

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type FilterOp int

const (
	Equal FilterOp = iota
	NotEqual
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

var filterOpSymbols = [...]string{"=", "<>", "<", "<=", ">", ">="}

func (op FilterOp) String() string {
	if op >= 0 && int(op) < len(filterOpSymbols) {
		return filterOpSymbols[op]
	}
	return fmt.Sprintf("FilterOp(%d)", int(op))
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

type Filter struct {
	Field *DataField
	Op    FilterOp
	Value any
}

type Sort struct {
	Field     *DataField
	Direction Direction
}

// Query is a backend-agnostic filter and sort specification over one relation.
type Query struct {
	rel     *Relation
	filters []Filter
	sorts   []Sort
	limit   int
}

func NewQuery(rel *Relation) *Query {
	return &Query{rel: rel}
}

func (q *Query) Relation() *Relation { return q.rel }
func (q *Query) Filters() []Filter   { return q.filters }
func (q *Query) Sorts() []Sort       { return q.sorts }
func (q *Query) Limit() int          { return q.limit }

// Filter adds a predicate. A nil value only makes sense with Equal and
// NotEqual, and matches absent values.
func (q *Query) Filter(f *DataField, op FilterOp, value any) *Query {
	q.rel.checkField(f)
	if value != nil {
		if err := checkValueType(f, value); err != nil {
			panic(err)
		}
	}
	if op < Equal || op > GreaterOrEqual {
		panic(fmt.Errorf("%w: invalid filter operation %v", ErrInvalidSchema, op))
	}
	q.filters = append(q.filters, Filter{f, op, value})
	return q
}

func (q *Query) Sort(f *DataField, dir Direction) *Query {
	q.rel.checkField(f)
	q.sorts = append(q.sorts, Sort{f, dir})
	return q
}

// SetLimit caps the number of returned rows; zero means no limit.
func (q *Query) SetLimit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) String() string {
	var buf strings.Builder
	buf.WriteString(q.rel.name)
	for i, f := range q.filters {
		if i == 0 {
			buf.WriteString(" where ")
		} else {
			buf.WriteString(" and ")
		}
		fmt.Fprintf(&buf, "%s %v %v", f.Field.Name, f.Op, f.Value)
	}
	for i, s := range q.sorts {
		if i == 0 {
			buf.WriteString(" order by ")
		} else {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s %v", s.Field.Name, s.Direction)
	}
	if q.limit > 0 {
		fmt.Fprintf(&buf, " limit %d", q.limit)
	}
	return buf.String()
}

// Match evaluates all filters against row.
func (q *Query) Match(row *Row) bool {
	for _, f := range q.filters {
		if !f.match(row.values[f.Field.pos]) {
			return false
		}
	}
	return true
}

func (f Filter) match(v any) bool {
	if f.Value == nil || v == nil {
		switch f.Op {
		case Equal:
			return f.Value == nil && v == nil
		case NotEqual:
			return (f.Value == nil) != (v == nil)
		default:
			return false
		}
	}
	c := compareValues(v, f.Value)
	switch f.Op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Less:
		return c < 0
	case LessOrEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	default:
		panic("unreachable")
	}
}

// SortRows orders rows by the query's sort keys; the sort is stable, so ties
// keep their storage order.
func (q *Query) SortRows(rows []*Row) {
	if len(q.sorts) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b *Row) int {
		for _, s := range q.sorts {
			c := compareValues(a.values[s.Field.pos], b.values[s.Field.pos])
			if s.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// compareValues orders typed values of the same field; absent values sort
// first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch a := a.(type) {
	case string:
		return strings.Compare(a, b.(string))
	case int64:
		return cmp.Compare(a, b.(int64))
	case decimal.Decimal:
		return a.Cmp(b.(decimal.Decimal))
	case bool:
		bb := b.(bool)
		switch {
		case a == bb:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case time.Time:
		return a.Compare(b.(time.Time))
	case []byte:
		return bytes.Compare(a, b.([]byte))
	default:
		panic(fmt.Errorf("cannot compare %T", a))
	}
}

// Rows is a lazily produced, finite, non-restartable sequence of query
// results. Close must be called when done.
type Rows interface {
	Next() bool
	Row() *Row
	Err() error
	Close() error
}

// All drains and closes rows.
func All(rows Rows) ([]*Row, error) {
	defer rows.Close()
	var result []*Row
	for rows.Next() {
		result = append(result, rows.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// sliceRows serves rows that are already materialized.
type sliceRows struct {
	rows []*Row
	cur  *Row
	pos  int
}

func newSliceRows(rows []*Row) *sliceRows {
	return &sliceRows{rows: rows}
}

func (r *sliceRows) Next() bool {
	if r.pos >= len(r.rows) {
		r.cur = nil
		return false
	}
	r.cur = r.rows[r.pos]
	r.pos++
	return true
}

func (r *sliceRows) Row() *Row    { return r.cur }
func (r *sliceRows) Err() error   { return nil }
func (r *sliceRows) Close() error { r.pos = len(r.rows); return nil }
