package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/andreyvit/formstore"
)

const uriColumnLen = 80

func columnType(f *formstore.DataField) string {
	switch f.Type {
	case formstore.String:
		n := f.MaxCharLen
		if n <= 0 {
			n = formstore.DefaultMaxCharLen
		}
		return "VARCHAR(" + strconv.Itoa(n) + ")"
	case formstore.LongString:
		return "TEXT"
	case formstore.URI:
		return "VARCHAR(" + strconv.Itoa(uriColumnLen) + ")"
	case formstore.Integer:
		return "BIGINT"
	case formstore.Decimal:
		return "NUMERIC"
	case formstore.Boolean:
		return "BOOLEAN"
	case formstore.DateTime:
		return "TIMESTAMP"
	case formstore.Binary:
		return "BYTEA"
	default:
		panic(fmt.Errorf("%w: %s has unsupported type %v", formstore.ErrInvalidSchema, f.Name, f.Type))
	}
}

// maxIdentifierLen is the length past which Postgres silently truncates
// identifiers.
const maxIdentifierLen = 63

// checkIdentifiers rejects relations whose table, index or column names
// Postgres would truncate, since two such names could collide.
func checkIdentifiers(rel *formstore.Relation) error {
	for _, name := range []string{rel.Name(), rel.Name() + "_parent", rel.Name() + "_top"} {
		if len(name) > maxIdentifierLen {
			return fmt.Errorf("%w: identifier %q is longer than %d bytes", formstore.ErrInvalidSchema, name, maxIdentifierLen)
		}
	}
	for _, f := range rel.Fields() {
		if len(f.Name) > maxIdentifierLen {
			return fmt.Errorf("%w: %s: column %q is longer than %d bytes", formstore.ErrInvalidSchema, rel.Name(), f.Name, maxIdentifierLen)
		}
	}
	return nil
}

type dialect struct {
	schema string
}

func (d dialect) table(rel *formstore.Relation) string {
	if d.schema == "" {
		return pq.QuoteIdentifier(rel.Name())
	}
	return pq.QuoteIdentifier(d.schema) + "." + pq.QuoteIdentifier(rel.Name())
}

func columnList(rel *formstore.Relation) string {
	var buf strings.Builder
	for i, f := range rel.Fields() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(pq.QuoteIdentifier(f.Name))
	}
	return buf.String()
}

func (d dialect) createTable(rel *formstore.Relation) string {
	var buf strings.Builder
	buf.WriteString("CREATE TABLE IF NOT EXISTS ")
	buf.WriteString(d.table(rel))
	buf.WriteString(" (")
	for i, f := range rel.Fields() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(pq.QuoteIdentifier(f.Name))
		buf.WriteByte(' ')
		buf.WriteString(columnType(f))
		if f == rel.URIField() {
			buf.WriteString(" NOT NULL PRIMARY KEY")
		} else if !f.Nullable {
			buf.WriteString(" NOT NULL")
		}
	}
	buf.WriteString(")")
	return buf.String()
}

// createIndexes returns the secondary indexes serving parent and top-level
// lookups in ordinal order.
func (d dialect) createIndexes(rel *formstore.Relation) []string {
	parent := pq.QuoteIdentifier(rel.Name() + "_parent")
	top := pq.QuoteIdentifier(rel.Name() + "_top")
	return []string{
		"CREATE INDEX IF NOT EXISTS " + parent + " ON " + d.table(rel) + " (" +
			pq.QuoteIdentifier(formstore.FieldParentAuri) + ", " + pq.QuoteIdentifier(formstore.FieldOrdinalNumber) + ")",
		"CREATE INDEX IF NOT EXISTS " + top + " ON " + d.table(rel) + " (" +
			pq.QuoteIdentifier(formstore.FieldTopLevelAuri) + ")",
	}
}

func placeholders(from, n int) string {
	var buf strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(from + i))
	}
	return buf.String()
}

func (d dialect) insert(rel *formstore.Relation) string {
	return "INSERT INTO " + d.table(rel) + " (" + columnList(rel) + ") VALUES (" + placeholders(1, rel.FieldCount()) + ")"
}

func (d dialect) upsert(rel *formstore.Relation) string {
	var buf strings.Builder
	buf.WriteString(d.insert(rel))
	buf.WriteString(" ON CONFLICT (")
	buf.WriteString(pq.QuoteIdentifier(formstore.FieldURI))
	buf.WriteString(") DO UPDATE SET ")
	for i, f := range rel.Fields()[1:] {
		if i > 0 {
			buf.WriteString(", ")
		}
		col := pq.QuoteIdentifier(f.Name)
		buf.WriteString(col)
		buf.WriteString(" = EXCLUDED.")
		buf.WriteString(col)
	}
	return buf.String()
}

func (d dialect) get(rel *formstore.Relation) string {
	return "SELECT " + columnList(rel) + " FROM " + d.table(rel) + " WHERE " + pq.QuoteIdentifier(formstore.FieldURI) + " = $1"
}

func (d dialect) delete(rel *formstore.Relation) string {
	return "DELETE FROM " + d.table(rel) + " WHERE " + pq.QuoteIdentifier(formstore.FieldURI) + " = $1"
}

// selectQuery renders q. Ties are broken by _URI so that results come back
// in a stable order.
func (d dialect) selectQuery(q *formstore.Query) (string, []any) {
	rel := q.Relation()
	var buf strings.Builder
	var args []any
	buf.WriteString("SELECT ")
	buf.WriteString(columnList(rel))
	buf.WriteString(" FROM ")
	buf.WriteString(d.table(rel))

	for i, f := range q.Filters() {
		if i == 0 {
			buf.WriteString(" WHERE ")
		} else {
			buf.WriteString(" AND ")
		}
		col := pq.QuoteIdentifier(f.Field.Name)
		if f.Value == nil {
			switch f.Op {
			case formstore.Equal:
				buf.WriteString(col + " IS NULL")
			case formstore.NotEqual:
				buf.WriteString(col + " IS NOT NULL")
			default:
				buf.WriteString("FALSE")
			}
			continue
		}
		args = append(args, sqlValue(f.Value))
		ph := "$" + strconv.Itoa(len(args))
		if f.Op == formstore.NotEqual {
			// absent values differ from any present one
			buf.WriteString("(" + col + " <> " + ph + " OR " + col + " IS NULL)")
		} else {
			buf.WriteString(col + " " + f.Op.String() + " " + ph)
		}
	}

	buf.WriteString(" ORDER BY ")
	hasURI := false
	for _, s := range q.Sorts() {
		buf.WriteString(pq.QuoteIdentifier(s.Field.Name))
		if s.Direction == formstore.Descending {
			buf.WriteString(" DESC NULLS LAST, ")
		} else {
			buf.WriteString(" ASC NULLS FIRST, ")
		}
		if s.Field == rel.URIField() {
			hasURI = true
		}
	}
	if hasURI {
		s := buf.String()
		buf.Reset()
		buf.WriteString(strings.TrimSuffix(s, ", "))
	} else {
		buf.WriteString(pq.QuoteIdentifier(formstore.FieldURI))
		buf.WriteString(" ASC")
	}

	if q.Limit() > 0 {
		buf.WriteString(" LIMIT ")
		buf.WriteString(strconv.Itoa(q.Limit()))
	}
	return buf.String(), args
}
