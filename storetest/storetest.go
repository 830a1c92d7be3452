// Package storetest is a conformance suite for formstore.Datastore
// implementations, plus helpers shared by the tests of the other packages.
package storetest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andreyvit/formstore"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Logger returns a logger that writes through t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

// Clock is a manual time source for Options.Now fields.
type Clock struct {
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: Start}
}

func (c *Clock) Now() time.Time {
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Notes is the relation the suite works with.
var Notes = formstore.MustRelation("conformance_notes",
	formstore.DataField{Name: "TITLE", Type: formstore.String, Nullable: true},
	formstore.DataField{Name: "BODY", Type: formstore.LongString, Nullable: true},
	formstore.DataField{Name: "RANK", Type: formstore.Integer, Nullable: true},
	formstore.DataField{Name: "SCORE", Type: formstore.Decimal, Nullable: true},
	formstore.DataField{Name: "DONE", Type: formstore.Boolean, Nullable: true},
	formstore.DataField{Name: "DUE", Type: formstore.DateTime, Nullable: true},
	formstore.DataField{Name: "BLOB", Type: formstore.Binary, Nullable: true},
)

var (
	title = Notes.MustField("TITLE")
	body  = Notes.MustField("BODY")
	rank  = Notes.MustField("RANK")
	score = Notes.MustField("SCORE")
	done  = Notes.MustField("DONE")
	due   = Notes.MustField("DUE")
	blob  = Notes.MustField("BLOB")
)

func note(uri, parent string, ordinal int64, rankValue int64) *formstore.Row {
	row := formstore.NewRow(Notes)
	row.SetURI(uri)
	row.SetParentAuri(parent)
	row.SetTopLevelAuri(parent)
	row.SetOrdinalNumber(ordinal)
	row.SetCreationDate(Start)
	row.SetLong(rank, rankValue, true)
	return row
}

// Run exercises a Datastore. open must return an empty store; it is called
// once per subtest.
func Run(t *testing.T, open func(t *testing.T) formstore.Datastore) {
	setup := func(t *testing.T) formstore.Datastore {
		t.Helper()
		ds := open(t)
		if err := ds.EnsureRelation(context.Background(), Notes); err != nil {
			t.Fatalf("EnsureRelation failed: %v", err)
		}
		if err := ds.EnsureRelation(context.Background(), Notes); err != nil {
			t.Fatalf("second EnsureRelation failed: %v", err)
		}
		return ds
	}
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, setup(t)) })
	t.Run("Upsert", func(t *testing.T) { testUpsert(t, setup(t)) })
	t.Run("InsertTwice", func(t *testing.T) { testInsertTwice(t, setup(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, setup(t)) })
	t.Run("ChildrenInOrdinalOrder", func(t *testing.T) { testChildren(t, setup(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, setup(t)) })
	t.Run("SortAndLimit", func(t *testing.T) { testSortAndLimit(t, setup(t)) })
}

func testRoundTrip(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	local := time.Date(2024, 6, 1, 9, 30, 15, 123000000, time.FixedZone("X", 2*3600))
	row := note("uuid:1", "uuid:p", 4, -3)
	row.SetString(title, "Title", true)
	row.SetString(body, strings.Repeat("long ", 100), true)
	row.SetDecimal(score, decimal.RequireFromString("12.340"), true)
	row.SetBool(done, false, true)
	row.SetTime(due, local, true)
	row.SetBytes(blob, []byte{0, 0xFF, 7})
	row.SetLastUpdateDate(Start.Add(time.Hour))
	if err := ds.Put(ctx, row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ds.Get(ctx, Notes, "uuid:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ParentAuri() != "uuid:p" || got.TopLevelAuri() != "uuid:p" || got.OrdinalNumber() != 4 {
		t.Fatalf("metadata = %q %q %d", got.ParentAuri(), got.TopLevelAuri(), got.OrdinalNumber())
	}
	if !got.CreationDate().Equal(Start) || !got.LastUpdateDate().Equal(Start.Add(time.Hour)) {
		t.Fatalf("dates = %v %v", got.CreationDate(), got.LastUpdateDate())
	}
	if v, _ := got.String(title); v != "Title" {
		t.Errorf("TITLE = %q", v)
	}
	if v, _ := got.String(body); v != strings.Repeat("long ", 100) {
		t.Errorf("BODY = %q", v)
	}
	if v, _ := got.Long(rank); v != -3 {
		t.Errorf("RANK = %d", v)
	}
	if v, _ := got.Decimal(score); formstore.CanonicalDecimal(v) != "12.340" {
		t.Errorf("SCORE = %v, wanted scale kept", formstore.CanonicalDecimal(v))
	}
	if v, ok := got.Bool(done); !ok || v {
		t.Errorf("DONE = %v %v, wanted present false", v, ok)
	}
	if v, _ := got.Time(due); !v.Equal(local) || v.Location() != time.UTC {
		t.Errorf("DUE = %v, wanted %v in UTC", v, local.UTC())
	}
	if v := got.Bytes(blob); string(v) != "\x00\xff\x07" {
		t.Errorf("BLOB = %x", v)
	}

	if _, err := ds.Get(ctx, Notes, "uuid:none"); !errors.Is(err, formstore.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, wanted ErrNotFound", err)
	}
}

func testUpsert(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	row := note("uuid:1", "p", 1, 1)
	row.SetString(title, "first", true)
	mustDo(t, ds.Put(ctx, row))
	row = note("uuid:1", "q", 2, 2)
	mustDo(t, ds.Put(ctx, row))

	got, err := ds.Get(ctx, Notes, "uuid:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsNull(title) || got.ParentAuri() != "q" {
		t.Fatalf("upsert kept stale values: TITLE null=%v parent=%q", got.IsNull(title), got.ParentAuri())
	}
	if s := URIs(t, ds, byParent("p")); s != "" {
		t.Fatalf("old parent still lists %q", s)
	}
	if s := URIs(t, ds, byParent("q")); s != "uuid:1" {
		t.Fatalf("new parent lists %q", s)
	}
}

func testInsertTwice(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	mustDo(t, ds.Insert(ctx, note("uuid:1", "", 1, 1)))
	err := ds.Insert(ctx, note("uuid:1", "", 1, 2))
	if !errors.Is(err, formstore.ErrAlreadyExists) {
		t.Fatalf("second Insert err = %v, wanted ErrAlreadyExists", err)
	}
	if formstore.IsRetryable(err) {
		t.Fatalf("duplicate insert reported as retryable")
	}
}

func testDelete(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	mustDo(t, ds.Put(ctx, note("a", "p", 1, 1)))
	mustDo(t, ds.Put(ctx, note("b", "p", 2, 1)))
	mustDo(t, ds.Put(ctx, note("c", "p", 3, 1)))

	keys := []formstore.EntityKey{{Relation: Notes, URI: "a"}, {Relation: Notes, URI: "b"}, {Relation: Notes, URI: "missing"}}
	mustDo(t, formstore.DeleteKeys(ctx, ds, keys))
	if s := URIs(t, ds, byParent("p")); s != "c" {
		t.Fatalf("after DeleteKeys = %q", s)
	}
}

func testChildren(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	for _, r := range []*formstore.Row{
		note("c3", "p", 3, 0),
		note("c10", "p", 10, 0),
		note("c1", "p", 1, 0),
		note("other", "q", 2, 0),
		note("c2", "p", 2, 0),
		note("root", "", 1, 0),
	} {
		mustDo(t, ds.Put(ctx, r))
	}
	if s := URIs(t, ds, byParent("p")); s != "c1 c2 c3 c10" {
		t.Fatalf("children = %q", s)
	}
	q := formstore.NewQuery(Notes).Filter(Notes.TopLevelAuriField(), formstore.Equal, "q")
	if s := URIs(t, ds, q); s != "other" {
		t.Fatalf("by top-level owner = %q", s)
	}
}

func testFilters(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	a := note("a", "", 1, 1)
	a.SetString(title, "x", true)
	b := note("b", "", 1, 2)
	c := note("c", "", 1, 3)
	c.SetString(title, "y", true)
	for _, r := range []*formstore.Row{a, b, c} {
		mustDo(t, ds.Put(ctx, r))
	}

	cases := []struct {
		q    *formstore.Query
		want string
	}{
		{formstore.NewQuery(Notes).Filter(title, formstore.Equal, "x"), "a"},
		{formstore.NewQuery(Notes).Filter(title, formstore.NotEqual, "x"), "b c"},
		{formstore.NewQuery(Notes).Filter(title, formstore.Equal, nil), "b"},
		{formstore.NewQuery(Notes).Filter(title, formstore.NotEqual, nil), "a c"},
		{formstore.NewQuery(Notes).Filter(rank, formstore.Greater, int64(1)).Filter(rank, formstore.Less, int64(3)), "b"},
		{formstore.NewQuery(Notes).Filter(rank, formstore.LessOrEqual, int64(2)), "a b"},
		{formstore.NewQuery(Notes).Filter(rank, formstore.GreaterOrEqual, int64(3)), "c"},
	}
	for _, c := range cases {
		if s := URIs(t, ds, c.q.Sort(Notes.URIField(), formstore.Ascending)); s != c.want {
			t.Errorf("%v = %q, wanted %q", c.q, s, c.want)
		}
	}
}

func testSortAndLimit(t *testing.T, ds formstore.Datastore) {
	ctx := context.Background()
	for _, r := range []*formstore.Row{
		note("a", "", 1, 5),
		note("b", "", 1, 9),
		note("c", "", 1, 1),
		note("d", "", 1, 9),
	} {
		mustDo(t, ds.Put(ctx, r))
	}
	q := formstore.NewQuery(Notes).Sort(rank, formstore.Descending).SetLimit(3)
	if s := URIs(t, ds, q); s != "b d a" {
		t.Fatalf("top 3 by RANK = %q", s)
	}
	q = formstore.NewQuery(Notes).Sort(rank, formstore.Ascending)
	if s := URIs(t, ds, q); s != "c a b d" {
		t.Fatalf("by RANK = %q", s)
	}
}

func byParent(parent string) *formstore.Query {
	rel := Notes
	return formstore.NewQuery(rel).
		Filter(rel.ParentAuriField(), formstore.Equal, parent).
		Sort(rel.ParentAuriField(), formstore.Ascending).
		Sort(rel.OrdinalNumberField(), formstore.Ascending)
}

// URIs runs q and returns the space-separated URIs of the result.
func URIs(t testing.TB, ds formstore.Datastore, q *formstore.Query) string {
	t.Helper()
	rows, err := ds.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query(%v) failed: %v", q, err)
	}
	all, err := formstore.All(rows)
	if err != nil {
		t.Fatalf("Query(%v) failed: %v", q, err)
	}
	var uris []string
	for _, row := range all {
		uris = append(uris, row.URI())
	}
	return strings.Join(uris, " ")
}

func mustDo(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** %v", err)
	}
}
