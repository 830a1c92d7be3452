package formstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

type engine struct {
	name string
	open func(t testing.TB, opt Options) *KVStore
}

var engines = []engine{
	{"mem", func(t testing.TB, opt Options) *KVStore {
		s := NewMemory(opt)
		t.Cleanup(func() { s.Close() })
		return s
	}},
	{"bolt", func(t testing.TB, opt Options) *KVStore {
		opt.IsTesting = true
		path := filepath.Join(t.TempDir(), "test.db")
		t.Logf("DB: %s", path)
		s := must(OpenBolt(path, opt))
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func forEachEngine(t *testing.T, f func(t *testing.T, s *KVStore)) {
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t, Options{Verbose: true})
			ensure(s.EnsureRelation(context.Background(), itemsRel))
			f(t, s)
		})
	}
}

func queryURIs(t testing.TB, s Datastore, q *Query) string {
	t.Helper()
	rows, err := s.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query(%v) failed: %v", q, err)
	}
	all, err := All(rows)
	if err != nil {
		t.Fatalf("Query(%v) rows failed: %v", q, err)
	}
	return uris(all)
}

func TestKVStorePutGet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		row := item("uuid:1", "", 1, "apple", 3)
		ensure(s.Put(ctx, row))

		got, err := s.Get(ctx, itemsRel, "uuid:1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if name, _ := got.String(itemName); name != "apple" {
			t.Fatalf("NAME = %q", name)
		}

		row.SetString(itemName, "banana", true)
		ensure(s.Put(ctx, row))
		got = must(s.Get(ctx, itemsRel, "uuid:1"))
		if name, _ := got.String(itemName); name != "banana" {
			t.Fatalf("NAME after upsert = %q", name)
		}

		if _, err := s.Get(ctx, itemsRel, "uuid:missing"); !IsNotFound(err) {
			t.Fatalf("Get(missing) err = %v, wanted not found", err)
		}
	})
}

func TestKVStoreInsertTwice(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		ensure(s.Insert(ctx, item("uuid:1", "", 1, "a", 1)))
		err := s.Insert(ctx, item("uuid:1", "", 1, "b", 1))
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("second Insert err = %v, wanted ErrAlreadyExists", err)
		}
		got := must(s.Get(ctx, itemsRel, "uuid:1"))
		if name, _ := got.String(itemName); name != "a" {
			t.Fatalf("failed Insert overwrote the row: NAME = %q", name)
		}
	})
}

func TestKVStoreRejectsInvalidRows(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		if err := s.Put(ctx, NewRow(itemsRel)); !errors.Is(err, ErrInvalidSchema) {
			t.Fatalf("Put without URI err = %v", err)
		}
		strict := MustRelation("strict", DataField{Name: "REQ", Type: String})
		ensure(s.EnsureRelation(ctx, strict))
		row := NewRow(strict)
		row.SetURI("uuid:1")
		if err := s.Put(ctx, row); !errors.Is(err, ErrInvalidSchema) {
			t.Fatalf("Put with null non-nullable field err = %v", err)
		}
	})
}

func TestKVStoreQueryByParent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		ensure(s.Put(ctx, item("c3", "p1", 3, "", 1)))
		ensure(s.Put(ctx, item("c1", "p1", 1, "", 1)))
		ensure(s.Put(ctx, item("x1", "p2", 1, "", 1)))
		ensure(s.Put(ctx, item("c2b", "p1", 2, "", 1)))
		ensure(s.Put(ctx, item("c2a", "p1", 2, "", 1)))
		ensure(s.Put(ctx, item("root", "", 1, "", 1)))

		q := NewQuery(itemsRel).
			Filter(itemsRel.ParentAuriField(), Equal, "p1").
			Sort(itemsRel.ParentAuriField(), Ascending).
			Sort(itemsRel.OrdinalNumberField(), Ascending)
		if got := queryURIs(t, s, q); got != "c1 c2a c2b c3" {
			t.Fatalf("children of p1 = %q", got)
		}

		q = NewQuery(itemsRel).Filter(itemsRel.ParentAuriField(), Equal, "nobody")
		if got := queryURIs(t, s, q); got != "" {
			t.Fatalf("children of nobody = %q", got)
		}

		// reparenting moves the index entry
		ensure(s.Put(ctx, item("c3", "p2", 2, "", 1)))
		q = NewQuery(itemsRel).Filter(itemsRel.ParentAuriField(), Equal, "p2").Sort(itemsRel.OrdinalNumberField(), Ascending)
		if got := queryURIs(t, s, q); got != "x1 c3" {
			t.Fatalf("children of p2 = %q", got)
		}

		ensure(s.Delete(ctx, EntityKey{itemsRel, "c1"}))
		ensure(s.Delete(ctx, EntityKey{itemsRel, "c1"}))
		q = NewQuery(itemsRel).Filter(itemsRel.ParentAuriField(), Equal, "p1")
		if got := queryURIs(t, s, q); got != "c2a c2b" {
			t.Fatalf("children of p1 after delete = %q", got)
		}
	})
}

func TestKVStoreQuerySortAndLimit(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		ensure(s.Put(ctx, item("a", "", 1, "x", 5)))
		ensure(s.Put(ctx, item("b", "", 1, "y", 9)))
		ensure(s.Put(ctx, item("c", "", 1, "z", 1)))
		ensure(s.Put(ctx, item("d", "", 1, "w", 9)))

		if got := queryURIs(t, s, NewQuery(itemsRel)); got != "a b c d" {
			t.Fatalf("full scan = %q", got)
		}
		q := NewQuery(itemsRel).Sort(itemQty, Descending).SetLimit(3)
		if got := queryURIs(t, s, q); got != "b d a" {
			t.Fatalf("top 3 by QTY = %q", got)
		}
		q = NewQuery(itemsRel).Filter(itemQty, GreaterOrEqual, int64(5)).SetLimit(2)
		if got := queryURIs(t, s, q); got != "a b" {
			t.Fatalf("QTY >= 5 limit 2 = %q", got)
		}
	})
}

func TestKVStoreQueryCancelled(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx, cancel := context.WithCancel(context.Background())
		ensure(s.Put(ctx, item("a", "", 1, "x", 5)))
		ensure(s.Put(ctx, item("b", "", 1, "x", 5)))
		rows := must(s.Query(ctx, NewQuery(itemsRel)))
		if !rows.Next() {
			t.Fatalf("no first row: %v", rows.Err())
		}
		cancel()
		if rows.Next() {
			t.Fatalf("Next succeeded after cancel")
		}
		if !errors.Is(rows.Err(), context.Canceled) {
			t.Fatalf("Err = %v, wanted context.Canceled", rows.Err())
		}
		ensure(rows.Close())
	})
}

func TestKVStoreUnknownRelation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		other := MustRelation("other")
		if _, err := s.Query(context.Background(), NewQuery(other)); !errors.Is(err, errBucketNotFound) {
			t.Fatalf("Query err = %v", err)
		}
		row := NewRow(other)
		row.SetURI("u")
		if err := s.Put(context.Background(), row); !errors.Is(err, errBucketNotFound) {
			t.Fatalf("Put err = %v", err)
		}
	})
}

func TestKVStoreMaxValueSize(t *testing.T) {
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t, Options{MaxValueSize: 64})
			ctx := context.Background()
			ensure(s.EnsureRelation(ctx, itemsRel))
			row := item("u", "", 1, "", 1)
			row.SetBytes(itemData, make([]byte, 100))
			err := s.Put(ctx, row)
			if !IsOverQuota(err) || IsRetryable(err) {
				t.Fatalf("oversized Put err = %v, wanted over quota", err)
			}
		})
	}
}

func TestKVStoreClosed(t *testing.T) {
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t, Options{})
			ensure(s.Close())
			_, err := s.Get(context.Background(), itemsRel, "u")
			if !IsRetryable(err) {
				t.Fatalf("Get on closed store err = %v, wanted transient", err)
			}
		})
	}
}

func TestBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s := must(OpenBolt(path, Options{IsTesting: true}))
	ensure(s.EnsureRelation(ctx, itemsRel))
	ensure(s.Put(ctx, item("u", "p", 4, "kept", 2)))
	ensure(s.Close())

	s = must(OpenBolt(path, Options{IsTesting: true}))
	defer s.Close()
	ensure(s.EnsureRelation(ctx, itemsRel))
	q := NewQuery(itemsRel).Filter(itemsRel.ParentAuriField(), Equal, "p")
	if got := queryURIs(t, s, q); got != "u" {
		t.Fatalf("after reopen = %q", got)
	}
}

func TestKVStoreQueryOrdinalLowerBound(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *KVStore) {
		ctx := context.Background()
		for i, uri := range []string{"c1", "c2", "c3", "c4"} {
			ensure(s.Put(ctx, item(uri, "p1", int64(i+1), "", 1)))
		}
		ensure(s.Put(ctx, item("x5", "p2", 5, "", 1)))

		ord := itemsRel.OrdinalNumberField()
		children := func() *Query {
			return NewQuery(itemsRel).
				Filter(itemsRel.ParentAuriField(), Equal, "p1").
				Sort(itemsRel.ParentAuriField(), Ascending).
				Sort(ord, Ascending)
		}
		if got := queryURIs(t, s, children().Filter(ord, GreaterOrEqual, int64(2))); got != "c2 c3 c4" {
			t.Errorf(">= 2: %q", got)
		}
		if got := queryURIs(t, s, children().Filter(ord, Greater, int64(2))); got != "c3 c4" {
			t.Errorf("> 2: %q", got)
		}
		if got := queryURIs(t, s, children().Filter(ord, GreaterOrEqual, int64(2)).Filter(ord, Greater, int64(3))); got != "c4" {
			t.Errorf(">= 2 and > 3: %q", got)
		}
		if got := queryURIs(t, s, children().Filter(ord, GreaterOrEqual, int64(9))); got != "" {
			t.Errorf(">= 9: %q", got)
		}
		if got := queryURIs(t, s, children().Filter(ord, Greater, int64(math.MaxInt64))); got != "" {
			t.Errorf("> max: %q", got)
		}
	})
}

func TestOrdinalLowerBound(t *testing.T) {
	ord := itemsRel.OrdinalNumberField()
	if _, ok := ordinalLowerBound(NewQuery(itemsRel).Filter(ord, LessOrEqual, int64(3))); ok {
		t.Errorf("upper bound taken as lower bound")
	}
	if n, ok := ordinalLowerBound(NewQuery(itemsRel).Filter(ord, Greater, int64(3)).Filter(ord, GreaterOrEqual, int64(2))); !ok || n != 4 {
		t.Errorf("bound = %d, %v; wanted 4", n, ok)
	}
	if _, ok := ordinalLowerBound(NewQuery(itemsRel).Filter(ord, Greater, int64(math.MaxInt64))); ok {
		t.Errorf("bound past MaxInt64")
	}
}
