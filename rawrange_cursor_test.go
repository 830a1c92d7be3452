package formstore

import (
	"log/slog"
	"testing"
)

func scanValues(cur *rawRangeCursor) []string {
	var got []string
	for cur.Next() {
		got = append(got, string(cur.Value()))
	}
	return got
}

func TestRawRangeCursorPrefixAndLower(t *testing.T) {
	s := newMemStorage()

	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))
	ensure(buck.Put([]byte{0x10, 0x01}, []byte("a")))
	ensure(buck.Put([]byte{0x10, 0x02}, []byte("b")))
	ensure(buck.Put([]byte{0x10, 0x03}, []byte("c")))
	ensure(buck.Put([]byte{0x11, 0x01}, []byte("x")))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := rtx.Bucket("b", "")
	logger := slog.Default()

	deepEqual(t, scanValues((&rawRange{}).newCursor(rbuck.Cursor(), logger)), []string{"a", "b", "c", "x"})
	deepEqual(t, scanValues((&rawRange{Prefix: []byte{0x10}}).newCursor(rbuck.Cursor(), logger)), []string{"a", "b", "c"})
	deepEqual(t, scanValues((&rawRange{Prefix: []byte{0x10}, Lower: []byte{0x10, 0x02}}).newCursor(rbuck.Cursor(), logger)), []string{"b", "c"})
	isempty(t, scanValues((&rawRange{Prefix: []byte{0x12}}).newCursor(rbuck.Cursor(), logger)))
}

func TestRawRangeCursorPrefixMismatchPanics(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))
	ensure(buck.Put([]byte{0x10}, []byte("a")))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := rtx.Bucket("b", "")

	expectPanic(t, "lower outside prefix", func() {
		cur := (&rawRange{Prefix: []byte{0x10}, Lower: []byte{0x11}}).newCursor(rbuck.Cursor(), slog.Default())
		_ = cur.Next()
	})
}

func TestMemStorageIsolation(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	ensure(must(wtx.CreateBucket("r", "data")).Put([]byte("k"), []byte("v1")))
	ensure(wtx.Commit())

	reader := must(s.BeginTx(false))
	defer reader.Rollback()

	wtx = must(s.BeginTx(true))
	ensure(wtx.Bucket("r", "data").Put([]byte("k"), []byte("v2")))
	ensure(wtx.Bucket("r", "data").Put([]byte("k2"), []byte("new")))
	if got := string(reader.Bucket("r", "data").Get([]byte("k"))); got != "v1" {
		t.Fatalf("reader sees uncommitted write: %q", got)
	}
	ensure(wtx.Commit())

	if got := string(reader.Bucket("r", "data").Get([]byte("k"))); got != "v1" {
		t.Fatalf("reader snapshot changed after commit: %q", got)
	}
	fresh := must(s.BeginTx(false))
	defer fresh.Rollback()
	if got := string(fresh.Bucket("r", "data").Get([]byte("k"))); got != "v2" {
		t.Fatalf("new reader = %q, wanted v2", got)
	}

	rolled := must(s.BeginTx(true))
	ensure(rolled.Bucket("r", "data").Delete([]byte("k")))
	ensure(rolled.Rollback())
	after := must(s.BeginTx(false))
	defer after.Rollback()
	if after.Bucket("r", "data").Get([]byte("k")) == nil {
		t.Fatalf("rolled back delete is visible")
	}
	if after.Bucket("r", "missing") != nil {
		t.Fatalf("missing bucket is non-nil")
	}
}

func TestMemStorageClosedIsTransient(t *testing.T) {
	s := newMemStorage()
	ensure(s.Close())
	if _, err := s.BeginTx(false); !IsRetryable(err) {
		t.Fatalf("BeginTx on closed storage err = %v, wanted transient", err)
	}
}
