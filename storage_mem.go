package formstore

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

const memBucketSep = "\x00"

// memStorage is a transient in-memory engine. A writable transaction works on
// a private copy of the buckets and publishes it on commit; writers are
// serialized, readers see the last committed state.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, Classified(ErrTransient, fmt.Errorf("storage closed"))
	}
	if !writable {
		// Committed buckets are never mutated in place, so readers can share them.
		return &memTx{base: s, buckets: s.buckets}, nil
	}
	for s.writer && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, Classified(ErrTransient, fmt.Errorf("storage closed"))
	}
	s.writer = true

	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b
	}
	return &memTx{
		writable: true,
		base:     s,
		buckets:  snap,
		copied:   make(map[string]bool),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	copied   map[string]bool
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	for _, key := range []string{memBucketKey(name, ""), memBucketKey(name, sub)} {
		if tx.buckets[key] == nil {
			tx.buckets[key] = &memBucket{}
			tx.copied[key] = true
		}
	}
	return memBucketHandle{tx: tx, key: memBucketKey(name, sub)}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return Classified(ErrTransient, fmt.Errorf("storage closed"))
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

// mutable returns the transaction's private copy of a bucket, cloning the
// committed one on first write.
func (tx *memTx) mutable(key string) *memBucket {
	if !tx.copied[key] {
		tx.buckets[key] = tx.buckets[key].clone()
		tx.copied[key] = true
	}
	return tx.buckets[key]
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	i := sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
	return i, i < len(b.items) && bytes.Equal(b.items[i].key, key)
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx  *memTx
	key string
}

func (b memBucketHandle) bucket() *memBucket {
	return b.tx.buckets[b.key]
}

func (b memBucketHandle) Get(key []byte) []byte {
	bk := b.bucket()
	i, ok := bk.find(key)
	if !ok {
		return nil
	}
	return bk.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	bk := b.tx.mutable(b.key)
	kv := memKV{key: slices.Clone(key), value: slices.Clone(value)}
	if kv.value == nil {
		kv.value = []byte{}
	}
	i, ok := bk.find(key)
	if ok {
		bk.items[i] = kv
	} else {
		bk.items = slices.Insert(bk.items, i, kv)
	}
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	bk := b.tx.mutable(b.key)
	i, ok := bk.find(key)
	if ok {
		bk.items = slices.Delete(bk.items, i, i+1)
	}
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: b.bucket(), pos: -1}
}

// memCursor iterates over the bucket state as of cursor creation.
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[i]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.b.find(seek)
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	return c.at(c.pos + 1)
}
