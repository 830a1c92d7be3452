package formstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.etcd.io/bbolt"
)

const (
	relationBucketPrefix = "r."
	dataSub              = "data"
	parentIndexSub       = "i.parent"
	topIndexSub          = "i.top"
)

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// Timeout bounds the wait for the Bolt file lock when opening.
	Timeout time.Duration

	// MaxValueSize caps the encoded size of one row; larger rows fail with
	// ErrOverQuota. Zero means only the engine's own limit applies.
	MaxValueSize int
}

// KVStore is a Datastore on top of a key-value engine.
type KVStore struct {
	st           storage
	logger       *slog.Logger
	verbose      bool
	maxValueSize int
}

var _ Datastore = (*KVStore)(nil)

// OpenBolt opens (creating if needed) a Bolt-backed store at path.
func OpenBolt(path string, opt Options) (*KVStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("formstore: %w", classifyBoltErr(err))
	}
	return newKVStore(newBoltStorage(bdb), opt), nil
}

// NewMemory returns a transient in-memory store, intended for tests.
func NewMemory(opt Options) *KVStore {
	return newKVStore(newMemStorage(), opt)
}

func newKVStore(st storage, opt Options) *KVStore {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		st:           st,
		logger:       logger,
		verbose:      opt.Verbose,
		maxValueSize: opt.MaxValueSize,
	}
}

func (s *KVStore) Close() error {
	return s.st.Close()
}

func relationBucket(rel *Relation) string {
	return relationBucketPrefix + rel.name
}

func (s *KVStore) EnsureRelation(ctx context.Context, rel *Relation) error {
	return s.update(ctx, "ensure", rel, "", func(tx storageTx) error {
		for _, sub := range []string{dataSub, parentIndexSub, topIndexSub} {
			if _, err := tx.CreateBucket(relationBucket(rel), sub); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *KVStore) Get(ctx context.Context, rel *Relation, uri string) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return nil, storageErrf("get", rel, uri, err, "")
	}
	defer tx.Rollback()

	data := tx.Bucket(relationBucket(rel), dataSub)
	if data == nil {
		return nil, storageErrf("get", rel, uri, errBucketNotFound, "")
	}
	v := data.Get([]byte(uri))
	if v == nil {
		return nil, storageErrf("get", rel, uri, ErrNotFound, "")
	}
	return decodeMappedRow(rel, v)
}

func (s *KVStore) Put(ctx context.Context, row *Row) error {
	return s.write(ctx, "put", row, true)
}

func (s *KVStore) Insert(ctx context.Context, row *Row) error {
	return s.write(ctx, "insert", row, false)
}

func (s *KVStore) write(ctx context.Context, op string, row *Row, replace bool) error {
	rel, uri := row.rel, row.URI()
	if err := row.Validate(); err != nil {
		return storageErrf(op, rel, uri, err, "")
	}
	value := encodeRow(nil, row)
	if s.maxValueSize > 0 && len(value) > s.maxValueSize {
		return storageErrf(op, rel, uri, ErrOverQuota, "row is %d bytes, limit is %d", len(value), s.maxValueSize)
	}
	return s.update(ctx, op, rel, uri, func(tx storageTx) error {
		data, parentIdx, topIdx, err := relationBuckets(tx, rel)
		if err != nil {
			return err
		}
		key := []byte(uri)
		if old := data.Get(key); old != nil {
			if !replace {
				return ErrAlreadyExists
			}
			oldRow, err := decodeMappedRow(rel, old)
			if err != nil {
				return err
			}
			if err := deleteIndexEntries(parentIdx, topIdx, oldRow); err != nil {
				return err
			}
		}
		if err := data.Put(key, value); err != nil {
			return err
		}
		return putIndexEntries(parentIdx, topIdx, row)
	})
}

func (s *KVStore) Delete(ctx context.Context, key EntityKey) error {
	return s.update(ctx, "delete", key.Relation, key.URI, func(tx storageTx) error {
		data, parentIdx, topIdx, err := relationBuckets(tx, key.Relation)
		if err != nil {
			return err
		}
		old := data.Get([]byte(key.URI))
		if old == nil {
			return nil
		}
		oldRow, err := decodeMappedRow(key.Relation, old)
		if err != nil {
			return err
		}
		if err := deleteIndexEntries(parentIdx, topIdx, oldRow); err != nil {
			return err
		}
		return data.Delete([]byte(key.URI))
	})
}

func (s *KVStore) update(ctx context.Context, op string, rel *Relation, uri string, f func(tx storageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return storageErrf(op, rel, uri, err, "")
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return storageErrf(op, rel, uri, err, "")
	}
	if err := tx.Commit(); err != nil {
		return storageErrf(op, rel, uri, err, "commit")
	}
	if s.verbose {
		s.logger.Debug("formstore: "+op, "relation", rel.name, "uri", uri)
	}
	return nil
}

func relationBuckets(tx storageTx, rel *Relation) (data, parentIdx, topIdx storageBucket, err error) {
	name := relationBucket(rel)
	data = tx.Bucket(name, dataSub)
	parentIdx = tx.Bucket(name, parentIndexSub)
	topIdx = tx.Bucket(name, topIndexSub)
	if data == nil || parentIdx == nil || topIdx == nil {
		return nil, nil, nil, fmt.Errorf("%w (relation not ensured)", errBucketNotFound)
	}
	return data, parentIdx, topIdx, nil
}

func putIndexEntries(parentIdx, topIdx storageBucket, row *Row) error {
	if p := row.ParentAuri(); p != "" {
		if err := parentIdx.Put(appendIndexKey(nil, p, row.OrdinalNumber(), row.URI()), nil); err != nil {
			return err
		}
	}
	if t := row.TopLevelAuri(); t != "" {
		if err := topIdx.Put(appendIndexKey(nil, t, row.OrdinalNumber(), row.URI()), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexEntries(parentIdx, topIdx storageBucket, row *Row) error {
	if p := row.ParentAuri(); p != "" {
		if err := parentIdx.Delete(appendIndexKey(nil, p, row.OrdinalNumber(), row.URI())); err != nil {
			return err
		}
	}
	if t := row.TopLevelAuri(); t != "" {
		if err := topIdx.Delete(appendIndexKey(nil, t, row.OrdinalNumber(), row.URI())); err != nil {
			return err
		}
	}
	return nil
}

func decodeMappedRow(rel *Relation, value []byte) (*Row, error) {
	raw, err := decodeRow(value)
	if err != nil {
		return nil, err
	}
	return MapRow(rel, raw)
}

// Query streams rows lazily when the storage order already satisfies the
// sort keys: an equality filter on _PARENT_AURI or _TOP_LEVEL_AURI scans that
// index in (value, ordinal, URI) order, anything else scans the data bucket in
// URI order. Other orders are materialized and stably sorted.
func (s *KVStore) Query(ctx context.Context, q *Query) (Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := q.rel
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return nil, storageErrf("query", rel, "", err, "%v", q)
	}
	name := relationBucket(rel)
	data := tx.Bucket(name, dataSub)
	if data == nil {
		tx.Rollback()
		return nil, storageErrf("query", rel, "", errBucketNotFound, "%v", q)
	}

	rows := &kvRows{
		ctx:    ctx,
		tx:     tx,
		q:      q,
		data:   data,
		limit:  q.limit,
		logger: s.logger,
	}
	natural := []*DataField{rel.URIField()}
	indexField := indexedEquality(q)
	if indexField != nil {
		sub := parentIndexSub
		if indexField == rel.TopLevelAuriField() {
			sub = topIndexSub
		}
		idx := tx.Bucket(name, sub)
		if idx == nil {
			tx.Rollback()
			return nil, storageErrf("query", rel, "", errBucketNotFound, "%v", q)
		}
		value := equalityValue(q, indexField)
		rang := rawRange{Prefix: appendIndexValuePrefix(nil, value)}
		if ord, ok := ordinalLowerBound(q); ok {
			rang.Lower = appendIndexKey(nil, value, ord, "")
		}
		rows.cur = rang.newCursor(idx.Cursor(), s.scanLogger())
		rows.viaIndex = true
		natural = []*DataField{indexField, rel.OrdinalNumberField(), rel.URIField()}
	} else {
		rang := rawRange{}
		rows.cur = rang.newCursor(data.Cursor(), s.scanLogger())
	}
	if s.verbose {
		s.logger.Debug("formstore: query", "query", q.String(), "via_index", rows.viaIndex)
	}

	if sortSatisfied(q, natural) {
		return rows, nil
	}
	// materialize and sort; the limit applies after sorting
	rows.limit = 0
	all, err := All(rows)
	if err != nil {
		return nil, err
	}
	q.SortRows(all)
	if q.limit > 0 && len(all) > q.limit {
		all = all[:q.limit]
	}
	return newSliceRows(all), nil
}

// scanLogger traces raw cursor moves in verbose mode.
func (s *KVStore) scanLogger() *slog.Logger {
	if s.verbose {
		return s.logger
	}
	return nil
}

// ordinalLowerBound returns the smallest ordinal number the query's filters
// admit, letting an index scan seek past lower ones.
func ordinalLowerBound(q *Query) (int64, bool) {
	var bound int64
	var found bool
	for _, f := range q.filters {
		if f.Field != q.rel.OrdinalNumberField() {
			continue
		}
		n, ok := f.Value.(int64)
		if !ok {
			continue
		}
		switch f.Op {
		case GreaterOrEqual:
		case Greater:
			if n == math.MaxInt64 {
				continue
			}
			n++
		default:
			continue
		}
		if !found || n > bound {
			bound, found = n, true
		}
	}
	return bound, found
}

func indexedEquality(q *Query) *DataField {
	for _, f := range q.filters {
		if f.Op != Equal || f.Value == nil {
			continue
		}
		if f.Field == q.rel.ParentAuriField() || f.Field == q.rel.TopLevelAuriField() {
			return f.Field
		}
	}
	return nil
}

func equalityValue(q *Query, field *DataField) string {
	for _, f := range q.filters {
		if f.Field == field && f.Op == Equal && f.Value != nil {
			return f.Value.(string)
		}
	}
	panic("unreachable")
}

// sortSatisfied reports whether streaming in natural order already yields the
// requested order. Sort keys on fields pinned by an equality filter are
// ignored; the rest must be an ascending prefix of natural.
func sortSatisfied(q *Query, natural []*DataField) bool {
	i := 0
	for _, s := range q.sorts {
		if isPinned(q, s.Field) {
			continue
		}
		if s.Direction != Ascending {
			return false
		}
		for i < len(natural) && isPinned(q, natural[i]) {
			i++
		}
		if i >= len(natural) || natural[i] != s.Field {
			return false
		}
		i++
	}
	return true
}

func isPinned(q *Query, field *DataField) bool {
	for _, f := range q.filters {
		if f.Field == field && f.Op == Equal && f.Value != nil {
			return true
		}
	}
	return false
}

type kvRows struct {
	ctx      context.Context
	tx       storageTx
	q        *Query
	data     storageBucket
	cur      *rawRangeCursor
	viaIndex bool
	limit    int
	count    int
	row      *Row
	err      error
	closed   bool
	logger   *slog.Logger
}

func (r *kvRows) Next() bool {
	r.row = nil
	if r.closed || r.err != nil {
		return false
	}
	if r.limit > 0 && r.count >= r.limit {
		r.Close()
		return false
	}
	for r.cur.Next() {
		if err := r.ctx.Err(); err != nil {
			r.fail(err)
			return false
		}
		value := r.cur.Value()
		if r.viaIndex {
			uri, err := decodeIndexKey(r.cur.Key())
			if err != nil {
				r.fail(err)
				return false
			}
			value = r.data.Get([]byte(uri))
			if value == nil {
				r.fail(dataErrf(r.cur.Key(), 0, nil, "index entry points to missing row %q", uri))
				return false
			}
		}
		row, err := decodeMappedRow(r.q.rel, value)
		if err != nil {
			r.fail(err)
			return false
		}
		if !r.q.Match(row) {
			continue
		}
		r.row = row
		r.count++
		return true
	}
	r.Close()
	return false
}

func (r *kvRows) fail(err error) {
	r.err = storageErrf("query", r.q.rel, "", err, "%v", r.q)
	r.Close()
}

func (r *kvRows) Row() *Row  { return r.row }
func (r *kvRows) Err() error { return r.err }

func (r *kvRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.tx.Rollback()
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
