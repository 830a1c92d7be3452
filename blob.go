package formstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andreyvit/formstore/metrics"
)

// ErrChunkExists is returned when a chunk is written twice.
var ErrChunkExists = fmt.Errorf("blob chunk %w", ErrAlreadyExists)

const (
	DefaultChunkSize = 512 * 1024
	BlobRelationName = "_BLOB_CHUNKS"
	BlobValueField   = "VALUE"
)

// BlobChunkRelation holds the chunks of all binary objects: one row per chunk,
// parented by the object ID, ordinal number = sequence index + 1.
var BlobChunkRelation = MustRelation(BlobRelationName,
	DataField{Name: BlobValueField, Type: Binary})

type BlobOptions struct {
	ChunkSize     int
	MaxObjectSize int64
	CacheChunks   int
	Logger        *slog.Logger
	Metrics       *metrics.Collector
	Now           func() time.Time
}

// BlobStore keeps binary objects as ordered sequences of write-once chunks.
// Content is never mutated; replacing it means writing a new object.
type BlobStore struct {
	ds            Datastore
	rel           *Relation
	value         *DataField
	chunkSize     int
	maxObjectSize int64
	cache         *lru.Cache[string, []byte]
	logger        *slog.Logger
	metrics       *metrics.Collector
	now           func() time.Time
}

func NewBlobStore(ctx context.Context, ds Datastore, opt BlobOptions) (*BlobStore, error) {
	bs := &BlobStore{
		ds:            ds,
		rel:           BlobChunkRelation,
		value:         BlobChunkRelation.MustField(BlobValueField),
		chunkSize:     opt.ChunkSize,
		maxObjectSize: opt.MaxObjectSize,
		logger:        opt.Logger,
		metrics:       opt.Metrics,
		now:           opt.Now,
	}
	if bs.chunkSize <= 0 {
		bs.chunkSize = DefaultChunkSize
	}
	if bs.logger == nil {
		bs.logger = slog.Default()
	}
	if bs.now == nil {
		bs.now = time.Now
	}
	if opt.CacheChunks > 0 {
		bs.cache = must(lru.New[string, []byte](opt.CacheChunks))
	}
	if err := ds.EnsureRelation(ctx, bs.rel); err != nil {
		return nil, err
	}
	return bs, nil
}

func chunkURI(objectID string, seq int) string {
	return objectID + "#" + strconv.Itoa(seq)
}

// NewObjectID allocates an identifier for a new binary object.
func NewObjectID() string {
	return "uuid:" + uuid.NewString()
}

// Put writes chunk seq of objectID. Each (objectID, seq) can be written only
// once; a second write fails with ErrChunkExists.
func (bs *BlobStore) Put(ctx context.Context, objectID string, seq int, data []byte) error {
	if objectID == "" || strings.Contains(objectID, "#") {
		return fmt.Errorf("%w: invalid blob object ID %q", ErrInvalidSchema, objectID)
	}
	if seq < 0 {
		return fmt.Errorf("%w: negative chunk sequence %d", ErrInvalidSchema, seq)
	}
	if data == nil {
		data = []byte{}
	}
	row := NewRow(bs.rel)
	row.SetURI(chunkURI(objectID, seq))
	row.SetParentAuri(objectID)
	row.SetTopLevelAuri(objectID)
	row.SetOrdinalNumber(int64(seq) + 1)
	row.SetCreationDate(bs.now())
	row.SetBytes(bs.value, data)
	err := bs.ds.Insert(ctx, row)
	if errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("%s chunk %d: %w", objectID, seq, ErrChunkExists)
	} else if err != nil {
		return err
	}
	bs.metrics.BlobBytesWritten(len(data))
	return nil
}

// Write stores the content of r as a new object split into chunks and
// returns its ID. Content over MaxObjectSize fails with ErrOverQuota and
// leaves nothing behind.
func (bs *BlobStore) Write(ctx context.Context, r io.Reader) (string, error) {
	objectID := NewObjectID()
	buf := make([]byte, bs.chunkSize)
	var total int64
	var seq int
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			total += int64(n)
			if bs.maxObjectSize > 0 && total > bs.maxObjectSize {
				bs.cleanup(ctx, objectID)
				return "", fmt.Errorf("blob exceeds %d bytes: %w", bs.maxObjectSize, ErrOverQuota)
			}
			if perr := bs.Put(ctx, objectID, seq, buf[:n]); perr != nil {
				bs.cleanup(ctx, objectID)
				return "", perr
			}
			seq++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			bs.cleanup(ctx, objectID)
			return "", err
		}
	}
	if seq == 0 {
		if err := bs.Put(ctx, objectID, 0, nil); err != nil {
			return "", err
		}
	}
	return objectID, nil
}

func (bs *BlobStore) cleanup(ctx context.Context, objectID string) {
	if err := bs.Delete(ctx, objectID); err != nil {
		bs.logger.Error("formstore: cannot remove partially written blob", "object", objectID, "err", err)
	}
}

func (bs *BlobStore) chunkQuery(objectID string) *Query {
	return NewQuery(bs.rel).
		Filter(bs.rel.ParentAuriField(), Equal, objectID).
		Sort(bs.rel.ParentAuriField(), Ascending).
		Sort(bs.rel.OrdinalNumberField(), Ascending)
}

// Chunks returns the object's chunks in order. The sequence is lazy and can
// be ranged over again, each time re-reading storage. A missing chunk yields a
// *DataError.
func (bs *BlobStore) Chunks(ctx context.Context, objectID string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		rows, err := bs.ds.Query(ctx, bs.chunkQuery(objectID))
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		var expected int64 = 1
		for rows.Next() {
			row := rows.Row()
			if ord := row.OrdinalNumber(); ord != expected {
				yield(nil, dataErrf(nil, 0, nil, "blob %s: expected chunk %d, found %d", objectID, expected-1, ord-1))
				return
			}
			expected++
			data := bs.cached(row)
			bs.metrics.BlobBytesRead(len(data))
			if !yield(data, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
			return
		}
		if expected == 1 {
			yield(nil, fmt.Errorf("blob %s: %w", objectID, ErrNotFound))
		}
	}
}

// cached returns the chunk content; cached slices are cloned so that
// callers may modify what they get.
func (bs *BlobStore) cached(row *Row) []byte {
	if bs.cache == nil {
		return row.Bytes(bs.value)
	}
	if data, ok := bs.cache.Get(row.URI()); ok {
		return bytes.Clone(data)
	}
	data := row.Bytes(bs.value)
	bs.cache.Add(row.URI(), data)
	return bytes.Clone(data)
}

// ReadAll returns the ordered concatenation of the object's chunks.
func (bs *BlobStore) ReadAll(ctx context.Context, objectID string) ([]byte, error) {
	var result []byte
	for data, err := range bs.Chunks(ctx, objectID) {
		if err != nil {
			return nil, err
		}
		result = append(result, data...)
	}
	if result == nil {
		result = []byte{}
	}
	return result, nil
}

func (bs *BlobStore) Size(ctx context.Context, objectID string) (int64, error) {
	var n int64
	for data, err := range bs.Chunks(ctx, objectID) {
		if err != nil {
			return 0, err
		}
		n += int64(len(data))
	}
	return n, nil
}

// Keys returns the chunk keys of an object in ascending sequence order, for
// cascading deletion.
func (bs *BlobStore) Keys(ctx context.Context, objectID string) ([]EntityKey, error) {
	rows, err := bs.ds.Query(ctx, bs.chunkQuery(objectID))
	if err != nil {
		return nil, err
	}
	all, err := All(rows)
	if err != nil {
		return nil, err
	}
	keys := make([]EntityKey, 0, len(all))
	for _, row := range all {
		keys = append(keys, row.Key())
	}
	return keys, nil
}

// Delete removes a whole object, last chunk first.
func (bs *BlobStore) Delete(ctx context.Context, objectID string) error {
	keys, err := bs.Keys(ctx, objectID)
	if err != nil {
		return err
	}
	if err := DeleteKeys(ctx, bs.ds, keys); err != nil {
		return err
	}
	bs.Forget(keys)
	return nil
}

// Forget drops deleted chunks from the cache.
func (bs *BlobStore) Forget(keys []EntityKey) {
	if bs.cache == nil {
		return
	}
	for _, k := range keys {
		if k.Relation == bs.rel {
			bs.cache.Remove(k.URI)
		}
	}
}

func (bs *BlobStore) Relation() *Relation {
	return bs.rel
}
