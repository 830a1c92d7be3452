package formstore

import (
	"context"
	"fmt"
)

// Datastore is the storage adapter SPI. Implementations decide their own
// timeout and retry policy; they report faults classified as ErrTransient or
// ErrOverQuota so that callers can tell them apart.
type Datastore interface {
	// EnsureRelation creates the storage structures for rel if missing.
	EnsureRelation(ctx context.Context, rel *Relation) error

	Query(ctx context.Context, q *Query) (Rows, error)

	// Get returns ErrNotFound when no row has the given URI.
	Get(ctx context.Context, rel *Relation, uri string) (*Row, error)

	// Put inserts or replaces the row with the same URI.
	Put(ctx context.Context, row *Row) error

	// Insert writes a new row, failing with ErrAlreadyExists if the URI is
	// taken.
	Insert(ctx context.Context, row *Row) error

	// Delete removes the row; deleting a missing row is not an error.
	Delete(ctx context.Context, key EntityKey) error

	Close() error
}

// DeleteKeys physically deletes keys in reverse list order and stops at the
// first failure, so a list built parents-first removes leaves first.
func DeleteKeys(ctx context.Context, ds Datastore, keys []EntityKey) error {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := ds.Delete(ctx, keys[i]); err != nil {
			return fmt.Errorf("deleting %v (%d of %d remaining): %w", keys[i], i+1, len(keys), err)
		}
	}
	return nil
}

// EnsureRelations calls EnsureRelation for each relation.
func EnsureRelations(ctx context.Context, ds Datastore, rels ...*Relation) error {
	for _, rel := range rels {
		if err := ds.EnsureRelation(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}
