package submission

import (
	"context"
	"fmt"
	"slices"

	"github.com/andreyvit/formstore"
)

// DeletionKeys lists the rows making up target in pre-order: each set's row,
// then the chunks of its binary values, then its repeat groups in ordinal
// order. Deleting the list back to front removes leaves before parents.
//
// Repeat groups are also read back from storage, so rows that lost
// reconciliation to a duplicate ordinal are listed too, each with its own
// subtree, right after the subtree of the set that won its ordinal.
//
// target is a root set or a whole repeat group. A set that is a member of a
// repeat group is rejected with ErrPartialRepeatDelete, since removing it
// would leave a gap in the group's ordinals.
func (s *Store) DeletionKeys(ctx context.Context, target Element) ([]formstore.EntityKey, error) {
	switch t := target.(type) {
	case *SubmissionSet:
		if !t.IsRoot() {
			return nil, fmt.Errorf("%v: %w", t, ErrPartialRepeatDelete)
		}
		return s.setKeys(ctx, t, nil)
	case *Repeat:
		return s.repeatKeys(ctx, t, nil)
	default:
		return nil, fmt.Errorf("%w: cannot delete %T", formstore.ErrInvalidSchema, target)
	}
}

func (s *Store) setKeys(ctx context.Context, set *SubmissionSet, keys []formstore.EntityKey) ([]formstore.EntityKey, error) {
	keys = append(keys, set.Key())
	var err error
	for _, e := range set.elements {
		switch e := e.(type) {
		case *BinaryValue:
			if e.IsEmpty() || s.blobs == nil {
				continue
			}
			var chunks []formstore.EntityKey
			chunks, err = s.blobs.Keys(ctx, e.ObjectID())
			if err != nil {
				return nil, fmt.Errorf("%v: %w", e.SubmissionKey(), err)
			}
			keys = append(keys, chunks...)
		case *Repeat:
			keys, err = s.repeatKeys(ctx, e, keys)
			if err != nil {
				return nil, err
			}
		}
	}
	return keys, nil
}

func (s *Store) repeatKeys(ctx context.Context, r *Repeat, keys []formstore.EntityKey) ([]formstore.EntityKey, error) {
	stored, err := s.storedRows(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r, err)
	}
	known := make(map[string]bool, len(r.sets))
	for _, set := range r.sets {
		known[set.URI()] = true
	}
	strays := make(map[int64][]*formstore.Row)
	for _, row := range stored {
		if !known[row.URI()] {
			strays[row.OrdinalNumber()] = append(strays[row.OrdinalNumber()], row)
		}
	}

	for _, set := range r.sets {
		keys, err = s.setKeys(ctx, set, keys)
		if err != nil {
			return nil, err
		}
		ord := set.OrdinalNumber()
		keys, err = s.strayKeys(ctx, r, strays[ord], keys)
		if err != nil {
			return nil, err
		}
		delete(strays, ord)
	}

	var rest []*formstore.Row
	for _, rows := range strays {
		rest = append(rest, rows...)
	}
	return s.strayKeys(ctx, r, rest, keys)
}

// strayKeys lists stored rows of r that are not part of the loaded tree,
// along with everything stored below them.
func (s *Store) strayKeys(ctx context.Context, r *Repeat, rows []*formstore.Row, keys []formstore.EntityKey) ([]formstore.EntityKey, error) {
	slices.SortFunc(rows, compareRepeatRows)
	var err error
	for _, row := range rows {
		set := newSet(r.enclosing.tree, r.elem, row, r.enclosing, r)
		for _, v := range set.values() {
			if bv, ok := v.(*BinaryValue); ok {
				if err := bv.ReadRow(row); err != nil {
					return nil, err
				}
			}
		}
		keys, err = s.setKeys(ctx, set, keys)
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}
