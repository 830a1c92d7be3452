package submission

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/metrics"
)

// ErrPartialRepeatDelete is returned when asked to delete a single member of
// a repeat group; delete the root or the whole repeat instead.
var ErrPartialRepeatDelete = errors.New("cannot delete a single member of a repeat group")

type Options struct {
	Logger  *slog.Logger
	Verbose bool
	Metrics *metrics.Collector

	Now    func() time.Time
	NewURI func() string

	// LoadConcurrency is the number of sibling repeat groups loaded at once.
	// Values below 2 load sequentially.
	LoadConcurrency int

	// OnAnomaly, if set, receives every data-integrity anomaly found while
	// loading. It may be called from several goroutines at once.
	OnAnomaly func(Anomaly)

	// Blobs holds the content of binary values. Without it, deletion leaves
	// blob chunks alone.
	Blobs *formstore.BlobStore
}

// Store loads, persists and deletes submission trees in a Datastore.
type Store struct {
	ds          formstore.Datastore
	logger      *slog.Logger
	verbose     bool
	metrics     *metrics.Collector
	nowFunc     func() time.Time
	newURIFunc  func() string
	concurrency int
	onAnomaly   func(Anomaly)
	blobs       *formstore.BlobStore
}

func NewStore(ds formstore.Datastore, opt Options) *Store {
	s := &Store{
		ds:          ds,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
		metrics:     opt.Metrics,
		nowFunc:     opt.Now,
		newURIFunc:  opt.NewURI,
		concurrency: opt.LoadConcurrency,
		onAnomaly:   opt.OnAnomaly,
		blobs:       opt.Blobs,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.newURIFunc == nil {
		s.newURIFunc = func() string { return "uuid:" + uuid.NewString() }
	}
	return s
}

func (s *Store) Datastore() formstore.Datastore { return s.ds }
func (s *Store) Blobs() *formstore.BlobStore    { return s.blobs }

func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

func (s *Store) newURI() string {
	return s.newURIFunc()
}

// EnsureForm creates the storage for every relation of form.
func (s *Store) EnsureForm(ctx context.Context, form *Form) error {
	return formstore.EnsureRelations(ctx, s.ds, form.Relations()...)
}

// New starts an empty submission of form. Nothing is stored until Persist.
func (s *Store) New(form *Form) *SubmissionSet {
	row := formstore.NewRow(form.RootRelation())
	uri := s.newURI()
	row.SetURI(uri)
	row.SetTopLevelAuri(uri)
	row.SetOrdinalNumber(1)
	row.SetCreationDate(s.now())
	return newSet(&tree{store: s, form: form}, form.Root, row, nil, nil)
}

// Load reads the submission with the given root URI and all its repeat
// groups. A missing submission fails with formstore.ErrNotFound.
func (s *Store) Load(ctx context.Context, form *Form, uri string) (*SubmissionSet, error) {
	row, err := s.ds.Get(ctx, form.RootRelation(), uri)
	if err != nil {
		return nil, fmt.Errorf("loading %s#%s: %w", form.ID, uri, err)
	}
	set := newSet(&tree{store: s, form: form}, form.Root, row, nil, nil)
	if err := set.readRow(); err != nil {
		return nil, err
	}
	if err := s.loadRepeats(ctx, set); err != nil {
		return nil, fmt.Errorf("loading %s#%s: %w", form.ID, uri, err)
	}
	s.metrics.SubmissionLoaded()
	if s.verbose {
		s.logger.Debug("formstore: loaded submission", "form", form.ID, "uri", uri)
	}
	return set, nil
}

func (set *SubmissionSet) readRow() error {
	for _, v := range set.values() {
		if err := v.ReadRow(set.row); err != nil {
			return err
		}
	}
	return nil
}

func (set *SubmissionSet) writeRow() error {
	for _, v := range set.values() {
		if err := v.WriteRow(set.row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadRepeats(ctx context.Context, set *SubmissionSet) error {
	repeats := set.Repeats()
	if s.concurrency < 2 || len(repeats) < 2 {
		for _, r := range repeats {
			if err := s.loadRepeat(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, r := range repeats {
		g.Go(func() error {
			return s.loadRepeat(gctx, r)
		})
	}
	return g.Wait()
}

// loadRepeat reads the children of one repeat group, reconciles them and
// recurses into each surviving set.
func (s *Store) loadRepeat(ctx context.Context, r *Repeat) error {
	all, err := s.storedRows(ctx, r)
	if err != nil {
		return err
	}
	s.metrics.RepeatRowsRead(r.Relation().Name(), len(all))

	r.clear()
	t := r.enclosing.tree
	for _, row := range s.reconcile(r, all) {
		set := newSet(t, r.elem, row, r.enclosing, r)
		if err := set.readRow(); err != nil {
			return err
		}
		r.add(set)
	}
	for _, set := range r.sets {
		if err := s.loadRepeats(ctx, set); err != nil {
			return err
		}
	}
	return nil
}

// Anomaly describes stored data that violates the repeat group invariants.
// Loading proceeds regardless.
type Anomaly struct {
	Kind         string
	Relation     string
	TopLevelAuri string
	ParentAuri   string

	// Ordinal and URIs (kept row first) describe a duplicate ordinal.
	Ordinal int64
	URIs    []string

	// Groups and MaxOrdinal describe a gap in the ordinal numbers.
	Groups     int
	MaxOrdinal int64
}

// reconcile picks one row per ordinal number. Among duplicates the newest
// creation date wins, then the larger URI. The result is in ascending
// ordinal order and does not depend on the order of rows.
func (s *Store) reconcile(r *Repeat, rows []*formstore.Row) []*formstore.Row {
	rows = slices.Clone(rows)
	slices.SortFunc(rows, compareRepeatRows)

	var result []*formstore.Row
	var maxOrdinal int64
	for i := 0; i < len(rows); {
		ord := rows[i].OrdinalNumber()
		j := i + 1
		for j < len(rows) && rows[j].OrdinalNumber() == ord {
			j++
		}
		if j-i > 1 {
			a := s.anomaly(r, metrics.AnomalyDuplicateOrdinal)
			a.Ordinal = ord
			for _, row := range rows[i:j] {
				a.URIs = append(a.URIs, row.URI())
			}
			s.report(a)
		}
		result = append(result, rows[i])
		maxOrdinal = max(maxOrdinal, ord)
		i = j
	}
	if int64(len(result)) != maxOrdinal {
		a := s.anomaly(r, metrics.AnomalyOrdinalMismatch)
		a.Groups = len(result)
		a.MaxOrdinal = maxOrdinal
		s.report(a)
	}
	return result
}

// compareRepeatRows orders by ordinal, and within an ordinal puts the row
// that wins reconciliation first.
func compareRepeatRows(a, b *formstore.Row) int {
	if c := cmp.Compare(a.OrdinalNumber(), b.OrdinalNumber()); c != 0 {
		return c
	}
	if c := b.CreationDate().Compare(a.CreationDate()); c != 0 {
		return c
	}
	return cmp.Compare(b.URI(), a.URI())
}

// storedRows reads the rows linked to r in storage, in ordinal order.
func (s *Store) storedRows(ctx context.Context, r *Repeat) ([]*formstore.Row, error) {
	rel := r.Relation()
	q := formstore.NewQuery(rel).
		Filter(rel.ParentAuriField(), formstore.Equal, r.UniqueKey()).
		Sort(rel.ParentAuriField(), formstore.Ascending).
		Sort(rel.OrdinalNumberField(), formstore.Ascending)
	rows, err := s.ds.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return formstore.All(rows)
}

func (s *Store) anomaly(r *Repeat, kind string) Anomaly {
	return Anomaly{
		Kind:         kind,
		Relation:     r.Relation().Name(),
		TopLevelAuri: r.enclosing.Root().URI(),
		ParentAuri:   r.UniqueKey(),
	}
}

func (s *Store) report(a Anomaly) {
	switch a.Kind {
	case metrics.AnomalyDuplicateOrdinal:
		s.logger.Error("formstore: duplicate ordinal in repeat group, keeping newest",
			"relation", a.Relation, "top_level_auri", a.TopLevelAuri, "parent_auri", a.ParentAuri,
			"ordinal", a.Ordinal, "kept", a.URIs[0], "discarded", a.URIs[1:])
	default:
		s.logger.Error("formstore: repeat group ordinals are not contiguous",
			"relation", a.Relation, "top_level_auri", a.TopLevelAuri, "parent_auri", a.ParentAuri,
			"groups", a.Groups, "max_ordinal", a.MaxOrdinal)
	}
	s.metrics.Anomaly(a.Relation, a.Kind)
	if s.onAnomaly != nil {
		s.onAnomaly(a)
	}
}

// Persist writes set and everything below it, parents before children,
// refreshing each row's last update date.
func (s *Store) Persist(ctx context.Context, set *SubmissionSet) error {
	now := s.now()
	var err error
	DepthFirst(set, VisitorFunc(func(e Element) bool {
		child, ok := e.(*SubmissionSet)
		if !ok {
			return true
		}
		if err = child.writeRow(); err != nil {
			return false
		}
		child.row.SetLastUpdateDate(now)
		if err = s.ds.Put(ctx, child.row); err != nil {
			return false
		}
		return true
	}))
	if err != nil {
		return fmt.Errorf("persisting %v: %w", set, err)
	}
	if set.IsRoot() {
		s.metrics.SubmissionPersisted()
	}
	if s.verbose {
		s.logger.Debug("formstore: persisted", "key", set.String())
	}
	return nil
}
