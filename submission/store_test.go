package submission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/metrics"
)

// textFormatter renders every cell as name=value for comparisons.
type textFormatter struct{}

func cell(out *OutputRow, e *FormElement, ordinal, v string, ok bool) {
	if !ok {
		v = "null"
	}
	name := e.Path()
	if ordinal != "" {
		name += "[" + ordinal + "]"
	}
	out.Add(name + "=" + v)
}

func (textFormatter) FormatUID(uri, propertyName string, out *OutputRow) {
	out.Add(propertyName + "=" + uri)
}
func (textFormatter) FormatString(v *string, e *FormElement, ordinal string, out *OutputRow) {
	if v == nil {
		cell(out, e, ordinal, "", false)
	} else {
		cell(out, e, ordinal, *v, true)
	}
}
func (textFormatter) FormatLong(v *int64, e *FormElement, ordinal string, out *OutputRow) {
	if v == nil {
		cell(out, e, ordinal, "", false)
	} else {
		cell(out, e, ordinal, decimal.NewFromInt(*v).String(), true)
	}
}
func (textFormatter) FormatDecimal(v *decimal.Decimal, e *FormElement, ordinal string, out *OutputRow) {
	if v == nil {
		cell(out, e, ordinal, "", false)
	} else {
		cell(out, e, ordinal, formstore.CanonicalDecimal(*v), true)
	}
}
func (textFormatter) FormatBoolean(v *bool, e *FormElement, ordinal string, out *OutputRow) {
	cell(out, e, ordinal, "set", v != nil && *v)
}
func (f textFormatter) FormatDate(v *Temporal, e *FormElement, ordinal string, out *OutputRow) {
	f.temporal(v, e, ordinal, out)
}
func (f textFormatter) FormatTime(v *Temporal, e *FormElement, ordinal string, out *OutputRow) {
	f.temporal(v, e, ordinal, out)
}
func (f textFormatter) FormatDateTime(v *Temporal, e *FormElement, ordinal string, out *OutputRow) {
	f.temporal(v, e, ordinal, out)
}
func (textFormatter) temporal(v *Temporal, e *FormElement, ordinal string, out *OutputRow) {
	if v == nil {
		cell(out, e, ordinal, "", false)
	} else {
		cell(out, e, ordinal, v.Raw, true)
	}
}
func (textFormatter) FormatGeoPoint(v *GeoPoint, e *FormElement, ordinal string, out *OutputRow) {
	if v == nil {
		cell(out, e, ordinal, "", false)
	} else {
		cell(out, e, ordinal, v.Latitude.Decimal.String()+" "+v.Longitude.Decimal.String(), true)
	}
}
func (textFormatter) FormatBinary(v *BinaryValue, e *FormElement, ordinal string, out *OutputRow) {
	cell(out, e, ordinal, v.ObjectID(), !v.IsEmpty())
}
func (textFormatter) FormatChoices(v []string, e *FormElement, ordinal string, out *OutputRow) {
	cell(out, e, ordinal, strings.Join(v, "|"), len(v) > 0)
}
func (f textFormatter) FormatRepeats(r *Repeat, out *OutputRow) error {
	for _, set := range r.Sets() {
		if err := set.Format(f, out, ""); err != nil {
			return err
		}
	}
	return nil
}

func dump(t testing.TB, set *SubmissionSet) string {
	t.Helper()
	var out OutputRow
	if err := set.Format(textFormatter{}, &out, ""); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return strings.Join(out.Strings("?"), "\n")
}

func TestPersistAndLoad(t *testing.T) {
	f := setup(t)
	root := f.sample()
	before := dump(t, root)
	loaded := f.load(root.URI())
	if after := dump(t, loaded); after != before {
		t.Fatalf("loaded tree differs:\n%s\n\nwanted:\n%s", after, before)
	}

	items := loaded.Repeat("items")
	if a, e := labels(items), "a,b,c"; a != e {
		t.Errorf("items = %q, wanted %q", a, e)
	}
	if a, e := items.Set(1).Repeat("parts").Len(), 2; a != e {
		t.Errorf("parts = %d, wanted %d", a, e)
	}
	if a, e := loaded.Repeat("visits").Len(), 1; a != e {
		t.Errorf("visits = %d, wanted %d", a, e)
	}
	for i, set := range items.Sets() {
		row := set.Row()
		if row.OrdinalNumber() != int64(i+1) || row.ParentAuri() != loaded.URI() || row.TopLevelAuri() != loaded.URI() {
			t.Errorf("item %d row links: ord=%d parent=%q top=%q", i, row.OrdinalNumber(), row.ParentAuri(), row.TopLevelAuri())
		}
		if set.Owner() != items || set.Enclosing() != loaded || set.Root() != loaded {
			t.Errorf("item %d tree links are wrong", i)
		}
	}
	part := items.Set(1).Repeat("parts").Set(2)
	if part.Row().ParentAuri() != items.Set(1).URI() || part.Row().TopLevelAuri() != loaded.URI() {
		t.Errorf("nested row links are wrong")
	}
	if !strings.Contains(before, "survey/meta/device=phone") || !strings.Contains(before, "survey/items/parts/code[2]=p2") {
		t.Errorf("unexpected dump:\n%s", before)
	}
	if len(f.takeAnomalies()) != 0 {
		t.Errorf("clean data produced anomalies")
	}
}

func TestPersistRefreshesLastUpdate(t *testing.T) {
	f := setup(t)
	root := f.sample()
	created := f.clock.Now()

	f.clock.Advance(time.Hour)
	f.parse(root, "name", "Bob")
	f.parse(root.Repeat("items").AddSet(), "label", "d")
	f.persist(root)

	loaded := f.load(root.URI())
	if a := loaded.Row().CreationDate(); !a.Equal(created) {
		t.Errorf("creation date = %v, wanted %v", a, created)
	}
	if a, e := loaded.Row().LastUpdateDate(), f.clock.Now(); !a.Equal(e) {
		t.Errorf("last update = %v, wanted %v", a, e)
	}
	if a, e := labels(loaded.Repeat("items")), "a,b,c,d"; a != e {
		t.Errorf("items = %q, wanted %q", a, e)
	}
	if a, e := loaded.Repeat("items").Set(4).Row().LastUpdateDate(), f.clock.Now(); !a.Equal(e) {
		t.Errorf("new item last update = %v, wanted %v", a, e)
	}
}

func TestLoadMissing(t *testing.T) {
	f := setup(t)
	_, err := f.store.Load(f.ctx, f.form, "nope")
	if !errors.Is(err, formstore.ErrNotFound) {
		t.Fatalf("Load err = %v, wanted ErrNotFound", err)
	}
}

func TestLoadConcurrentMatchesSequential(t *testing.T) {
	f := setup(t)
	root := f.sample()
	for _, item := range root.Repeat("items").Sets() {
		parts := item.Repeat("parts")
		for parts.Len() < 3 {
			f.parse(parts.AddSet(), "code", "x")
		}
	}
	f.persist(root)

	sequential := dump(t, f.load(root.URI()))
	concurrent := NewStore(f.ds, Options{Logger: f.store.logger, LoadConcurrency: 4})
	set, err := concurrent.Load(f.ctx, f.form, root.URI())
	if err != nil {
		t.Fatal(err)
	}
	if a := dump(t, set); a != sequential {
		t.Fatalf("concurrent load differs:\n%s\n\nwanted:\n%s", a, sequential)
	}
}

func repeatRow(r *Repeat, uri string, ordinal int64, created time.Time, label string) *formstore.Row {
	row := formstore.NewRow(r.Relation())
	row.SetURI(uri)
	row.SetParentAuri(r.UniqueKey())
	row.SetTopLevelAuri(r.Enclosing().Root().URI())
	row.SetOrdinalNumber(ordinal)
	row.SetCreationDate(created)
	if f := r.Relation().Field("LABEL"); f != nil {
		row.SetString(f, label, true)
	}
	return row
}

func permutations(n int, f func(perm []int)) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	var gen func(k int)
	gen = func(k int) {
		if k == n {
			f(perm)
			return
		}
		for i := k; i < n; i++ {
			perm[k], perm[i] = perm[i], perm[k]
			gen(k + 1)
			perm[k], perm[i] = perm[i], perm[k]
		}
	}
	gen(0)
}

func TestReconcileIsDeterministic(t *testing.T) {
	f := setup(t)
	r := f.store.New(f.form).Repeat("items")
	t0 := f.clock.Now()
	rows := []*formstore.Row{
		repeatRow(r, "k1", 1, t0, ""),
		repeatRow(r, "k2a", 2, t0, ""),
		repeatRow(r, "k2b", 2, t0.Add(time.Hour), ""),
		repeatRow(r, "k2c", 2, t0.Add(time.Hour), ""),
		repeatRow(r, "k3", 3, t0, ""),
	}
	permutations(len(rows), func(perm []int) {
		input := make([]*formstore.Row, len(rows))
		for i, j := range perm {
			input[i] = rows[j]
		}
		var uris []string
		for _, row := range f.store.reconcile(r, input) {
			uris = append(uris, row.URI())
		}
		deepEqual(t, uris, []string{"k1", "k2c", "k3"})

		anomalies := f.takeAnomalies()
		if len(anomalies) != 1 {
			t.Fatalf("anomalies = %+v", anomalies)
		}
		a := anomalies[0]
		if a.Kind != metrics.AnomalyDuplicateOrdinal || a.Ordinal != 2 || a.Relation != "survey_ITEMS" {
			t.Fatalf("anomaly = %+v", a)
		}
		deepEqual(t, a.URIs, []string{"k2c", "k2b", "k2a"})
	})
}

func TestLoadReconcilesDuplicates(t *testing.T) {
	m := metrics.NewCollector("test")
	f := setup(t, func(opt *Options) { opt.Metrics = m })
	root := f.sample()
	items := root.Repeat("items")
	dup := repeatRow(items, "dup", 2, f.clock.Now().Add(time.Minute), "b2")
	if err := f.ds.Insert(f.ctx, dup); err != nil {
		t.Fatal(err)
	}

	loaded := f.load(root.URI())
	if a, e := labels(loaded.Repeat("items")), "a,b2,c"; a != e {
		t.Errorf("items = %q, wanted %q", a, e)
	}
	anomalies := f.takeAnomalies()
	if len(anomalies) != 1 || anomalies[0].Kind != metrics.AnomalyDuplicateOrdinal {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if a := anomalies[0]; a.TopLevelAuri != root.URI() || a.ParentAuri != root.URI() {
		t.Errorf("anomaly = %+v", a)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "test_repeat_integrity_anomalies_total"); err != nil || n != 1 {
		t.Errorf("anomaly series = %d, %v", n, err)
	}
}

func TestLoadToleratesOrdinalGaps(t *testing.T) {
	f := setup(t)
	root := f.store.New(f.form)
	f.persist(root)
	items := root.Repeat("items")
	for _, row := range []*formstore.Row{
		repeatRow(items, "g1", 1, f.clock.Now(), "a"),
		repeatRow(items, "g3", 3, f.clock.Now(), "c"),
	} {
		if err := f.ds.Insert(f.ctx, row); err != nil {
			t.Fatal(err)
		}
	}

	loaded := f.load(root.URI()).Repeat("items")
	if a, e := labels(loaded), "a,c"; a != e {
		t.Errorf("items = %q, wanted %q", a, e)
	}
	if loaded.Set(2) != nil || loaded.Set(3) == nil {
		t.Errorf("ordinal index is wrong")
	}
	anomalies := f.takeAnomalies()
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if a := anomalies[0]; a.Kind != metrics.AnomalyOrdinalMismatch || a.Groups != 2 || a.MaxOrdinal != 3 {
		t.Errorf("anomaly = %+v", a)
	}
}

func TestFindValues(t *testing.T) {
	f := setup(t)
	root := f.sample()
	values := FindValues(root, f.form.Find("code"))
	var codes []string
	for _, v := range values {
		s, _ := v.(*StringValue).Get()
		codes = append(codes, s)
	}
	deepEqual(t, codes, []string{"p1", "p2"})

	var visited int
	complete := DepthFirst(root, VisitorFunc(func(e Element) bool {
		visited++
		return visited < 3
	}))
	if complete || visited != 3 {
		t.Errorf("DepthFirst did not stop: complete=%v visited=%d", complete, visited)
	}
}

func TestPersistFailure(t *testing.T) {
	f := setup(t)
	root := f.store.New(f.form)
	f.ds.Close()
	err := f.store.Persist(context.Background(), root)
	if !formstore.IsRetryable(err) {
		t.Fatalf("Persist on closed store err = %v, wanted transient", err)
	}
}
