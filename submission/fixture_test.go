package submission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/storetest"
)

func surveyForm() *Form {
	return MustForm("survey",
		&FormElement{Name: "name", Type: TypeString},
		&FormElement{Name: "age", Type: TypeLong},
		&FormElement{Name: "weight", Type: TypeDecimal},
		&FormElement{Name: "consent", Type: TypeBoolean},
		&FormElement{Name: "born", Type: TypeDate},
		&FormElement{Name: "seen", Type: TypeDateTime, Legacy: true},
		&FormElement{Name: "loc", Type: TypeGeoPoint},
		&FormElement{Name: "photo", Type: TypeBinary},
		&FormElement{Name: "tags", Type: TypeChoices},
		&FormElement{Name: "meta", Type: TypeGroup, Children: []*FormElement{
			{Name: "device", Type: TypeString},
		}},
		&FormElement{Name: "items", Type: TypeRepeat, Children: []*FormElement{
			{Name: "label", Type: TypeString},
			{Name: "qty", Type: TypeLong},
			{Name: "parts", Type: TypeRepeat, Children: []*FormElement{
				{Name: "code", Type: TypeString},
			}},
		}},
		&FormElement{Name: "visits", Type: TypeRepeat, Children: []*FormElement{
			{Name: "at", Type: TypeTime},
		}},
	)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	ds    formstore.Datastore
	blobs *formstore.BlobStore
	store *Store
	form  *Form
	clock *storetest.Clock

	mu        sync.Mutex
	anomalies []Anomaly
}

func setup(t *testing.T, configure ...func(opt *Options)) *fixture {
	kv := formstore.NewMemory(formstore.Options{Logger: storetest.Logger(t)})
	t.Cleanup(func() { kv.Close() })
	return setupWith(t, kv, configure...)
}

func setupWith(t *testing.T, ds formstore.Datastore, configure ...func(opt *Options)) *fixture {
	ctx := context.Background()
	logger := storetest.Logger(t)
	f := &fixture{
		t:     t,
		ctx:   ctx,
		ds:    ds,
		form:  surveyForm(),
		clock: storetest.NewClock(),
	}
	var seq atomic.Int64
	blobs, err := formstore.NewBlobStore(ctx, ds, formstore.BlobOptions{
		ChunkSize: 4,
		Logger:    logger,
		Now:       f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	f.blobs = blobs
	opt := Options{
		Logger:  logger,
		Verbose: true,
		Now:     f.clock.Now,
		NewURI: func() string {
			return fmt.Sprintf("uri-%d", seq.Add(1))
		},
		OnAnomaly: func(a Anomaly) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.anomalies = append(f.anomalies, a)
		},
		Blobs: blobs,
	}
	for _, c := range configure {
		c(&opt)
	}
	f.store = NewStore(ds, opt)
	if err := f.store.EnsureForm(ctx, f.form); err != nil {
		t.Fatalf("EnsureForm: %v", err)
	}
	return f
}

func (f *fixture) parse(set *SubmissionSet, name, value string) {
	f.t.Helper()
	v := set.Value(name)
	if v == nil {
		f.t.Fatalf("%v has no value %q", set, name)
	}
	if err := v.ParseExternal(value); err != nil {
		f.t.Fatalf("%v: %v", name, err)
	}
}

func (f *fixture) persist(set *SubmissionSet) {
	f.t.Helper()
	if err := f.store.Persist(f.ctx, set); err != nil {
		f.t.Fatalf("Persist: %v", err)
	}
}

func (f *fixture) load(uri string) *SubmissionSet {
	f.t.Helper()
	set, err := f.store.Load(f.ctx, f.form, uri)
	if err != nil {
		f.t.Fatalf("Load(%s): %v", uri, err)
	}
	return set
}

// sample builds and persists a submission with three items, the first of
// which has two parts, and one visit.
func (f *fixture) sample() *SubmissionSet {
	f.t.Helper()
	root := f.store.New(f.form)
	f.parse(root, "name", "Alice")
	f.parse(root, "age", "42")
	f.parse(root, "weight", "61.50")
	f.parse(root, "consent", "1")
	f.parse(root, "born", "1982-03-05")
	f.parse(root, "seen", "2024-01-01T10:00:00.000Z")
	f.parse(root, "loc", "1.0 2.0")
	f.parse(root, "tags", "red  green")
	f.parse(root, "device", "phone")

	items := root.Repeat("items")
	for _, label := range []string{"a", "b", "c"} {
		item := items.AddSet()
		f.parse(item, "label", label)
		f.parse(item, "qty", "1")
	}
	parts := items.Set(1).Repeat("parts")
	f.parse(parts.AddSet(), "code", "p1")
	f.parse(parts.AddSet(), "code", "p2")

	f.parse(root.Repeat("visits").AddSet(), "at", "10:30")

	f.persist(root)
	return root
}

func (f *fixture) takeAnomalies() []Anomaly {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.anomalies
	f.anomalies = nil
	return a
}

func labels(r *Repeat) string {
	var s string
	for i, set := range r.Sets() {
		if i > 0 {
			s += ","
		}
		v, _ := set.Value("label").(*StringValue).Get()
		s += v
	}
	return s
}
