package format

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/formstore"
	"github.com/andreyvit/formstore/storetest"
	"github.com/andreyvit/formstore/submission"
)

func newStore(t *testing.T) *submission.Store {
	ds := formstore.NewMemory(formstore.Options{Logger: storetest.Logger(t)})
	t.Cleanup(func() { ds.Close() })
	var n int
	return submission.NewStore(ds, submission.Options{
		Logger: storetest.Logger(t),
		Now:    storetest.NewClock().Now,
		NewURI: func() string {
			n++
			return fmt.Sprintf("uri-%d", n)
		},
	})
}

func dec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func geo(t *testing.T, f *BasicFormatter, p *submission.GeoPoint) []string {
	var out submission.OutputRow
	f.FormatGeoPoint(p, nil, "", &out)
	return out.Strings("<null>")
}

func TestGeoPointCombined(t *testing.T) {
	p := &submission.GeoPoint{Latitude: dec("1.0"), Longitude: dec("2.0")}
	assert.Equal(t, []string{"1.0, 2.0"}, geo(t, &BasicFormatter{IncludeAltitude: true}, p))

	p.Altitude = dec("3")
	p.Accuracy = dec("4.50")
	assert.Equal(t, []string{"1.0, 2.0, 3"}, geo(t, &BasicFormatter{IncludeAltitude: true}, p))
	assert.Equal(t, []string{"1.0, 2.0, 4.50"}, geo(t, &BasicFormatter{IncludeAccuracy: true}, p))
	assert.Equal(t, []string{"1.0, 2.0, 3, 4.50"}, geo(t, &BasicFormatter{IncludeAltitude: true, IncludeAccuracy: true}, p))

	assert.Empty(t, geo(t, &BasicFormatter{}, &submission.GeoPoint{Latitude: dec("1")}))
	assert.Equal(t, []string{"<null>"}, geo(t, &BasicFormatter{}, nil))
}

func TestGeoPointSeparate(t *testing.T) {
	p := &submission.GeoPoint{Latitude: dec("1.0"), Longitude: dec("2.0"), Accuracy: dec("5")}
	assert.Equal(t, []string{"1.0", "2.0"}, geo(t, &BasicFormatter{SeparateCoordinates: true}, p))
	assert.Equal(t, []string{"1.0", "2.0", "<null>", "5"}, geo(t, &BasicFormatter{SeparateCoordinates: true, IncludeAltitude: true, IncludeAccuracy: true}, p))
	assert.Equal(t, []string{"<null>"}, geo(t, &BasicFormatter{SeparateCoordinates: true}, nil))
}

func TestFormatSubmission(t *testing.T) {
	ctx := context.Background()
	form := submission.MustForm("visit",
		&submission.FormElement{Name: "who", Type: submission.TypeString},
		&submission.FormElement{Name: "count", Type: submission.TypeLong},
		&submission.FormElement{Name: "cost", Type: submission.TypeDecimal},
		&submission.FormElement{Name: "paid", Type: submission.TypeBoolean},
		&submission.FormElement{Name: "on", Type: submission.TypeDate},
		&submission.FormElement{Name: "at", Type: submission.TypeTime},
		&submission.FormElement{Name: "ts", Type: submission.TypeDateTime},
		&submission.FormElement{Name: "where", Type: submission.TypeGeoPoint},
		&submission.FormElement{Name: "pic", Type: submission.TypeBinary},
		&submission.FormElement{Name: "tags", Type: submission.TypeChoices},
		&submission.FormElement{Name: "kids", Type: submission.TypeRepeat, Children: []*submission.FormElement{
			{Name: "kid", Type: submission.TypeString},
		}},
	)
	store := newStore(t)
	require.NoError(t, store.EnsureForm(ctx, form))

	root := store.New(form)
	for name, value := range map[string]string{
		"who":   "Ann",
		"cost":  "10.50",
		"paid":  "true",
		"on":    "2024-03-05",
		"at":    "14:30:00",
		"ts":    "2024-03-05T14:30:00+01:00",
		"where": "1.0 2.0",
		"pic":   "uuid:blob",
		"tags":  "a b",
	} {
		require.NoError(t, root.Value(name).ParseExternal(value), name)
	}
	root.Repeat("kids").AddSet()

	var out submission.OutputRow
	require.NoError(t, root.Format(&BasicFormatter{}, &out, ""))
	assert.Equal(t, []string{
		"uri-1",
		"Ann",
		"<null>",
		"10.50",
		"true",
		"Mar 5, 2024",
		"2:30:00 PM",
		"Mar 5, 2024 1:30:00 PM",
		"1.0, 2.0",
		"visit#uri-1/pic",
		"a b",
		"uri-1",
	}, out.Strings("<null>"))

	require.NoError(t, store.Persist(ctx, root))
	loaded, err := store.Load(ctx, form, root.URI())
	require.NoError(t, err)
	var again submission.OutputRow
	require.NoError(t, loaded.Format(&BasicFormatter{}, &again, ""))
	assert.Equal(t, out.Strings("<null>"), again.Strings("<null>"))

	kid := loaded.Repeat("kids").Set(1)
	require.NotNil(t, kid)
	again.Reset()
	require.NoError(t, kid.Format(&BasicFormatter{}, &again, ""))
	assert.Equal(t, "uri-2 <null>", strings.Join(again.Strings("<null>"), " "))
}

func TestTemporalLayouts(t *testing.T) {
	v := &submission.Temporal{Parsed: time.Date(2024, 12, 31, 23, 5, 0, 0, time.UTC)}
	var out submission.OutputRow
	f := &BasicFormatter{}
	f.FormatDate(v, nil, "", &out)
	f.FormatTime(v, nil, "", &out)
	f.FormatDateTime(nil, nil, "", &out)
	assert.Equal(t, []string{"Dec 31, 2024", "11:05:00 PM", "-"}, out.Strings("-"))
}
