package submission

import (
	"reflect"
	"testing"
)

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Fatalf("** got %v, wanted %v", a, e)
	}
}
