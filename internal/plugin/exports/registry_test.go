package exports

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/blockhost/internal/plugin/value"
)

func echo(_ context.Context, args []value.Value) (value.Value, error) {
	return value.ArrayOf(args...), nil
}

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("maps", "render", FuncOf(echo)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, found, err := r.Call(context.Background(), "maps", "render", []value.Value{value.IntOf(1)})
	if err != nil || !found {
		t.Fatalf("Call() = _, %v, %v", found, err)
	}
	if len(got.Items()) != 1 {
		t.Errorf("Call() = %s, want echoed args", got)
	}

	for _, tc := range [][2]string{{"maps", "missing"}, {"nobody", "render"}} {
		v, found, err := r.Call(context.Background(), tc[0], tc[1], nil)
		if found || err != nil || !v.IsNull() {
			t.Errorf("Call(%s.%s) = %s, %v, %v, want nil, false, nil", tc[0], tc[1], v, found, err)
		}
	}
}

func TestRegistryInactiveOwner(t *testing.T) {
	active := map[string]bool{"a": true}
	r := NewRegistry(WithActiveCheck(func(id string) bool { return active[id] }))
	_ = r.Register("a", "f", FuncOf(echo))
	_ = r.Register("b", "f", FuncOf(echo))

	if _, ok := r.Lookup("a", "f"); !ok {
		t.Error("Lookup(a.f) = false, want true")
	}
	if _, ok := r.Lookup("b", "f"); ok {
		t.Error("Lookup(b.f) = true for inactive owner")
	}
}

func TestRegistryErrorsPropagate(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	_ = r.Register("a", "fail", FuncOf(func(context.Context, []value.Value) (value.Value, error) {
		return value.Nil, boom
	}))
	_, found, err := r.Call(context.Background(), "a", "fail", nil)
	if !found || !errors.Is(err, boom) {
		t.Errorf("Call() = %v, %v, want true, boom", found, err)
	}
}

func TestRegistryRemoveOwner(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", "x", FuncOf(echo))
	_ = r.Register("a", "y", FuncOf(echo))
	_ = r.Register("b", "z", FuncOf(echo))

	if diff := cmp.Diff([]string{"x", "y"}, r.Names("a")); diff != "" {
		t.Errorf("Names(a) mismatch (-want +got):\n%s", diff)
	}
	if n := r.RemoveOwner("a"); n != 2 {
		t.Errorf("RemoveOwner(a) = %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"b"}, r.Owners()); diff != "" {
		t.Errorf("Owners() mismatch (-want +got):\n%s", diff)
	}
	if !r.Unregister("b", "z") || r.Unregister("b", "z") {
		t.Error("Unregister(b.z) should succeed exactly once")
	}
}

func TestRegistryInvalidName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"", "has space", "semi;colon"} {
		if err := r.Register("a", name, FuncOf(echo)); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Register(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}
