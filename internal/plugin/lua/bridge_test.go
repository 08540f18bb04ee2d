package lua

import (
	"errors"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/value"
)

func TestToValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	if err := L.DoString(`
		arr = {"a", "b", "c"}
		obj = {name = "x", n = 2, f = 1.5, ok = true, nested = {1, 2}}
		empty = {}
		sparse = {[1] = "a", [3] = "c"}
	`); err != nil {
		t.Fatal(err)
	}

	arr, err := ToValue(L.GetGlobal("arr"))
	if err != nil || arr.Kind() != value.Array || len(arr.Items()) != 3 {
		t.Errorf("ToValue(arr) = %s, %v", arr, err)
	}

	obj, err := ToValue(L.GetGlobal("obj"))
	if err != nil {
		t.Fatalf("ToValue(obj) error = %v", err)
	}
	if obj.Get("n").Kind() != value.Int {
		t.Errorf("n kind = %v, want int", obj.Get("n").Kind())
	}
	if obj.Get("f").Kind() != value.Float {
		t.Errorf("f kind = %v, want float", obj.Get("f").Kind())
	}
	if obj.Get("nested").Kind() != value.Array {
		t.Errorf("nested kind = %v, want array", obj.Get("nested").Kind())
	}

	empty, _ := ToValue(L.GetGlobal("empty"))
	if empty.Kind() != value.Map {
		t.Errorf("empty kind = %v, want map", empty.Kind())
	}

	sparse, _ := ToValue(L.GetGlobal("sparse"))
	if sparse.Kind() != value.Map || sparse.Get("3").IsNull() {
		t.Errorf("sparse = %s, want map with key 3", sparse)
	}
}

func TestToValueRejectsCycles(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	if err := L.DoString(`t = {}; t.self = t`); err != nil {
		t.Fatal(err)
	}
	if _, err := ToValue(L.GetGlobal("t")); !errors.Is(err, value.ErrTooDeep) {
		t.Errorf("ToValue(cycle) error = %v, want ErrTooDeep", err)
	}
}

func TestToValueRejectsFunctions(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	if err := L.DoString(`f = function() end`); err != nil {
		t.Fatal(err)
	}
	if _, err := ToValue(L.GetGlobal("f")); !errors.Is(err, ErrNotConvertible) {
		t.Errorf("ToValue(function) error = %v, want ErrNotConvertible", err)
	}
}

func TestFromValueRoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	in := value.MapOf(map[string]value.Value{
		"list": value.ArrayOf(value.IntOf(1), value.StringOf("two")),
		"flag": value.BoolOf(false),
	})
	lv, err := FromValue(L, in)
	if err != nil {
		t.Fatalf("FromValue() error = %v", err)
	}
	out, err := ToValue(lv)
	if err != nil {
		t.Fatalf("ToValue() error = %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %s, want %s", out, in)
	}
}

func TestFromValueDepthLimit(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	v := value.StringOf("leaf")
	for i := 0; i < value.MaxDepth+2; i++ {
		v = value.ArrayOf(v)
	}
	if _, err := FromValue(L, v); !errors.Is(err, value.ErrTooDeep) {
		t.Errorf("FromValue(deep) error = %v, want ErrTooDeep", err)
	}
}
