package value

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromGoNested(t *testing.T) {
	v, err := FromGo(map[string]any{
		"name":  "demo",
		"count": 3,
		"ratio": 0.5,
		"tags":  []any{"a", "b"},
		"on":    true,
		"none":  nil,
	})
	if err != nil {
		t.Fatalf("FromGo() error = %v", err)
	}
	if v.Kind() != Map {
		t.Fatalf("Kind() = %v, want map", v.Kind())
	}
	if s, _ := v.Get("name").Str(); s != "demo" {
		t.Errorf("name = %q, want %q", s, "demo")
	}
	if i, ok := v.Get("count").Int(); !ok || i != 3 {
		t.Errorf("count = %d, %v, want 3, true", i, ok)
	}
	if got := len(v.Get("tags").Items()); got != 2 {
		t.Errorf("len(tags) = %d, want 2", got)
	}

	want := map[string]any{
		"name": "demo", "count": int64(3), "ratio": 0.5,
		"tags": []any{"a", "b"}, "on": true, "none": nil,
	}
	if diff := cmp.Diff(want, v.ToGo()); diff != "" {
		t.Errorf("ToGo() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromGoDepthLimit(t *testing.T) {
	var nested any = "leaf"
	for i := 0; i < MaxDepth+2; i++ {
		nested = []any{nested}
	}
	if _, err := FromGo(nested); !errors.Is(err, ErrTooDeep) {
		t.Errorf("FromGo() error = %v, want ErrTooDeep", err)
	}
}

func TestParseJSONKeepsIntegers(t *testing.T) {
	v, err := ParseJSON([]byte(`{"a": 10, "b": 1.5}`))
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if v.Get("a").Kind() != Int {
		t.Errorf("a kind = %v, want int", v.Get("a").Kind())
	}
	if v.Get("b").Kind() != Float {
		t.Errorf("b kind = %v, want float", v.Get("b").Kind())
	}
}

func TestMerge(t *testing.T) {
	base := MapOf(map[string]Value{
		"title": StringOf("Old"),
		"style": MapOf(map[string]Value{"color": StringOf("red"), "width": IntOf(2)}),
		"gone":  BoolOf(true),
	})
	patch := MapOf(map[string]Value{
		"title": StringOf("New"),
		"style": MapOf(map[string]Value{"color": StringOf("blue")}),
		"gone":  Nil,
	})

	got := base.Merge(patch)
	want := MapOf(map[string]Value{
		"title": StringOf("New"),
		"style": MapOf(map[string]Value{"color": StringOf("blue"), "width": IntOf(2)}),
	})
	if !got.Equal(want) {
		t.Errorf("Merge() = %s, want %s", got, want)
	}
	if s, _ := base.Get("title").Str(); s != "Old" {
		t.Errorf("Merge() mutated receiver, title = %q", s)
	}
}

func TestEqualNumeric(t *testing.T) {
	if !IntOf(2).Equal(FloatOf(2)) {
		t.Error("IntOf(2).Equal(FloatOf(2)) = false, want true")
	}
	if StringOf("2").Equal(IntOf(2)) {
		t.Error("StringOf(\"2\").Equal(IntOf(2)) = true, want false")
	}
}
