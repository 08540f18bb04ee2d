package loader

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func TestTOMLLoader_Load(t *testing.T) {
	fsys := fstest.MapFS{
		"etc/blockhost.toml": {Data: []byte(`
locale = "de"

[paths]
plugins = "~/plugins"

[limits]
hookTimeout = "5s"
storageMaxValueSize = "2MiB"
processMaxRunning = 4
`)},
	}

	config, err := NewTOMLLoaderWithFS(fsys, "etc/blockhost.toml").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := map[string]any{
		"locale": "de",
		"paths":  map[string]any{"plugins": "~/plugins"},
		"limits": map[string]any{
			"hookTimeout":         "5s",
			"storageMaxValueSize": "2MiB",
			"processMaxRunning":   int64(4),
		},
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(fstest.MapFS{}, "missing.toml").Load()
	if err != nil {
		t.Errorf("Load of missing file error = %v", err)
	}
	if config != nil {
		t.Errorf("Load of missing file = %v, want nil", config)
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.toml": {Data: []byte("[paths]\nplugins = \n")},
	}
	_, err := NewTOMLLoaderWithFS(fsys, "bad.toml").Load()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
	if perr.Path != "bad.toml" || perr.Line == 0 {
		t.Errorf("ParseError = %+v, want bad.toml with a line", perr)
	}
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	config, err := NewTOMLLoader("").LoadFromReader(strings.NewReader(`[log]
level = "debug"`))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"log": map[string]any{"level": "debug"}}, config); diff != "" {
		t.Errorf("LoadFromReader() mismatch (-want +got):\n%s", diff)
	}
}

func TestTOMLLoader_LoadWithIncludes(t *testing.T) {
	fsys := fstest.MapFS{
		"conf/main.toml": {Data: []byte(`
"@include" = ["base.toml", "limits.toml"]

[log]
level = "warn"
`)},
		"conf/base.toml": {Data: []byte(`
[log]
level = "info"
format = "json"

[paths]
plugins = "/srv/plugins"
`)},
		"conf/limits.toml": {Data: []byte(`
[limits]
hookTimeout = "3s"
`)},
	}

	config, err := NewTOMLLoaderWithFS(fsys, "").LoadWithIncludes("conf/main.toml", 4)
	if err != nil {
		t.Fatalf("LoadWithIncludes failed: %v", err)
	}
	want := map[string]any{
		"log":    map[string]any{"level": "warn", "format": "json"},
		"paths":  map[string]any{"plugins": "/srv/plugins"},
		"limits": map[string]any{"hookTimeout": "3s"},
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("LoadWithIncludes() mismatch (-want +got):\n%s", diff)
	}
}

func TestTOMLLoader_LoadWithIncludes_DepthExceeded(t *testing.T) {
	fsys := fstest.MapFS{
		"a.toml": {Data: []byte(`"@include" = "b.toml"`)},
		"b.toml": {Data: []byte(`"@include" = "a.toml"`)},
	}
	_, err := NewTOMLLoaderWithFS(fsys, "").LoadWithIncludes("a.toml", 3)
	if !errors.Is(err, ErrIncludeDepth) {
		t.Errorf("LoadWithIncludes() error = %v, want ErrIncludeDepth", err)
	}
}

func TestTOMLLoader_LoadWithIncludes_BadType(t *testing.T) {
	fsys := fstest.MapFS{
		"a.toml": {Data: []byte(`"@include" = 3`)},
	}
	if _, err := NewTOMLLoaderWithFS(fsys, "").LoadWithIncludes("a.toml", 3); err == nil {
		t.Error("LoadWithIncludes() accepted a numeric include")
	}
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]any
		src  map[string]any
		want map[string]any
	}{
		{
			name: "nil dst",
			dst:  nil,
			src:  map[string]any{"a": int64(1)},
			want: map[string]any{"a": int64(1)},
		},
		{
			name: "nil src",
			dst:  map[string]any{"a": int64(1)},
			src:  nil,
			want: map[string]any{"a": int64(1)},
		},
		{
			name: "nested merge",
			dst:  map[string]any{"log": map[string]any{"level": "info", "format": "text"}},
			src:  map[string]any{"log": map[string]any{"level": "debug"}},
			want: map[string]any{"log": map[string]any{"level": "debug", "format": "text"}},
		},
		{
			name: "scalar replaces map",
			dst:  map[string]any{"paths": map[string]any{"plugins": "/a"}},
			src:  map[string]any{"paths": "flat"},
			want: map[string]any{"paths": "flat"},
		},
		{
			name: "arrays replace",
			dst:  map[string]any{"commands": map[string]any{"deny": []any{"stop"}}},
			src:  map[string]any{"commands": map[string]any{"deny": []any{"op", "ban"}}},
			want: map[string]any{"commands": map[string]any{"deny": []any{"op", "ban"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, DeepMerge(tt.dst, tt.src)); diff != "" {
				t.Errorf("DeepMerge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeepMergeDoesNotAliasSource(t *testing.T) {
	src := map[string]any{"log": map[string]any{"level": "info"}}
	merged := DeepMerge(nil, src)
	merged["log"].(map[string]any)["level"] = "debug"
	if src["log"].(map[string]any)["level"] != "info" {
		t.Error("DeepMerge() result shares nested maps with src")
	}
}

func TestClone(t *testing.T) {
	src := map[string]any{
		"commands": map[string]any{"allow": []any{"say", "list"}},
	}
	clone := Clone(src)
	clone["commands"].(map[string]any)["allow"].([]any)[0] = "op"
	if src["commands"].(map[string]any)["allow"].([]any)[0] != "say" {
		t.Error("Clone() shares slices with the source")
	}
	if Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}
