package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

func TestLoadManifest(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), manifestFor("demo", map[string]any{
		"author":               "Alex",
		"permissions":          []string{"storage", "http", "fs", "storage"},
		"dependencies":         map[string]string{"core-lib": ">=1.0.0", "alpha": ""},
		"optionalDependencies": []map[string]string{{"id": "maps", "version": "^2.0"}},
		"include":              []string{"lang"},
	}), "-- demo")

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Author.Name != "Alex" {
		t.Errorf("Author.Name = %q, want Alex", m.Author.Name)
	}
	wantPerms := []security.Permission{security.PermStorage, security.PermNetwork, security.PermFSData}
	if diff := cmp.Diff(wantPerms, m.Granted()); diff != "" {
		t.Errorf("Granted() mismatch (-want +got):\n%s", diff)
	}
	wantDeps := Dependencies{{ID: "alpha"}, {ID: "core-lib", Version: ">=1.0.0"}}
	if diff := cmp.Diff(wantDeps, m.Dependencies); diff != "" {
		t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"maps"}, m.OptionalDependencies.IDs()); diff != "" {
		t.Errorf("OptionalDependencies mismatch (-want +got):\n%s", diff)
	}
	if m.EntryPath() != filepath.Join(m.Dir(), "main.lua") {
		t.Errorf("EntryPath() = %q", m.EntryPath())
	}
}

func TestLoadManifestNotFound(t *testing.T) {
	if _, err := LoadManifest(t.TempDir()); err == nil {
		t.Error("LoadManifest() on empty dir should fail")
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		field  string
	}{
		{"missing id", map[string]any{"id": nil}, "id"},
		{"empty id", map[string]any{"id": ""}, "id"},
		{"id with slash", map[string]any{"id": "a/b"}, "id"},
		{"id with dots", map[string]any{"id": "a..b"}, "id"},
		{"missing name", map[string]any{"name": nil}, "name"},
		{"bad version", map[string]any{"version": "one"}, "version"},
		{"empty description", map[string]any{"description": " "}, "description"},
		{"missing author name", map[string]any{"author": map[string]any{"name": "", "url": "https://example.com"}}, "author.name"},
		{"absolute entry", map[string]any{"entry": "/etc/passwd"}, "entry"},
		{"entry traversal", map[string]any{"entry": "../main.lua"}, "entry"},
		{"entry missing", map[string]any{"entry": "other.lua"}, "entry"},
		{"unknown permission", map[string]any{"permissions": []string{"log", "root"}}, "permissions[1]"},
		{"permissions not array", map[string]any{"permissions": "log"}, "permissions"},
		{"self dependency", map[string]any{"dependencies": map[string]string{"demo": "*"}}, "dependencies.demo"},
		{"bad requirement", map[string]any{"dependencies": map[string]string{"lib": ">>1"}}, "dependencies.lib"},
		{"include traversal", map[string]any{"include": []string{"../secrets"}}, "include[0]"},
		{"select without options", map[string]any{"ui": map[string]any{
			"settings": []map[string]any{{"key": "mode", "type": "select"}},
		}}, "ui.settings[0].options"},
		{"default wrong type", map[string]any{"ui": map[string]any{
			"settings": []map[string]any{{"key": "n", "type": "number", "default": "five"}},
		}}, "ui.settings[0].default"},
		{"sidebar unknown page", map[string]any{"ui": map[string]any{
			"sidebar": map[string]any{"title": "Demo", "page": "missing"},
		}}, "ui.sidebar.page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writePlugin(t, t.TempDir(), manifestFor("demo", tt.fields), "-- demo")
			_, err := LoadManifest(dir)
			if err == nil {
				t.Fatal("LoadManifest() succeeded, want validation error")
			}
			var verr *security.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %v (%T) is not a ValidationError", err, err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q (%v)", verr.Field, tt.field, err)
			}
		})
	}
}

func TestParseManifestWithoutDir(t *testing.T) {
	data, _ := json.Marshal(manifestFor("demo", map[string]any{"entry": "not-checked.lua"}))
	if _, err := ParseManifest(data, ""); err != nil {
		t.Errorf("ParseManifest() error = %v", err)
	}
	if _, err := ParseManifest([]byte("{not json"), ""); !errors.Is(err, security.ErrValidation) {
		t.Errorf("ParseManifest(invalid json) error = %v, want validation error", err)
	}
}

func TestManifestApplySettings(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), manifestFor("demo", map[string]any{
		"ui": map[string]any{
			"settings": []map[string]any{
				{"key": "interval", "type": "number", "default": 5, "min": 1},
				{"key": "mode", "type": "select", "options": []string{"fast", "slow"}, "default": "fast"},
				{"key": "motd", "type": "string"},
			},
		},
	}), "-- demo")
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	defaults := m.DefaultSettings()
	if n, _ := defaults.Get("interval").Int(); n != 5 {
		t.Errorf("default interval = %v", defaults.Get("interval"))
	}

	got, err := m.ApplySettings(value.MapOf(map[string]value.Value{
		"mode": value.StringOf("slow"),
		"motd": value.StringOf("hi"),
	}))
	if err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}
	want := map[string]any{"interval": int64(5), "mode": "slow", "motd": "hi"}
	if diff := cmp.Diff(want, got.ToGo()); diff != "" {
		t.Errorf("ApplySettings() mismatch (-want +got):\n%s", diff)
	}

	bad := []map[string]value.Value{
		{"mode": value.StringOf("medium")},
		{"interval": value.IntOf(0)},
		{"interval": value.StringOf("5")},
		{"unknown": value.BoolOf(true)},
	}
	for _, values := range bad {
		if _, err := m.ApplySettings(value.MapOf(values)); !errors.Is(err, security.ErrValidation) {
			t.Errorf("ApplySettings(%v) error = %v, want validation error", values, err)
		}
	}
}

func TestManifestClone(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), manifestFor("demo", map[string]any{
		"dependencies": map[string]string{"lib": "^1"},
	}), "-- demo")
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	clone := m.Clone()
	clone.Dependencies[0].ID = "changed"
	clone.Permissions[0] = "changed"
	if m.Dependencies[0].ID != "lib" || m.Permissions[0] != "log" {
		t.Error("Clone() shares slices with the original")
	}
}

func TestLoaderDiscover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "b-plugin"), manifestFor("bravo", nil), "-- b")
	writePlugin(t, filepath.Join(root, "a-plugin"), manifestFor("alpha", nil), "-- a")
	writePlugin(t, filepath.Join(root, "dupe"), manifestFor("alpha", nil), "-- dupe")
	writePlugin(t, filepath.Join(root, ".hidden"), manifestFor("hidden", nil), "-- hidden")
	writePlugin(t, filepath.Join(root, stagingPrefix+"123"), manifestFor("staged", nil), "-- staged")
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	plugins, err := NewLoader(root).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	got := make(map[string]State)
	for _, p := range plugins {
		got[p.ID] = p.State
	}
	want := map[string]State{
		"alpha":  StateLoaded,
		"bravo":  StateLoaded,
		"broken": StateError,
		"dupe":   StateError,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoaderMissingRoot(t *testing.T) {
	plugins, err := NewLoader(filepath.Join(t.TempDir(), "absent")).Discover()
	if err != nil || len(plugins) != 0 {
		t.Errorf("Discover() = %v, %v; want empty, nil", plugins, err)
	}
}
