package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnabledStores(t *testing.T) {
	stores := map[string]func(t *testing.T) EnabledStore{
		"file": func(t *testing.T) EnabledStore {
			return NewFileStore(filepath.Join(t.TempDir(), "state", "enabled.json"))
		},
		"sqlite memory": func(t *testing.T) EnabledStore {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
		"sqlite file": func(t *testing.T) EnabledStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "plugins.db"))
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			ids, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() on empty store error = %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("Load() on empty store = %v", ids)
			}

			want := []string{"zeta", "alpha", "mid"}
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}

			if err := s.Save(ctx, []string{"alpha"}); err != nil {
				t.Fatal(err)
			}
			got, _ = s.Load(ctx)
			if diff := cmp.Diff([]string{"alpha"}, got); diff != "" {
				t.Errorf("Load() after overwrite mismatch (-want +got):\n%s", diff)
			}

			if err := s.Save(ctx, nil); err != nil {
				t.Fatal(err)
			}
			if got, _ := s.Load(ctx); len(got) != 0 {
				t.Errorf("Load() after clearing = %v", got)
			}
		})
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, []string{"b", "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, got); diff != "" {
		t.Errorf("Load() after reopen mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enabled.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Error("Load() of a corrupt file succeeded")
	}
}

func TestWriteFileAtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	for _, content := range []string{`{"a":1}`, `{"a":2}`} {
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":2}` {
		t.Errorf("content = %s", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}
