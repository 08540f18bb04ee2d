package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCheckRelative(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"notes.txt", false},
		{"a/b/c.json", false},
		{"", false},
		{".", false},
		{"dir/./file", false},
		{"..", true},
		{"../x", true},
		{"a/../../x", true},
		{"a/..", true},
		{`a\..\x`, true},
		{"/etc/passwd", true},
		{`\windows\system32`, true},
		{"C:/x", true},
		{"a\x00b", true},
	}
	for _, tt := range tests {
		err := CheckRelative(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckRelative(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("CheckRelative(%q) error = %v, want ErrValidation", tt.path, err)
		}
	}
}

func TestScopeResolve(t *testing.T) {
	root := t.TempDir()
	s := NewScope("data", root, false)

	got, err := s.Resolve("sub/new/file.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := filepath.Join(root, "sub", "new", "file.txt"); got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}

	got, err = s.Resolve("")
	if err != nil || got != root {
		t.Errorf("Resolve(\"\") = %q, %v, want root", got, err)
	}

	for _, p := range []string{"../escape", "/abs", "x/../../y"} {
		if _, err := s.Resolve(p); err == nil {
			t.Errorf("Resolve(%q) error = nil, want rejection", p)
		}
	}
}

func TestScopeResolveSymlinkStaysInside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	for _, d := range []string{root, outside} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	s := NewScope("data", root, false)
	got, err := s.Resolve("link/secret.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !IsWithin(got, root) {
		t.Errorf("Resolve() = %q escapes root %q", got, root)
	}
}

func TestScopeResolveMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	s := NewScope("server", root, false)
	got, err := s.Resolve("config/server.properties")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !IsWithin(got, root) {
		t.Errorf("Resolve() = %q, want under %q", got, root)
	}
}

func TestIsWithin(t *testing.T) {
	base := filepath.FromSlash("/tmp/root")
	tests := []struct {
		target string
		want   bool
	}{
		{"/tmp/root", true},
		{"/tmp/root/a", true},
		{"/tmp/rootfile", false},
		{"/tmp", false},
		{"/tmp/root/..foo", true},
	}
	for _, tt := range tests {
		if got := IsWithin(filepath.FromSlash(tt.target), base); got != tt.want {
			t.Errorf("IsWithin(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}
