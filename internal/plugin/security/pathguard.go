package security

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Scope confines plugin file access to one root directory.
type Scope struct {
	Name     string
	Root     string
	ReadOnly bool
}

// NewScope returns a scope rooted at the absolute form of root.
func NewScope(name, root string, readOnly bool) Scope {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return Scope{Name: name, Root: abs, ReadOnly: readOnly}
}

// CheckRelative rejects absolute paths and paths with a ".." segment. Both
// separators are treated as segment boundaries on every platform.
func CheckRelative(p string) error {
	if p == "" {
		return nil
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) || filepath.VolumeName(p) != "" {
		return &ValidationError{Field: "path", Value: p, Reason: "absolute paths are not allowed"}
	}
	if strings.ContainsRune(p, 0) {
		return &ValidationError{Field: "path", Value: p, Reason: "contains NUL byte"}
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return &ValidationError{Field: "path", Value: p, Reason: "parent directory segments are not allowed"}
		}
	}
	if len(p) >= 2 && p[1] == ':' {
		return &ValidationError{Field: "path", Value: p, Reason: "drive-qualified paths are not allowed"}
	}
	return nil
}

// Resolve maps a script-supplied relative path to an absolute path inside the
// scope. The target need not exist.
func (s Scope) Resolve(p string) (string, error) {
	if err := CheckRelative(p); err != nil {
		return "", err
	}
	if p == "" {
		p = "."
	}

	joined, err := securejoin.SecureJoin(s.Root, filepath.FromSlash(p))
	if err != nil {
		return "", &ValidationError{Field: "path", Value: p, Reason: err.Error()}
	}
	if !IsWithin(joined, s.Root) {
		return "", &ValidationError{Field: "path", Value: p, Reason: "escapes " + s.Name + " scope"}
	}
	if err := s.checkAncestor(joined); err != nil {
		return "", &ValidationError{Field: "path", Value: p, Reason: err.Error()}
	}
	return joined, nil
}

// checkAncestor resolves the nearest existing ancestor of target and verifies
// it is still under the scope root.
func (s Scope) checkAncestor(target string) error {
	root := s.Root
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}

	anc := target
	for {
		if !IsWithin(anc, s.Root) {
			// Nothing under the root exists yet.
			return nil
		}
		if _, err := os.Lstat(anc); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(anc)
		if parent == anc {
			return nil
		}
		anc = parent
	}

	real, err := filepath.EvalSymlinks(anc)
	if err != nil {
		return err
	}
	if !IsWithin(real, root) && !IsWithin(real, s.Root) {
		return errors.New("resolves outside " + s.Name + " scope")
	}
	return nil
}

// IsWithin reports whether target is base or lies under it.
func IsWithin(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
