package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// stagingPrefix marks temporary install directories under the plugins root.
const stagingPrefix = ".staging-"

// PluginInfo is the registry's view of one discovered plugin.
type PluginInfo struct {
	ID       string
	Path     string
	Manifest *Manifest
	State    State

	// Reason explains StateError.
	Reason string

	// Dependencies not present, invalid or at an unsatisfying version.
	MissingRequired []string
	MissingOptional []string
}

// Clone returns a copy that shares nothing with the registry.
func (p *PluginInfo) Clone() *PluginInfo {
	clone := *p
	if p.Manifest != nil {
		clone.Manifest = p.Manifest.Clone()
	}
	clone.MissingRequired = append([]string(nil), p.MissingRequired...)
	clone.MissingOptional = append([]string(nil), p.MissingOptional...)
	return &clone
}

// Valid reports whether the manifest loaded and validated.
func (p *PluginInfo) Valid() bool {
	return p.Manifest != nil
}

// Loader discovers plugins under a single root directory.
type Loader struct {
	root string
}

// NewLoader creates a loader for root.
func NewLoader(root string) *Loader {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Loader{root: root}
}

// Root returns the plugins root directory.
func (l *Loader) Root() string {
	return l.root
}

// Discover inspects every plugin directory under the root. Dot directories
// and install staging directories are skipped. A missing root yields no
// plugins. When two directories declare the same id the first in name order
// wins and the other is reported with StateError.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var (
		plugins []*PluginInfo
		seen    = make(map[string]bool)
	)
	for _, entry := range entries {
		if !entry.IsDir() || skipDir(entry.Name()) {
			continue
		}
		info := l.Inspect(filepath.Join(l.root, entry.Name()))
		if seen[info.ID] {
			info.State = StateError
			info.Reason = fmt.Sprintf("duplicate plugin id %q", info.ID)
			info.Manifest = nil
			info.ID = entry.Name()
			if seen[info.ID] {
				continue
			}
		}
		seen[info.ID] = true
		plugins = append(plugins, info)
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})
	return plugins, nil
}

// Inspect loads the manifest of the plugin in dir. An invalid manifest gives a
// PluginInfo in StateError keyed by the directory name.
func (l *Loader) Inspect(dir string) *PluginInfo {
	info := &PluginInfo{
		ID:    filepath.Base(dir),
		Path:  dir,
		State: StateLoaded,
	}
	m, err := LoadManifest(dir)
	if err != nil {
		info.State = StateError
		info.Reason = fmt.Sprintf("invalid manifest: %v", err)
		return info
	}
	info.ID = m.ID
	info.Manifest = m
	return info
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, stagingPrefix)
}
