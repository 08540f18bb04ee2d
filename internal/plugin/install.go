package plugin

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/dshills/blockhost/internal/plugin/security"
)

// ArchiveLimits bounds what a plugin archive may unpack to.
type ArchiveLimits struct {
	MaxEntries   int
	MaxFileSize  int64
	MaxTotalSize int64
}

// DefaultArchiveLimits returns the limits used when none are configured.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxEntries:   10_000,
		MaxFileSize:  100 << 20,
		MaxTotalSize: 500 << 20,
	}
}

const (
	deleteAttempts = 3
	deletePause    = 200 * time.Millisecond
)

// Install copies a plugin into the plugins directory. source may be a
// plugin directory, its plugin.json, or a .zip archive whose root (or single
// top-level directory) holds plugin.json. An existing installation with the
// same id is replaced atomically unless it is enabled.
func (r *Registry) Install(ctx context.Context, source string) (*PluginInfo, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return nil, ErrClosed
	}

	root := r.loader.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create plugins dir: %w", err)
	}
	staging := filepath.Join(root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := r.stage(source, staging); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pluginDir, err := locateManifest(staging)
	if err != nil {
		return nil, err
	}
	m, err := LoadManifest(pluginDir)
	if err != nil {
		return nil, err
	}
	if r.IsEnabled(m.ID) {
		return nil, &PluginError{PluginID: m.ID, Op: "install", Err: ErrEnabled}
	}
	if existing, ok := r.get(m.ID); ok && existing.Path != filepath.Join(root, m.ID) {
		return nil, &PluginError{PluginID: m.ID, Op: "install", Err: fmt.Errorf("already installed at %s", existing.Path)}
	}

	dest := filepath.Join(root, m.ID)
	if err := swapDir(pluginDir, dest, root); err != nil {
		return nil, &PluginError{PluginID: m.ID, Op: "install", Err: err}
	}

	info := r.loader.Inspect(dest)
	r.mu.Lock()
	r.plugins[info.ID] = info
	r.refreshMissingLocked()
	out := info.Clone()
	r.mu.Unlock()

	r.log.WithField("plugin", info.ID).WithField("version", m.Version).Info("Plugin installed")
	r.emitEvent(Event{Type: EventInstalled, PluginID: info.ID})
	return out, nil
}

// stage copies or extracts source into staging.
func (r *Registry) stage(source, staging string) error {
	fi, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("install source: %w", err)
	}
	switch {
	case fi.IsDir():
		return copyTree(source, staging)
	case filepath.Base(source) == ManifestFile:
		return copyTree(filepath.Dir(source), staging)
	case strings.EqualFold(filepath.Ext(source), ".zip"):
		return extractZip(source, staging, r.archive)
	default:
		return &security.ValidationError{Field: "source", Value: source, Reason: "expected a directory, plugin.json or .zip archive"}
	}
}

// locateManifest finds plugin.json at the staging root or inside a single
// wrapping directory.
func locateManifest(staging string) (string, error) {
	if _, err := os.Stat(filepath.Join(staging, ManifestFile)); err == nil {
		return staging, nil
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "__MACOSX") {
			continue
		}
		if !e.IsDir() {
			return "", &security.ValidationError{Field: "source", Reason: ManifestFile + " not found"}
		}
		dirs = append(dirs, e.Name())
	}
	if len(dirs) == 1 {
		inner := filepath.Join(staging, dirs[0])
		if _, err := os.Stat(filepath.Join(inner, ManifestFile)); err == nil {
			return inner, nil
		}
	}
	return "", &security.ValidationError{Field: "source", Reason: ManifestFile + " not found"}
}

// swapDir moves src to dest, replacing dest if it exists. On failure the
// previous dest is restored.
func swapDir(src, dest, root string) error {
	backup := ""
	if _, err := os.Lstat(dest); err == nil {
		backup = filepath.Join(root, stagingPrefix+"old-"+uuid.NewString())
		if err := os.Rename(dest, backup); err != nil {
			return fmt.Errorf("move previous install aside: %w", err)
		}
	}
	if err := os.Rename(src, dest); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dest)
		}
		return fmt.Errorf("move plugin into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

// copyTree copies regular files and directories from src into dst.
// Symlinks are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			if rel != "." && strings.HasPrefix(d.Name(), stagingPrefix) {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func unsafeArchive(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrUnsafeArchive, name, reason)
}

// extractZip unpacks archive into dest. Entries that are absolute, contain
// "..", are symlinks or exceed lim are rejected and stop the extraction.
func extractZip(archive, dest string, lim ArchiveLimits) error {
	zr, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return unsafeArchive(filepath.Base(archive), "path escapes the archive root")
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) > lim.MaxEntries {
		return unsafeArchive(filepath.Base(archive), fmt.Sprintf("%d entries exceed limit of %d", len(zr.File), lim.MaxEntries))
	}

	var total int64
	for _, f := range zr.File {
		if err := security.CheckRelative(f.Name); err != nil {
			return unsafeArchive(f.Name, "path escapes the archive root")
		}
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return unsafeArchive(f.Name, "symlinks are not allowed")
		}
		if !mode.IsDir() && !mode.IsRegular() {
			return unsafeArchive(f.Name, "unsupported entry type")
		}

		target, err := securejoin.SecureJoin(dest, filepath.FromSlash(f.Name))
		if err != nil || !security.IsWithin(target, dest) {
			return unsafeArchive(f.Name, "path escapes the archive root")
		}

		if mode.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if f.UncompressedSize64 > uint64(lim.MaxFileSize) {
			return unsafeArchive(f.Name, "file too large")
		}
		n, err := extractFile(f, target, lim.MaxFileSize)
		if err != nil {
			return err
		}
		total += n
		if total > lim.MaxTotalSize {
			return unsafeArchive(filepath.Base(archive), "uncompressed size exceeds limit")
		}
	}
	return nil
}

// extractFile writes one entry, trusting the stream rather than the declared
// size.
func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > limit {
		return n, unsafeArchive(f.Name, "file too large")
	}
	return n, nil
}

// stageIncludes copies the manifest's include paths into dataDir.
func stageIncludes(m *Manifest, dataDir string) error {
	if len(m.Include) == 0 {
		return nil
	}
	from := security.NewScope("plugin", m.Dir(), true)
	to := security.NewScope("data", dataDir, false)
	for _, inc := range m.Include {
		src, err := from.Resolve(inc)
		if err != nil {
			return err
		}
		dst, err := to.Resolve(inc)
		if err != nil {
			return err
		}
		fi, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("include %s: %w", inc, err)
		}
		if fi.IsDir() {
			err = copyTree(src, dst)
		} else {
			err = copyFile(src, dst)
		}
		if err != nil {
			return fmt.Errorf("include %s: %w", inc, err)
		}
	}
	return nil
}

// Delete removes an installed plugin. Its data directory is removed too when
// deleteData is set or the directory is empty. Enabled plugins are refused.
func (r *Registry) Delete(ctx context.Context, id string, deleteData bool) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}

	info, ok := r.get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if r.IsEnabled(id) {
		return &PluginError{PluginID: id, Op: "delete", Err: ErrEnabled}
	}

	if err := removeWithRetry(ctx, info.Path); err != nil {
		return &PluginError{PluginID: id, Op: "delete", Err: err}
	}
	dataDir := r.DataDirFor(id)
	if deleteData || isEmptyDir(dataDir) {
		if err := removeWithRetry(ctx, dataDir); err != nil {
			r.log.WithField("plugin", id).WithError(err).Warn("Failed to remove plugin data")
		}
	}

	r.mu.Lock()
	delete(r.plugins, id)
	r.refreshMissingLocked()
	r.mu.Unlock()

	r.log.WithField("plugin", id).Info("Plugin deleted")
	r.emitEvent(Event{Type: EventDeleted, PluginID: id})
	return nil
}

// removeWithRetry retries transient failures such as files still held open
// by an exiting child process.
func removeWithRetry(ctx context.Context, path string) error {
	var err error
	for attempt := 0; attempt < deleteAttempts; attempt++ {
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(deletePause):
		}
	}
	return err
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// refreshMissingLocked recomputes dependency shortfalls. Must be called with
// mu held.
func (r *Registry) refreshMissingLocked() {
	all := make([]*PluginInfo, 0, len(r.plugins))
	for _, info := range r.plugins {
		all = append(all, info)
	}
	computeMissing(all)
}
