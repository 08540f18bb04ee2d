package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/blockhost/internal/plugin/api"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// SettingsFile holds a plugin's saved settings inside its data directory.
const SettingsFile = "settings.json"

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// PluginsDir holds one directory per installed plugin.
	PluginsDir string

	// DataDir holds one private data directory per plugin.
	DataDir string

	// Store persists the enabled list. Nil keeps it in memory.
	Store EnabledStore

	// Builder installs capability namespaces into new runtimes.
	Builder *api.Builder

	// Archive bounds zip installs. Zero fields take DefaultArchiveLimits.
	Archive ArchiveLimits

	// NotifyConcurrency bounds concurrent hook calls when notifying every
	// plugin. 0 means 4.
	NotifyConcurrency int
}

// EventHandler handles registry events.
// Handlers must be non-blocking and should not call back into the Registry.
// Panics in handlers are recovered.
type EventHandler func(event Event)

// Event is a registry lifecycle event.
type Event struct {
	Type     EventType
	PluginID string
	Err      error

	// Cascade lists dependents disabled along with PluginID.
	Cascade []string
}

// EventType is the type of registry event.
type EventType int

const (
	// EventEnabled is emitted after a plugin starts.
	EventEnabled EventType = iota
	// EventDisabled is emitted after a plugin stops.
	EventDisabled
	// EventInstalled is emitted after a plugin is installed or replaced.
	EventInstalled
	// EventDeleted is emitted after a plugin is removed from disk.
	EventDeleted
	// EventError is emitted when enabling fails.
	EventError
	// EventScanned is emitted after the plugin set is rebuilt.
	EventScanned
	// EventDirectoryChanged is emitted when the plugins directory changes on disk.
	EventDirectoryChanged
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventEnabled:
		return "enabled"
	case EventDisabled:
		return "disabled"
	case EventInstalled:
		return "installed"
	case EventDeleted:
		return "deleted"
	case EventError:
		return "error"
	case EventScanned:
		return "scanned"
	case EventDirectoryChanged:
		return "directory-changed"
	default:
		return "unknown"
	}
}

// Registry owns the discovered plugin set and the runtimes of enabled
// plugins.
//
// Lifecycle operations are serialized by opMu. The plugin map and the
// runtime map have their own locks and neither is held while taking the
// other.
type Registry struct {
	opMu sync.Mutex

	mu       sync.RWMutex
	plugins  map[string]*PluginInfo
	handlers []EventHandler
	closed   bool

	rtMu     sync.RWMutex
	runtimes map[string]*Runtime
	enabled  []string // enable order

	loader  *Loader
	builder *api.Builder
	store   EnabledStore
	dataDir string
	archive ArchiveLimits
	log     logrus.FieldLogger
	notifyN int
}

// NewRegistry creates an empty registry. Call Scan to discover plugins.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Builder == nil {
		cfg.Builder = api.NewBuilder(api.NewContext(api.Context{}))
	}
	if cfg.Store == nil {
		cfg.Store = &memoryStore{}
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 4
	}
	def := DefaultArchiveLimits()
	if cfg.Archive.MaxEntries <= 0 {
		cfg.Archive.MaxEntries = def.MaxEntries
	}
	if cfg.Archive.MaxFileSize <= 0 {
		cfg.Archive.MaxFileSize = def.MaxFileSize
	}
	if cfg.Archive.MaxTotalSize <= 0 {
		cfg.Archive.MaxTotalSize = def.MaxTotalSize
	}
	dataDir := cfg.DataDir
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	return &Registry{
		plugins:  make(map[string]*PluginInfo),
		runtimes: make(map[string]*Runtime),
		loader:   NewLoader(cfg.PluginsDir),
		builder:  cfg.Builder,
		store:    cfg.Store,
		dataDir:  dataDir,
		archive:  cfg.Archive,
		log:      cfg.Builder.Context().Log,
		notifyN:  cfg.NotifyConcurrency,
	}
}

// PluginsDir returns the plugins root.
func (r *Registry) PluginsDir() string {
	return r.loader.Root()
}

// DataDirFor returns the private data directory of plugin id.
func (r *Registry) DataDirFor(id string) string {
	return filepath.Join(r.dataDir, id)
}

// Scan stops every running plugin and rebuilds the plugin set from disk.
// Plugins with invalid manifests are kept in StateError. Scan never fails as
// a whole; an unreadable plugins root yields an empty set.
func (r *Registry) Scan(ctx context.Context) []*PluginInfo {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return nil
	}

	r.stopAll(ctx)

	found, err := r.loader.Discover()
	if err != nil {
		r.log.WithError(err).Warn("Failed to read plugins directory")
	}
	computeMissing(found)

	plugins := make(map[string]*PluginInfo, len(found))
	out := make([]*PluginInfo, 0, len(found))
	for _, info := range found {
		plugins[info.ID] = info
		out = append(out, info.Clone())
		if info.State == StateError {
			r.log.WithField("plugin", info.ID).Warn(info.Reason)
		}
	}

	r.mu.Lock()
	r.plugins = plugins
	r.mu.Unlock()

	r.log.WithField("count", len(out)).Info("Scanned plugins")
	r.emitEvent(Event{Type: EventScanned})
	return out
}

// computeMissing fills MissingRequired and MissingOptional from the
// discovered set alone.
func computeMissing(plugins []*PluginInfo) {
	byID := make(map[string]*PluginInfo, len(plugins))
	for _, p := range plugins {
		byID[p.ID] = p
	}
	missing := func(deps Dependencies) []string {
		var out []string
		for _, dep := range deps {
			target, ok := byID[dep.ID]
			if !ok || !target.Valid() {
				out = append(out, dep.ID)
				continue
			}
			req, _ := ParseRequirement(dep.Version)
			if !req.SatisfiedBy(target.Manifest.Version) {
				out = append(out, dep.ID)
			}
		}
		return out
	}
	for _, p := range plugins {
		if !p.Valid() {
			continue
		}
		p.MissingRequired = missing(p.Manifest.Dependencies)
		p.MissingOptional = missing(p.Manifest.OptionalDependencies)
	}
}

// Enable starts plugin id. Enabling a running plugin is a no-op. Every
// required dependency must already be enabled at a satisfying version;
// otherwise a *DependencyError lists all of them and nothing changes.
func (r *Registry) Enable(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}
	return r.enable(ctx, id, true)
}

func (r *Registry) enable(ctx context.Context, id string, persist bool) error {
	info, ok := r.get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if r.IsEnabled(id) {
		return nil
	}
	if !info.Valid() {
		return &PluginError{PluginID: id, Op: "enable", Err: fmt.Errorf("%w: %s", ErrInvalidManifest, info.Reason)}
	}
	m := info.Manifest
	log := r.log.WithField("plugin", id)

	if issues := r.unmet(m.Dependencies); len(issues) > 0 {
		return &DependencyError{PluginID: id, Missing: issues}
	}
	for _, issue := range r.unmet(m.OptionalDependencies) {
		log.WithField("dependency", issue.ID).Warnf("Optional dependency unavailable: %s", issue.Reason)
	}

	rt, err := newRuntime(ctx, r.builder, m, r.DataDirFor(id), r.loadSettings(m))
	if err == nil {
		if err = rt.Start(ctx); err != nil {
			rt.Abort(ctx)
		}
	}
	if err != nil {
		err = &PluginError{PluginID: id, Op: "enable", Err: err}
		r.setState(id, StateError, err.Error())
		log.WithError(err).Error("Failed to enable plugin")
		r.emitEvent(Event{Type: EventError, PluginID: id, Err: err})
		return err
	}

	r.rtMu.Lock()
	r.runtimes[id] = rt
	r.enabled = append(r.enabled, id)
	r.rtMu.Unlock()

	r.setState(id, StateEnabled, "")
	if persist {
		r.persist(ctx)
	}
	log.WithField("version", m.Version).Info("Plugin enabled")
	r.emitEvent(Event{Type: EventEnabled, PluginID: id})
	return nil
}

// unmet returns every dependency that is not enabled at a satisfying
// version.
func (r *Registry) unmet(deps Dependencies) []DependencyIssue {
	var issues []DependencyIssue
	for _, dep := range deps {
		issue := DependencyIssue{ID: dep.ID, Requirement: dep.Version}
		target, ok := r.get(dep.ID)
		switch {
		case !ok:
			issue.Reason = "not installed"
		case !target.Valid():
			issue.Reason = "invalid manifest"
		case !r.IsEnabled(dep.ID):
			issue.Reason = "not enabled"
		default:
			req, _ := ParseRequirement(dep.Version)
			if req.SatisfiedBy(target.Manifest.Version) {
				continue
			}
			issue.Reason = "version " + target.Manifest.Version + " does not satisfy"
		}
		issues = append(issues, issue)
	}
	return issues
}

// Disable stops plugin id after stopping every enabled plugin that requires
// it, directly or transitively. It returns the dependents it stopped, in
// stop order. Disabling a stopped plugin is a no-op.
func (r *Registry) Disable(ctx context.Context, id string) ([]string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return nil, ErrClosed
	}
	if _, ok := r.get(id); !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if !r.IsEnabled(id) {
		return nil, nil
	}

	cascade := r.dependents(id)
	for _, dep := range cascade {
		r.stop(ctx, dep)
		r.emitEvent(Event{Type: EventDisabled, PluginID: dep})
	}
	r.stop(ctx, id)
	r.persist(ctx)

	if len(cascade) > 0 {
		r.log.WithField("plugin", id).WithField("cascade", cascade).Info("Disabled dependent plugins")
	}
	r.emitEvent(Event{Type: EventDisabled, PluginID: id, Cascade: cascade})
	return cascade, nil
}

// Forget removes id from the persisted enabled list without touching any
// runtime. It reports whether the list changed. Running plugins must be
// disabled instead.
func (r *Registry) Forget(ctx context.Context, id string) (bool, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return false, ErrClosed
	}
	if r.IsEnabled(id) {
		return false, fmt.Errorf("plugin %q is running", id)
	}
	ids, err := r.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load enabled list: %w", err)
	}
	kept := slices.DeleteFunc(slices.Clone(ids), func(e string) bool { return e == id })
	if len(kept) == len(ids) {
		return false, nil
	}
	if err := r.store.Save(ctx, kept); err != nil {
		return false, fmt.Errorf("save enabled list: %w", err)
	}
	r.log.WithField("plugin", id).Info("Removed plugin from the persisted enabled list")
	return true, nil
}

// dependents returns enabled plugins requiring id, deepest first. The walk
// keeps a visited set so dependency cycles terminate.
func (r *Registry) dependents(id string) []string {
	requiredBy := make(map[string][]string)
	for _, rt := range r.Running() {
		for _, dep := range rt.Manifest().Dependencies {
			requiredBy[dep.ID] = append(requiredBy[dep.ID], rt.ID())
		}
	}

	visited := map[string]bool{id: true}
	var order []string
	var walk func(string)
	walk = func(cur string) {
		for _, next := range requiredBy[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			walk(next)
			order = append(order, next)
		}
	}
	walk(id)
	return order
}

// stop tears down the runtime of id. Hook failures are logged only.
func (r *Registry) stop(ctx context.Context, id string) {
	r.rtMu.Lock()
	rt, ok := r.runtimes[id]
	delete(r.runtimes, id)
	for i, e := range r.enabled {
		if e == id {
			r.enabled = append(r.enabled[:i], r.enabled[i+1:]...)
			break
		}
	}
	r.rtMu.Unlock()
	if !ok {
		return
	}

	if err := rt.Stop(ctx); err != nil {
		r.log.WithField("plugin", id).WithError(err).Warn("Plugin stopped with errors")
	}
	r.setState(id, StateDisabled, "")
	r.log.WithField("plugin", id).Info("Plugin disabled")
}

// stopAll stops every runtime in reverse enable order without touching the
// persisted list.
func (r *Registry) stopAll(ctx context.Context) {
	r.rtMu.RLock()
	order := append([]string(nil), r.enabled...)
	r.rtMu.RUnlock()
	for i := len(order) - 1; i >= 0; i-- {
		r.stop(ctx, order[i])
		r.emitEvent(Event{Type: EventDisabled, PluginID: order[i]})
	}
}

// AutoEnablePersisted enables the persisted plugins, retrying those whose
// dependencies come later in the list. Plugins that still cannot start are
// skipped with a warning. It returns the ids enabled.
func (r *Registry) AutoEnablePersisted(ctx context.Context) ([]string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return nil, ErrClosed
	}

	ids, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled list: %w", err)
	}

	var pending []string
	for _, id := range ids {
		if _, ok := r.get(id); !ok {
			r.log.WithField("plugin", id).Warn("Persisted plugin is no longer installed")
			continue
		}
		pending = append(pending, id)
	}

	var enabled []string
	for pass := 0; pass <= len(ids) && len(pending) > 0; pass++ {
		var retry []string
		for _, id := range pending {
			err := r.enable(ctx, id, false)
			switch {
			case err == nil:
				enabled = append(enabled, id)
			case errors.Is(err, ErrDependency):
				retry = append(retry, id)
			default:
				r.log.WithField("plugin", id).WithError(err).Warn("Skipping persisted plugin")
			}
		}
		if len(retry) == len(pending) {
			pending = retry
			break
		}
		pending = retry
	}
	for _, id := range pending {
		info, _ := r.get(id)
		var issues []DependencyIssue
		if info != nil && info.Valid() {
			issues = r.unmet(info.Manifest.Dependencies)
		}
		r.log.WithField("plugin", id).WithField("missing", issues).Warn("Skipping persisted plugin with unmet dependencies")
	}
	return enabled, nil
}

// persist saves the current enable order. Failures are logged.
func (r *Registry) persist(ctx context.Context) {
	r.rtMu.RLock()
	ids := append([]string(nil), r.enabled...)
	r.rtMu.RUnlock()
	if err := r.store.Save(ctx, ids); err != nil {
		r.log.WithError(err).Warn("Failed to persist enabled plugins")
	}
}

// Shutdown stops every plugin in reverse enable order and closes the store.
// The persisted list is left intact for the next start.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.stopAll(ctx)
	return r.store.Close()
}

// Get returns a copy of the plugin's info.
func (r *Registry) Get(id string) (*PluginInfo, bool) {
	info, ok := r.get(id)
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

func (r *Registry) get(id string) (*PluginInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.plugins[id]
	return info, ok
}

// List returns copies of every discovered plugin sorted by id.
func (r *Registry) List() []*PluginInfo {
	r.mu.RLock()
	out := make([]*PluginInfo, 0, len(r.plugins))
	for _, info := range r.plugins {
		out = append(out, info.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsEnabled reports whether id has a running runtime.
func (r *Registry) IsEnabled(id string) bool {
	r.rtMu.RLock()
	defer r.rtMu.RUnlock()
	_, ok := r.runtimes[id]
	return ok
}

// Runtime returns the runtime of an enabled plugin.
func (r *Registry) Runtime(id string) (*Runtime, bool) {
	r.rtMu.RLock()
	defer r.rtMu.RUnlock()
	rt, ok := r.runtimes[id]
	return rt, ok
}

// Running returns the runtimes in enable order.
func (r *Registry) Running() []*Runtime {
	r.rtMu.RLock()
	defer r.rtMu.RUnlock()
	out := make([]*Runtime, 0, len(r.enabled))
	for _, id := range r.enabled {
		out = append(out, r.runtimes[id])
	}
	return out
}

// Enabled returns the enabled ids in enable order.
func (r *Registry) Enabled() []string {
	r.rtMu.RLock()
	defer r.rtMu.RUnlock()
	return append([]string(nil), r.enabled...)
}

func (r *Registry) setState(id string, state State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.State = state
		info.Reason = reason
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Settings returns the plugin's settings merged over its declared defaults.
func (r *Registry) Settings(id string) (value.Value, error) {
	if rt, ok := r.Runtime(id); ok {
		return rt.Settings(), nil
	}
	info, ok := r.get(id)
	if !ok {
		return value.Nil, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if !info.Valid() {
		return value.Nil, &PluginError{PluginID: id, Op: "settings", Err: ErrInvalidManifest}
	}
	return r.loadSettings(info.Manifest), nil
}

// SaveSettings validates values against the manifest, persists them and
// delivers them to the running plugin through onSettingsChanged. Invalid
// values change nothing.
func (r *Registry) SaveSettings(ctx context.Context, id string, values value.Value) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	info, ok := r.get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if !info.Valid() {
		return &PluginError{PluginID: id, Op: "save settings", Err: ErrInvalidManifest}
	}
	merged, err := info.Manifest.ApplySettings(values)
	if err != nil {
		return err
	}
	data, err := merged.MarshalJSON()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(r.DataDirFor(id), SettingsFile), data); err != nil {
		return &PluginError{PluginID: id, Op: "save settings", Err: err}
	}

	if rt, ok := r.Runtime(id); ok {
		if err := rt.UpdateSettings(ctx, merged); err != nil {
			return &PluginError{PluginID: id, Op: "save settings", Err: err}
		}
	}
	return nil
}

// loadSettings reads saved settings, falling back to defaults when the file
// is missing or no longer valid.
func (r *Registry) loadSettings(m *Manifest) value.Value {
	path := filepath.Join(r.DataDirFor(m.ID), SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.WithField("plugin", m.ID).WithError(err).Warn("Failed to read settings")
		}
		return m.DefaultSettings()
	}
	saved, err := value.ParseJSON(data)
	if err == nil {
		saved, err = m.ApplySettings(saved)
	}
	if err != nil {
		r.log.WithField("plugin", m.ID).WithError(err).Warn("Ignoring invalid saved settings")
		return m.DefaultSettings()
	}
	return saved
}

// Subscribe registers a handler for registry events and returns a function
// removing it.
func (r *Registry) Subscribe(handler EventHandler) func() {
	r.mu.Lock()
	r.handlers = append(r.handlers, handler)
	index := len(r.handlers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(r.handlers) {
			r.handlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers outside any lock.
func (r *Registry) emitEvent(event Event) {
	r.mu.RLock()
	handlers := make([]EventHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.WithField("event", event.Type.String()).Errorf("Registry event handler panicked: %v", p)
				}
			}()
			handler(event)
		}()
	}
}
