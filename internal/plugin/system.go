package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/blockhost/internal/locale"
	"github.com/dshills/blockhost/internal/plugin/api"
	"github.com/dshills/blockhost/internal/plugin/exports"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
	"github.com/dshills/blockhost/internal/uievent"
)

// System wires the registry to the host's services and is the entry point
// the application uses to drive plugins.
//
// It handles:
//   - Discovery and restoring the persisted enabled set
//   - Host notifications (server ready, page and locale changes)
//   - The observing surface: live events, snapshots and element replies
type System struct {
	registry *Registry
	hctx     *api.Context
	locale   *locale.Provider

	mu          sync.Mutex
	unsubscribe func()
}

// SystemConfig configures the plugin system.
type SystemConfig struct {
	PluginsDir string
	DataDir    string

	// Shared roots for fs.server and fs.global.
	ServersDir string
	GlobalDir  string

	Store   EnabledStore
	Archive ArchiveLimits

	Log      logrus.FieldLogger
	Servers  api.ServerProvider
	Locale   *locale.Provider
	Commands security.CommandPolicy
	Limits   security.Limits

	// Resolver is used by the network guard. Nil uses the system resolver.
	Resolver security.Resolver

	Version           string
	NotifyConcurrency int
}

// NewSystem creates the plugin system. Call Start to discover plugins.
func NewSystem(cfg SystemConfig) *System {
	if cfg.Locale == nil {
		cfg.Locale = locale.New(locale.DefaultLocale)
	}
	s := &System{locale: cfg.Locale}

	s.hctx = api.NewContext(api.Context{
		Log: cfg.Log,
		Exports: exports.NewRegistry(exports.WithActiveCheck(func(id string) bool {
			return s.registry.IsEnabled(id)
		})),
		Servers:  cfg.Servers,
		Locale:   cfg.Locale,
		Commands: cfg.Commands,
		NetGuard: security.NewNetGuard(cfg.Resolver),
		Limits:   cfg.Limits,
		Paths:    api.Paths{Servers: cfg.ServersDir, Global: cfg.GlobalDir},
		Version:  cfg.Version,
	})
	s.registry = NewRegistry(RegistryConfig{
		PluginsDir:        cfg.PluginsDir,
		DataDir:           cfg.DataDir,
		Store:             cfg.Store,
		Builder:           api.NewBuilder(s.hctx),
		Archive:           cfg.Archive,
		NotifyConcurrency: cfg.NotifyConcurrency,
	})
	return s
}

// Registry returns the plugin registry.
func (s *System) Registry() *Registry {
	return s.registry
}

// Context returns the host services shared by all runtimes.
func (s *System) Context() *api.Context {
	return s.hctx
}

// Start scans the plugins directory, re-enables the persisted plugins and
// begins forwarding locale changes. It returns the ids enabled.
func (s *System) Start(ctx context.Context) ([]string, error) {
	s.registry.Scan(ctx)
	enabled, err := s.registry.AutoEnablePersisted(ctx)
	if err != nil {
		return enabled, fmt.Errorf("restore enabled plugins: %w", err)
	}

	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.locale.Subscribe(func(loc string) {
			s.NotifyLocaleChanged(context.Background(), loc)
		})
	}
	s.mu.Unlock()
	return enabled, nil
}

// NotifyServerReady calls onServerReady(serverID) on every enabled plugin.
// It returns the number of plugins whose hook failed.
func (s *System) NotifyServerReady(ctx context.Context, serverID string) int {
	return s.registry.Broadcast(ctx, HookServerReady, value.StringOf(serverID))
}

// NotifyPageChanged calls onPageChanged(path) on every enabled plugin.
func (s *System) NotifyPageChanged(ctx context.Context, path string) int {
	return s.registry.Broadcast(ctx, HookPageChanged, value.StringOf(path))
}

// NotifyLocaleChanged calls onLocaleChanged(locale) on every enabled plugin.
func (s *System) NotifyLocaleChanged(ctx context.Context, loc string) int {
	return s.registry.Broadcast(ctx, HookLocaleChanged, value.StringOf(loc))
}

// ResolveElementResponse completes a pending element read. It reports
// whether a request with that id was waiting.
func (s *System) ResolveElementResponse(requestID string, data value.Value) bool {
	return s.hctx.Broker.Resolve(requestID, data)
}

// Snapshot returns the buffered UI state for a newly attached observer.
func (s *System) Snapshot() []uievent.Entry {
	return s.hctx.Bus.TakeSnapshot()
}

// SetLiveHandler attaches (or with nil, detaches) the observing surface.
func (s *System) SetLiveHandler(h uievent.Handler) {
	s.hctx.Bus.SetLiveHandler(h)
}

// InvokeMenu runs a context menu handler registered by pluginID.
func (s *System) InvokeMenu(ctx context.Context, pluginID, itemID string, payload value.Value) (value.Value, error) {
	rt, ok := s.registry.Runtime(pluginID)
	if !ok {
		return value.Nil, fmt.Errorf("plugin %q: %w", pluginID, ErrNotFound)
	}
	v, found, err := rt.InvokeMenu(ctx, itemID, payload)
	if err != nil {
		return value.Nil, &PluginError{PluginID: pluginID, Op: "context menu " + itemID, Err: err}
	}
	if !found {
		return value.Nil, fmt.Errorf("context menu item %q of plugin %q: %w", itemID, pluginID, ErrNotFound)
	}
	return v, nil
}

// Shutdown stops forwarding locale changes and stops every plugin.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()
	return s.registry.Shutdown(ctx)
}
