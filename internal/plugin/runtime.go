package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/api"
	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/proc"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// Lifecycle and notification hooks a plugin may define as globals.
const (
	HookLoad            = "onLoad"
	HookEnable          = "onEnable"
	HookDisable         = "onDisable"
	HookUnload          = "onUnload"
	HookServerReady     = "onServerReady"
	HookPageChanged     = "onPageChanged"
	HookLocaleChanged   = "onLocaleChanged"
	HookSettingsChanged = "onSettingsChanged"
)

// Runtime is one enabled plugin: its Lua state, installed namespaces and
// the resources they hold.
type Runtime struct {
	id       string
	manifest *Manifest
	dataDir  string
	log      logrus.FieldLogger
	limits   security.Limits
	hctx     *api.Context

	state *plua.State
	procs *proc.Registry
	env   *api.Env
	ns    *api.Namespace

	mu       sync.RWMutex
	settings value.Value

	closeOnce sync.Once

	// loaded is set once the entry script has run.
	loaded bool
}

// newRuntime creates the state for m and installs its namespaces. Nothing
// from the plugin runs yet.
func newRuntime(ctx context.Context, builder *api.Builder, m *Manifest, dataDir string, settings value.Value) (*Runtime, error) {
	hctx := builder.Context()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log := hctx.Log.WithField("plugin", m.ID)
	r := &Runtime{
		id:       m.ID,
		manifest: m,
		dataDir:  dataDir,
		log:      log,
		limits:   hctx.Limits,
		hctx:     hctx,
		settings: settings,
	}

	r.state = plua.NewState(plua.WithPrint(func(msg string) {
		log.WithField("source", "print").Info(msg)
	}))
	r.procs = proc.NewRegistry(
		proc.WithMaxRunning(hctx.Limits.ProcessMaxRunning),
		proc.WithMaxOutput(hctx.Limits.ProcessMaxOutput),
	)
	r.env = &api.Env{
		PluginID:   m.ID,
		Name:       m.Name,
		Version:    m.Version,
		InstallDir: m.Dir(),
		DataDir:    dataDir,
		Checker:    security.NewPermissionChecker(m.ID, m.Granted()),
		State:      r.state,
		Procs:      r.procs,
		StorageMu:  &sync.Mutex{},
		Settings:   r.Settings,
	}

	err := r.state.Do(ctx, func(L *lua.LState) error {
		ns, err := builder.Install(L, r.env)
		r.ns = ns
		return err
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("install namespaces: %w", err)
	}
	return r, nil
}

// ID returns the plugin id.
func (r *Runtime) ID() string {
	return r.id
}

// Manifest returns the manifest the runtime was built from.
func (r *Runtime) Manifest() *Manifest {
	return r.manifest
}

// Namespace returns the installed capability namespaces.
func (r *Runtime) Namespace() *api.Namespace {
	return r.ns
}

// Start stages included files, runs the entry script and calls onLoad and
// onEnable. Each step is bounded by the hook timeout.
func (r *Runtime) Start(ctx context.Context) error {
	if err := stageIncludes(r.manifest, r.dataDir); err != nil {
		return fmt.Errorf("stage includes: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.limits.HookTimeout)
	err := r.state.DoFile(loadCtx, r.manifest.EntryPath())
	cancel()
	if err != nil {
		return fmt.Errorf("load entry %s: %w", r.manifest.Entry, err)
	}
	r.loaded = true

	if err := r.CallHook(ctx, HookLoad); err != nil {
		return err
	}
	return r.CallHook(ctx, HookEnable)
}

// CallHook calls the global function name if the plugin defines it. A
// missing hook is not an error.
func (r *Runtime) CallHook(ctx context.Context, name string, args ...value.Value) error {
	hookCtx, cancel := context.WithTimeout(ctx, r.limits.HookTimeout)
	defer cancel()

	_, found, err := r.state.CallGlobal(hookCtx, name, args...)
	if err != nil {
		if errors.Is(hookCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("hook %s timed out after %s: %w", name, r.limits.HookTimeout, err)
		}
		return fmt.Errorf("hook %s: %w", name, err)
	}
	if found {
		r.log.WithField("hook", name).Debug("Hook called")
	}
	return nil
}

// Stop runs onDisable and onUnload and releases every resource. Hook
// failures are logged and returned joined; teardown always completes.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error
	for _, hook := range []string{HookDisable, HookUnload} {
		if err := r.CallHook(ctx, hook); err != nil {
			r.log.WithError(err).Warn("Plugin hook failed during stop")
			errs = append(errs, err)
		}
	}
	r.Close()
	return errors.Join(errs...)
}

// Abort tears down a runtime whose Start failed. Once the entry script has
// loaded, onDisable and onUnload run best-effort first.
func (r *Runtime) Abort(ctx context.Context) {
	if r.loaded {
		_ = r.Stop(ctx)
		return
	}
	r.Close()
}

// Close releases namespaces, kills child processes and closes the state
// without running hooks. Safe to call more than once.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		if r.ns != nil {
			r.ns.Cleanup()
		}
		if n := r.procs.Close(); n > 0 {
			r.log.WithField("count", n).Info("Killed plugin processes")
		}
		r.hctx.Rates.Forget(r.id)
		r.state.Close()
	})
}

// Settings returns a copy of the current settings.
func (r *Runtime) Settings() value.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.Clone()
}

// UpdateSettings replaces the settings and calls onSettingsChanged.
func (r *Runtime) UpdateSettings(ctx context.Context, settings value.Value) error {
	r.mu.Lock()
	r.settings = settings.Clone()
	r.mu.Unlock()
	return r.CallHook(ctx, HookSettingsChanged, settings)
}

// InvokeMenu runs the handler registered for context menu item itemID.
func (r *Runtime) InvokeMenu(ctx context.Context, itemID string, payload value.Value) (value.Value, bool, error) {
	ui, ok := r.ns.UI()
	if !ok {
		return value.Nil, false, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.limits.HookTimeout)
	defer cancel()
	return ui.Invoke(callCtx, itemID, payload)
}
