package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dshills/blockhost/internal/plugin/security"
)

// testHost is a System over temporary directories with a captured log.
type testHost struct {
	sys     *System
	reg     *Registry
	plugins string
	data    string
	hook    *test.Hook
}

func newTestHost(t *testing.T, configure ...func(*SystemConfig)) *testHost {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	limits := security.DefaultLimits()
	limits.HookTimeout = 2 * time.Second
	cfg := SystemConfig{
		PluginsDir: filepath.Join(t.TempDir(), "plugins"),
		DataDir:    filepath.Join(t.TempDir(), "data"),
		Log:        logger,
		Limits:     limits,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	if err := os.MkdirAll(cfg.PluginsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	sys := NewSystem(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return &testHost{sys: sys, reg: sys.Registry(), plugins: cfg.PluginsDir, data: cfg.DataDir, hook: hook}
}

// manifestFor returns a valid manifest for id that fields override.
func manifestFor(id string, fields map[string]any) map[string]any {
	m := map[string]any{
		"id":          id,
		"name":        "Test " + id,
		"version":     "1.0.0",
		"description": "test plugin " + id,
		"author":      map[string]any{"name": "Tester"},
		"entry":       "main.lua",
		"permissions": []string{"log"},
	}
	for k, v := range fields {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return m
}

// writePlugin writes plugin.json and main.lua into dir.
func writePlugin(t *testing.T, dir string, manifest map[string]any, script string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// add writes a plugin under the host's plugins directory.
func (h *testHost) add(t *testing.T, id string, fields map[string]any, script string) {
	t.Helper()
	writePlugin(t, filepath.Join(h.plugins, id), manifestFor(id, fields), script)
}

// logged returns the script log messages of plugin id in order.
func (h *testHost) logged(id string) []string {
	var out []string
	for _, e := range h.hook.AllEntries() {
		if e.Data["plugin"] == id && e.Data["source"] == "script" {
			out = append(out, e.Message)
		}
	}
	return out
}

// hasLog reports whether any entry's message contains substr.
func (h *testHost) hasLog(substr string) bool {
	for _, e := range h.hook.AllEntries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// lifecycleScript logs each lifecycle hook by name.
const lifecycleScript = `
function onLoad() log.info("load") end
function onEnable() log.info("enable") end
function onDisable() log.info("disable") end
function onUnload() log.info("unload") end
`

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}
