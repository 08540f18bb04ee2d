package api

import (
	"os"
	"runtime"
	"time"

	"github.com/docker/go-units"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// SystemModule implements the system namespace.
type SystemModule struct {
	ctx *Context
	now func() time.Time
}

// NewSystemModule creates the system module.
func NewSystemModule(ctx *Context, _ *Env) *SystemModule {
	return &SystemModule{ctx: ctx, now: time.Now}
}

// Name returns the module name.
func (m *SystemModule) Name() string { return "system" }

// Permissions returns the permissions that unlock the module.
func (m *SystemModule) Permissions() []security.Permission {
	return []security.Permission{security.PermSystem}
}

// Register builds the module table.
func (m *SystemModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"info":     m.info,
		"time":     m.time,
		"platform": m.platform,
		"memory":   m.memory,
	})
	return mod, nil
}

func (m *SystemModule) info(L *lua.LState) int {
	host, _ := os.Hostname()
	return pushValue(L, value.MapOf(map[string]value.Value{
		"version":  value.StringOf(m.ctx.Version),
		"os":       value.StringOf(runtime.GOOS),
		"arch":     value.StringOf(runtime.GOARCH),
		"cpus":     value.IntOf(int64(runtime.NumCPU())),
		"hostname": value.StringOf(host),
	}))
}

// time() -> {unix, millis, iso}
func (m *SystemModule) time(L *lua.LState) int {
	now := m.now()
	return pushValue(L, value.MapOf(map[string]value.Value{
		"unix":   value.IntOf(now.Unix()),
		"millis": value.IntOf(now.UnixMilli()),
		"iso":    value.StringOf(now.UTC().Format(time.RFC3339)),
	}))
}

func (m *SystemModule) platform(L *lua.LState) int {
	L.Push(lua.LString(runtime.GOOS))
	return 1
}

// memory() reports host process memory.
func (m *SystemModule) memory(L *lua.LState) int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return pushValue(L, value.MapOf(map[string]value.Value{
		"alloc":       value.IntOf(int64(ms.Alloc)),
		"sys":         value.IntOf(int64(ms.Sys)),
		"heap_in_use": value.IntOf(int64(ms.HeapInuse)),
		"gc_cycles":   value.IntOf(int64(ms.NumGC)),
		"alloc_human": value.StringOf(units.HumanSize(float64(ms.Alloc))),
		"sys_human":   value.StringOf(units.HumanSize(float64(ms.Sys))),
	}))
}
