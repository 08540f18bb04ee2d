package api

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/proc"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// ProcessModule implements the process namespace. Children run in the
// plugin data directory and are tracked so disable can kill them.
type ProcessModule struct {
	ctx   *Context
	env   *Env
	log   logrus.FieldLogger
	scope security.Scope
}

// NewProcessModule creates the process module for env.
func NewProcessModule(ctx *Context, env *Env) *ProcessModule {
	return &ProcessModule{
		ctx:   ctx,
		env:   env,
		log:   env.logger(ctx),
		scope: security.NewScope("data", env.DataDir, false),
	}
}

// Name returns the module name.
func (m *ProcessModule) Name() string { return "process" }

// Permissions returns the permissions that unlock the module.
func (m *ProcessModule) Permissions() []security.Permission {
	return []security.Permission{security.PermExecuteProgram}
}

// Register builds the module table.
func (m *ProcessModule) Register(L *lua.LState) (lua.LValue, error) {
	if m.env.Procs == nil {
		return nil, errors.New("process registry is not available")
	}
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"run":   m.run,
		"spawn": m.spawn,
		"kill":  m.kill,
		"list":  m.list,
	})
	return mod, nil
}

// Cleanup kills every child the plugin started.
func (m *ProcessModule) Cleanup() {
	if n := m.env.Procs.KillAll(); n > 0 {
		m.log.WithField("count", n).Info("killed plugin processes")
	}
}

// spec reads (program, args?, opts?) starting at argument 1.
func (m *ProcessModule) spec(L *lua.LState) (proc.Spec, *lua.LTable) {
	spec := proc.Spec{Program: L.CheckString(1)}
	if t, ok := L.Get(2).(*lua.LTable); ok {
		spec.Args = plua.StringList(t)
	}
	opts := optTable(L, 3)
	dir, err := m.scope.Resolve(stringField(opts, "cwd", ""))
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	spec.Dir = dir
	return spec, opts
}

// run(program, args?, {timeout?, cwd?}) -> result | nil, err
func (m *ProcessModule) run(L *lua.LState) int {
	spec, opts := m.spec(L)
	timeout := m.ctx.Limits.ProcessTimeout
	if secs := numberField(opts, "timeout", 0); secs > 0 {
		if d := time.Duration(secs * float64(time.Second)); d < timeout {
			timeout = d
		}
	}
	m.log.WithFields(logrus.Fields{"program": spec.Program, "args": spec.Args}).Debug("running process")

	res, err := m.env.Procs.Run(callContext(L), spec, timeout)
	if err != nil {
		return fail(L, err)
	}
	return pushValue(L, value.MapOf(map[string]value.Value{
		"exit_code": value.IntOf(int64(res.ExitCode)),
		"stdout":    value.StringOf(res.Stdout),
		"stderr":    value.StringOf(res.Stderr),
		"timed_out": value.BoolOf(res.TimedOut),
		"truncated": value.BoolOf(res.StdoutTruncated || res.StderrTruncated),
	}))
}

// spawn(program, args?, {cwd?}) -> id | nil, err
func (m *ProcessModule) spawn(L *lua.LState) int {
	spec, _ := m.spec(L)
	p, err := m.env.Procs.Spawn(spec)
	if err != nil {
		return fail(L, err)
	}
	m.log.WithFields(logrus.Fields{"program": spec.Program, "id": p.ID, "pid": p.PID()}).Info("spawned process")
	L.Push(lua.LString(p.ID))
	return 1
}

// kill(id) -> true | nil, err
func (m *ProcessModule) kill(L *lua.LState) int {
	if err := m.env.Procs.Kill(L.CheckString(1)); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// list() -> {{id, program, pid, state, started}}
func (m *ProcessModule) list(L *lua.LState) int {
	infos := m.env.Procs.List()
	items := make([]value.Value, len(infos))
	for i, info := range infos {
		items[i] = value.MapOf(map[string]value.Value{
			"id":      value.StringOf(info.ID),
			"program": value.StringOf(info.Program),
			"pid":     value.IntOf(int64(info.PID)),
			"state":   value.StringOf(info.State.String()),
			"started": value.IntOf(info.Started.Unix()),
		})
	}
	return pushValue(L, value.ArrayOf(items...))
}
