package api

import (
	"errors"
	"slices"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

var errNoServers = errors.New("server management is not available")

func serverValue(s ServerInfo) value.Value {
	return value.MapOf(map[string]value.Value{
		"id":      value.StringOf(s.ID),
		"name":    value.StringOf(s.Name),
		"status":  value.StringOf(s.Status),
		"version": value.StringOf(s.Version),
		"port":    value.IntOf(int64(s.Port)),
		"players": value.IntOf(int64(s.Players)),
	})
}

// clampLines bounds a requested log line count.
func clampLines(n, max int) int {
	if n <= 0 || n > max {
		return max
	}
	return n
}

// tailLines keeps the newest n lines, cuts each one to maxLine bytes and
// drops older lines until the total fits in maxTotal bytes.
func tailLines(lines []string, n, maxLine int, maxTotal int64) []string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	var total int64
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if maxLine > 0 && len(line) > maxLine {
			cut := maxLine
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = line[:cut]
		}
		if maxTotal > 0 && total+int64(len(line)) > maxTotal {
			break
		}
		total += int64(len(line))
		out = append(out, line)
	}
	slices.Reverse(out)
	return out
}

// readLogs implements server.logs and console.logs.
func readLogs(L *lua.LState, ctx *Context, id string) int {
	n := clampLines(L.OptInt(2, 100), ctx.Limits.LogMaxLines)
	if ctx.Servers == nil {
		return fail(L, errNoServers)
	}
	lines, err := ctx.Servers.Logs(id, n)
	if err != nil {
		return fail(L, err)
	}
	return pushLines(L, tailLines(lines, n, ctx.Limits.LogMaxLineBytes, ctx.Limits.LogMaxBytes))
}

func pushLines(L *lua.LState, lines []string) int {
	t := L.CreateTable(len(lines), 0)
	for i, line := range lines {
		t.RawSetInt(i+1, lua.LString(line))
	}
	L.Push(t)
	return 1
}

// ServerModule implements the server namespace.
type ServerModule struct {
	ctx *Context
}

// NewServerModule creates the server module.
func NewServerModule(ctx *Context, _ *Env) *ServerModule {
	return &ServerModule{ctx: ctx}
}

// Name returns the module name.
func (m *ServerModule) Name() string { return "server" }

// Permissions returns the permissions that unlock the module.
func (m *ServerModule) Permissions() []security.Permission {
	return []security.Permission{security.PermServer}
}

// Register builds the module table.
func (m *ServerModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"list":   m.list,
		"status": m.status,
		"logs":   m.logs,
	})
	return mod, nil
}

// list() -> {servers} | nil, err
func (m *ServerModule) list(L *lua.LState) int {
	if m.ctx.Servers == nil {
		return fail(L, errNoServers)
	}
	servers, err := m.ctx.Servers.List()
	if err != nil {
		return fail(L, err)
	}
	items := make([]value.Value, len(servers))
	for i, s := range servers {
		items[i] = serverValue(s)
	}
	return pushValue(L, value.ArrayOf(items...))
}

// status(id) -> server | nil, err
func (m *ServerModule) status(L *lua.LState) int {
	id := L.CheckString(1)
	if m.ctx.Servers == nil {
		return fail(L, errNoServers)
	}
	s, err := m.ctx.Servers.Status(id)
	if err != nil {
		return fail(L, err)
	}
	return pushValue(L, serverValue(s))
}

// logs(id, lines?) -> {lines} | nil, err
func (m *ServerModule) logs(L *lua.LState) int {
	id := L.CheckString(1)
	return readLogs(L, m.ctx, id)
}

// ConsoleModule implements the console namespace.
type ConsoleModule struct {
	ctx *Context
	log logrus.FieldLogger
}

// NewConsoleModule creates the console module for env.
func NewConsoleModule(ctx *Context, env *Env) *ConsoleModule {
	return &ConsoleModule{ctx: ctx, log: env.logger(ctx)}
}

// Name returns the module name.
func (m *ConsoleModule) Name() string { return "console" }

// Permissions returns the permissions that unlock the module.
func (m *ConsoleModule) Permissions() []security.Permission {
	return []security.Permission{security.PermConsole}
}

// Register builds the module table.
func (m *ConsoleModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"send": m.send,
		"logs": m.logs,
	})
	return mod, nil
}

// send(serverId, command) -> true | nil, err
func (m *ConsoleModule) send(L *lua.LState) int {
	id := L.CheckString(1)
	cmd, err := m.ctx.Commands.Check(L.CheckString(2))
	if err != nil {
		m.log.WithField("server", id).WithError(err).Warn("rejected console command")
		return fail(L, err)
	}
	if m.ctx.Servers == nil {
		return fail(L, errNoServers)
	}
	if err := m.ctx.Servers.SendCommand(id, cmd); err != nil {
		return fail(L, err)
	}
	m.log.WithFields(logrus.Fields{"server": id, "command": cmd}).Info("sent console command")
	L.Push(lua.LTrue)
	return 1
}

// logs(serverId, lines?) -> {lines} | nil, err
func (m *ConsoleModule) logs(L *lua.LState) int {
	id := L.CheckString(1)
	return readLogs(L, m.ctx, id)
}
