package lua

import (
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// removedGlobals can load code from disk or strings and are never exposed.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"module",
	"package",
}

// safeModules are built-ins require may return.
var safeModules = map[string]bool{
	"string":    true,
	"table":     true,
	"math":      true,
	"coroutine": true,
}

// Sandbox restricts what a script can reach.
type Sandbox struct {
	L *lua.LState

	print func(string)

	mu      sync.Mutex
	loaders map[string]lua.LGFunction
	loaded  map[string]lua.LValue
}

// NewSandbox creates a sandbox for L. print receives the script's print
// output; nil discards it.
func NewSandbox(L *lua.LState, print func(string)) *Sandbox {
	return &Sandbox{
		L:       L,
		print:   print,
		loaders: make(map[string]lua.LGFunction),
		loaded:  make(map[string]lua.LValue),
	}
}

// Install removes unsafe globals and replaces print and require.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.luaPrint))
	s.L.SetGlobal("require", s.L.NewFunction(s.luaRequire))
}

// Preload makes name available to require. loader runs on first require and
// must push the module value.
func (s *Sandbox) Preload(name string, loader lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaders[name] = loader
	delete(s.loaded, name)
}

func (s *Sandbox) luaPrint(L *lua.LState) int {
	if s.print == nil {
		return 0
	}
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.print(strings.Join(parts, "\t"))
	return 0
}

// luaRequire resolves only safe built-ins and preloaded modules.
func (s *Sandbox) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)

	if safeModules[name] {
		L.Push(L.GetGlobal(name))
		return 1
	}

	s.mu.Lock()
	if v, ok := s.loaded[name]; ok {
		s.mu.Unlock()
		L.Push(v)
		return 1
	}
	loader, ok := s.loaders[name]
	s.mu.Unlock()
	if !ok {
		L.RaiseError("module %q is not available", name)
		return 0
	}

	L.Push(L.NewFunction(loader))
	L.Push(lua.LString(name))
	L.Call(1, 1)
	mod := L.Get(-1)
	L.Pop(1)
	if mod == lua.LNil {
		mod = lua.LTrue
	}

	s.mu.Lock()
	s.loaded[name] = mod
	s.mu.Unlock()

	L.Push(mod)
	return 1
}
