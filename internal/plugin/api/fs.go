package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// fsScope pairs a path scope with the permission that unlocks it.
type fsScope struct {
	security.Scope
	perm security.Permission
}

// FSModule implements the fs namespace. Each granted scope is a sub-table;
// the top-level functions act on the data scope.
type FSModule struct {
	env    *Env
	limits security.Limits
	scopes []fsScope
}

// NewFSModule creates the fs module for env.
func NewFSModule(ctx *Context, env *Env) *FSModule {
	m := &FSModule{env: env, limits: ctx.Limits}
	add := func(name, root string, readOnly bool, perm security.Permission) {
		if root == "" {
			return
		}
		m.scopes = append(m.scopes, fsScope{Scope: security.NewScope(name, root, readOnly), perm: perm})
	}
	add("data", env.DataDir, false, security.PermFSData)
	add("server", ctx.Paths.Servers, false, security.PermFSServer)
	add("global", ctx.Paths.Global, false, security.PermFSGlobal)
	add("plugin", env.InstallDir, true, security.PermPluginFolderAccess)
	return m
}

// Name returns the module name.
func (m *FSModule) Name() string { return "fs" }

// Permissions returns the permissions that unlock the module.
func (m *FSModule) Permissions() []security.Permission {
	return []security.Permission{
		security.PermFSData,
		security.PermFSServer,
		security.PermFSGlobal,
		security.PermPluginFolderAccess,
	}
}

// Register builds the module table.
func (m *FSModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	denied := make(map[string]string)

	for _, sc := range m.scopes {
		if err := m.env.Checker.Check(sc.perm, ""); err != nil {
			denied[sc.Name] = err.Error()
			continue
		}
		t := m.scopeTable(L, sc.Scope)
		mod.RawSetString(sc.Name, t)
		if sc.Name == "data" {
			t.ForEach(func(k, v lua.LValue) { mod.RawSet(k, v) })
		}
	}

	meta := L.NewTable()
	meta.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if msg, ok := denied[key]; ok {
			L.RaiseError("%s", msg)
			return 0
		}
		if key == "data" || key == "server" || key == "global" || key == "plugin" {
			L.RaiseError("fs scope %q is not available", key)
			return 0
		}
		if _, ok := denied["data"]; ok {
			L.RaiseError("%s", denied["data"])
			return 0
		}
		return 0
	}))
	L.SetMetatable(mod, meta)
	return mod, nil
}

func (m *FSModule) scopeTable(L *lua.LState, sc security.Scope) *lua.LTable {
	t := L.NewTable()
	h := &fsHandler{scope: sc, limits: m.limits}
	setFuncs(L, t, map[string]lua.LGFunction{
		"read":       h.read,
		"write":      h.write,
		"append":     h.append,
		"exists":     h.exists,
		"list":       h.list,
		"mkdir":      h.mkdir,
		"remove":     h.remove,
		"stat":       h.stat,
		"read_json":  h.readJSON,
		"write_json": h.writeJSON,
	})
	return t
}

type fsHandler struct {
	scope  security.Scope
	limits security.Limits
}

// resolve maps argument n to an absolute path, raising on invalid input.
func (h *fsHandler) resolve(L *lua.LState, n int, write bool) string {
	p := L.CheckString(n)
	if write && h.scope.ReadOnly {
		L.RaiseError("%s", (&security.ValidationError{Field: "path", Value: p, Reason: h.scope.Name + " scope is read-only"}).Error())
		return ""
	}
	abs, err := h.scope.Resolve(p)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return ""
	}
	return abs
}

func (h *fsHandler) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.limits.FSMaxReadSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.limits.FSMaxReadSize {
		return nil, &security.LimitError{Resource: "file size", Limit: h.limits.FSMaxReadSize, Actual: int64(len(data))}
	}
	return data, nil
}

// read(path) -> string | nil, err
func (h *fsHandler) read(L *lua.LState) int {
	path := h.resolve(L, 1, false)
	data, err := h.readFile(path)
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

// write(path, content) -> true | nil, err
func (h *fsHandler) write(L *lua.LState) int {
	path := h.resolve(L, 1, true)
	content := L.CheckString(2)
	if err := writeFile(path, []byte(content)); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// append(path, content) -> true | nil, err
func (h *fsHandler) append(L *lua.LState) int {
	path := h.resolve(L, 1, true)
	content := L.CheckString(2)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(L, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fail(L, err)
	}
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// exists(path) -> bool
func (h *fsHandler) exists(L *lua.LState) int {
	path := h.resolve(L, 1, false)
	_, err := os.Stat(path)
	L.Push(lua.LBool(err == nil))
	return 1
}

// list(path?) -> {names} | nil, err
func (h *fsHandler) list(L *lua.LState) int {
	if L.GetTop() == 0 {
		L.Push(lua.LString("."))
	}
	path := h.resolve(L, 1, false)
	entries, err := os.ReadDir(path)
	if err != nil {
		return fail(L, err)
	}
	if len(entries) > h.limits.FSMaxList {
		return fail(L, &security.LimitError{Resource: "directory entries", Limit: int64(h.limits.FSMaxList), Actual: int64(len(entries))})
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	t := L.CreateTable(len(names), 0)
	for i, n := range names {
		t.RawSetInt(i+1, lua.LString(n))
	}
	L.Push(t)
	return 1
}

// mkdir(path) -> true | nil, err
func (h *fsHandler) mkdir(L *lua.LState) int {
	path := h.resolve(L, 1, true)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// remove(path) -> true | nil, err
func (h *fsHandler) remove(L *lua.LState) int {
	path := h.resolve(L, 1, true)
	if path == h.scope.Root {
		L.RaiseError("%s", (&security.ValidationError{Field: "path", Reason: "cannot remove the scope root"}).Error())
		return 0
	}
	if err := os.RemoveAll(path); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// stat(path) -> {size, is_dir, modified} | nil, err
func (h *fsHandler) stat(L *lua.LState) int {
	path := h.resolve(L, 1, false)
	info, err := os.Stat(path)
	if err != nil {
		return fail(L, err)
	}
	t := L.NewTable()
	t.RawSetString("name", lua.LString(info.Name()))
	t.RawSetString("size", lua.LNumber(info.Size()))
	t.RawSetString("is_dir", lua.LBool(info.IsDir()))
	t.RawSetString("modified", lua.LNumber(info.ModTime().Unix()))
	L.Push(t)
	return 1
}

// read_json(path) -> value | nil, err
func (h *fsHandler) readJSON(L *lua.LState) int {
	path := h.resolve(L, 1, false)
	data, err := h.readFile(path)
	if err != nil {
		return fail(L, err)
	}
	v, err := value.ParseJSON(data)
	if err != nil {
		return fail(L, fmt.Errorf("parse %s: %w", filepath.Base(path), err))
	}
	return pushValue(L, v)
}

// write_json(path, value) -> true | nil, err
func (h *fsHandler) writeJSON(L *lua.LState) int {
	path := h.resolve(L, 1, true)
	v := plua.CheckValue(L, 2)
	data, err := v.MarshalJSON()
	if err != nil {
		return fail(L, err)
	}
	if err := writeFile(path, data); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// writeFile replaces path atomically, creating parent directories.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
