package api

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// StorageFile is the document name inside the plugin data directory.
const StorageFile = "storage.json"

// storageKey admits only characters without meaning in gjson paths.
var storageKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is a per-plugin JSON key-value document.
type Store struct {
	path   string
	mu     *sync.Mutex
	limits security.Limits
}

// NewStore opens the document at dir/storage.json. mu serializes writers and
// may be shared with other users of the same document.
func NewStore(dir string, mu *sync.Mutex, limits security.Limits) *Store {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Store{path: filepath.Join(dir, StorageFile), mu: mu, limits: limits}
}

func (s *Store) checkKey(key string) error {
	if len(key) == 0 || len(key) > s.limits.StorageMaxKeyLength {
		return &security.ValidationError{Field: "key", Value: key, Reason: "length must be between 1 and " + strconv.Itoa(s.limits.StorageMaxKeyLength)}
	}
	if !storageKey.MatchString(key) {
		return &security.ValidationError{Field: "key", Value: key, Reason: "only letters, digits, '_' and '-' are allowed"}
	}
	return nil
}

func (s *Store) load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, errors.New("storage document is corrupt")
	}
	return data, nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (value.Value, bool, error) {
	if err := s.checkKey(key); err != nil {
		return value.Nil, false, err
	}
	doc, err := s.load()
	if err != nil {
		return value.Nil, false, err
	}
	res := gjson.GetBytes(doc, key)
	if !res.Exists() {
		return value.Nil, false, nil
	}
	v, err := value.ParseJSON([]byte(res.Raw))
	return v, err == nil, err
}

// Set stores v under key. The document is unchanged when a quota would be
// exceeded.
func (s *Store) Set(key string, v value.Value) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.limits.StorageMaxValueSize {
		return &security.LimitError{Resource: "storage value", Limit: s.limits.StorageMaxValueSize, Actual: int64(len(raw))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	next, err := sjson.SetRawBytes(doc, key, raw)
	if err != nil {
		return err
	}
	if int64(len(next)) > s.limits.StorageMaxTotalSize {
		return &security.LimitError{Resource: "storage total", Limit: s.limits.StorageMaxTotalSize, Actual: int64(len(next))}
	}
	return writeFile(s.path, next)
}

// Delete removes key. It reports whether the key existed.
func (s *Store) Delete(key string) (bool, error) {
	if err := s.checkKey(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	if !gjson.GetBytes(doc, key).Exists() {
		return false, nil
	}
	next, err := sjson.DeleteBytes(doc, key)
	if err != nil {
		return false, err
	}
	return true, writeFile(s.path, next)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var keys []string
	gjson.ParseBytes(doc).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.path, []byte("{}"))
}

// Size returns the document size in bytes.
func (s *Store) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// StorageModule implements the storage namespace.
type StorageModule struct {
	store *Store
}

// NewStorageModule creates the storage module for env.
func NewStorageModule(ctx *Context, env *Env) *StorageModule {
	return &StorageModule{store: NewStore(env.DataDir, env.StorageMu, ctx.Limits)}
}

// Name returns the module name.
func (m *StorageModule) Name() string { return "storage" }

// Permissions returns the permissions that unlock the module.
func (m *StorageModule) Permissions() []security.Permission {
	return []security.Permission{security.PermStorage}
}

// Register builds the module table.
func (m *StorageModule) Register(L *lua.LState) (lua.LValue, error) {
	if m.store.path == StorageFile {
		return nil, errors.New("plugin has no data directory")
	}
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"get":    m.get,
		"set":    m.set,
		"delete": m.delete,
		"has":    m.has,
		"keys":   m.keys,
		"clear":  m.clear,
		"size":   m.size,
	})
	return mod, nil
}

// get(key, default?) -> value
func (m *StorageModule) get(L *lua.LState) int {
	v, ok, err := m.store.Get(L.CheckString(1))
	if err != nil {
		return failOrRaise(L, err)
	}
	if !ok {
		L.Push(L.Get(2))
		return 1
	}
	return pushValue(L, v)
}

// set(key, value) -> true | nil, err
func (m *StorageModule) set(L *lua.LState) int {
	key := L.CheckString(1)
	v := plua.CheckValue(L, 2)
	if err := m.store.Set(key, v); err != nil {
		return failOrRaise(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// delete(key) -> bool
func (m *StorageModule) delete(L *lua.LState) int {
	ok, err := m.store.Delete(L.CheckString(1))
	if err != nil {
		return failOrRaise(L, err)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// has(key) -> bool
func (m *StorageModule) has(L *lua.LState) int {
	_, ok, err := m.store.Get(L.CheckString(1))
	if err != nil {
		return failOrRaise(L, err)
	}
	L.Push(lua.LBool(ok))
	return 1
}

// keys() -> {keys}
func (m *StorageModule) keys(L *lua.LState) int {
	keys, err := m.store.Keys()
	if err != nil {
		return fail(L, err)
	}
	t := L.CreateTable(len(keys), 0)
	for i, k := range keys {
		t.RawSetInt(i+1, lua.LString(k))
	}
	L.Push(t)
	return 1
}

// clear() -> true | nil, err
func (m *StorageModule) clear(L *lua.LState) int {
	if err := m.store.Clear(); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// size() -> bytes
func (m *StorageModule) size(L *lua.LState) int {
	n, err := m.store.Size()
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LNumber(n))
	return 1
}
