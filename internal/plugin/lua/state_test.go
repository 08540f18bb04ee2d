package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/value"
)

func newTestState(t *testing.T, opts ...Option) *State {
	t.Helper()
	st := NewState(opts...)
	t.Cleanup(st.Close)
	return st
}

func TestSandboxRemovesLoaders(t *testing.T) {
	st := newTestState(t)
	ctx := context.Background()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "package", "io", "os", "debug"} {
		err := st.DoString(ctx, "assert("+name+" == nil, '"+name+" present')")
		if err != nil {
			t.Errorf("global %s should be absent: %v", name, err)
		}
	}
}

func TestRequire(t *testing.T) {
	st := newTestState(t)
	ctx := context.Background()

	if err := st.DoString(ctx, `local s = require("string"); assert(s.upper("a") == "A")`); err != nil {
		t.Fatalf("require(string) error = %v", err)
	}

	err := st.DoString(ctx, `require("io")`)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("require(io) error = %v, want not available", err)
	}

	calls := 0
	st.Sandbox().Preload("host", func(L *glua.LState) int {
		calls++
		mod := L.NewTable()
		mod.RawSetString("answer", glua.LNumber(42))
		L.Push(mod)
		return 1
	})
	if err := st.DoString(ctx, `local h = require("host"); local h2 = require("host"); assert(h.answer == 42 and h == h2)`); err != nil {
		t.Fatalf("require(host) error = %v", err)
	}
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}
}

func TestPrintRedirect(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	st := newTestState(t, WithPrint(func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}))
	if err := st.DoString(context.Background(), `print("a", 1, true)`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "a\t1\ttrue" {
		t.Errorf("print output = %q, want [\"a\\t1\\ttrue\"]", got)
	}
}

func TestCallGlobal(t *testing.T) {
	st := newTestState(t)
	ctx := context.Background()

	if err := st.DoString(ctx, `function add(a, b) return a + b end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	v, found, err := st.CallGlobal(ctx, "add", value.IntOf(2), value.IntOf(3))
	if err != nil || !found {
		t.Fatalf("CallGlobal(add) = _, %v, %v", found, err)
	}
	if i, _ := v.Int(); i != 5 {
		t.Errorf("add(2, 3) = %s, want 5", v)
	}

	_, found, err = st.CallGlobal(ctx, "missing")
	if err != nil || found {
		t.Errorf("CallGlobal(missing) = _, %v, %v, want false, nil", found, err)
	}
}

func TestCallGlobalScriptError(t *testing.T) {
	st := newTestState(t)
	ctx := context.Background()
	if err := st.DoString(ctx, `function boom() error("kaboom") end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	_, _, err := st.CallGlobal(ctx, "boom")
	var se *ScriptError
	if !errors.As(err, &se) || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("CallGlobal(boom) error = %v, want ScriptError with kaboom", err)
	}
}

func TestDoTimeoutStopsRunawayScript(t *testing.T) {
	st := newTestState(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := st.DoString(ctx, `while true do end`)
	if err == nil {
		t.Fatal("DoString(infinite loop) error = nil, want timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}

	// The state stays usable once the loop has been aborted.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err = st.DoString(context.Background(), `x = 1`)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Errorf("DoString() after timeout error = %v", err)
	}
}

func TestDoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	if err := os.WriteFile(path, []byte(`loaded = true`), 0o644); err != nil {
		t.Fatal(err)
	}
	st := newTestState(t)
	ctx := context.Background()
	if err := st.DoFile(ctx, path); err != nil {
		t.Fatalf("DoFile() error = %v", err)
	}
	if err := st.DoString(ctx, `assert(loaded)`); err != nil {
		t.Errorf("global not set: %v", err)
	}
}

func TestClosedState(t *testing.T) {
	st := NewState()
	st.Close()
	if !st.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := st.DoString(context.Background(), `x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() after Close error = %v, want ErrStateClosed", err)
	}
	st.Close()
}
