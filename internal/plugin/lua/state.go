package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// Defaults for new states.
const (
	DefaultCallStackSize   = 256
	DefaultRegistryMaxSize = 256 * 1024
	DefaultQueueSize       = 64

	closeWait = 2 * time.Second
)

// State is a sandboxed Lua interpreter confined to its own executor goroutine.
type State struct {
	L *lua.LState

	exec    *Executor
	sandbox *Sandbox
	stop    context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

type stateConfig struct {
	callStackSize   int
	registryMaxSize int
	queueSize       int
	print           func(string)
}

// Option configures a State.
type Option func(*stateConfig)

// WithCallStackSize bounds script recursion.
func WithCallStackSize(n int) Option {
	return func(c *stateConfig) { c.callStackSize = n }
}

// WithRegistryMaxSize bounds the interpreter's value stack.
func WithRegistryMaxSize(n int) Option {
	return func(c *stateConfig) { c.registryMaxSize = n }
}

// WithQueueSize sets how many calls may wait for the executor.
func WithQueueSize(n int) Option {
	return func(c *stateConfig) { c.queueSize = n }
}

// WithPrint redirects the script's print function.
func WithPrint(fn func(string)) Option {
	return func(c *stateConfig) { c.print = fn }
}

// NewState creates a sandboxed state and starts its executor.
func NewState(opts ...Option) *State {
	cfg := stateConfig{
		callStackSize:   DefaultCallStackSize,
		registryMaxSize: DefaultRegistryMaxSize,
		queueSize:       DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       cfg.callStackSize,
		RegistrySize:        1024,
		RegistryMaxSize:     cfg.registryMaxSize,
		RegistryGrowStep:    64,
		IncludeGoStackTrace: false,
	})
	openSafeLibraries(L)

	sb := NewSandbox(L, cfg.print)
	sb.Install()

	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(L, cfg.queueSize)
	go exec.Run(ctx)

	return &State{L: L, exec: exec, sandbox: sb, stop: cancel}
}

// openSafeLibraries opens only the libraries that cannot reach the host.
// io, os, debug and package stay closed; host access goes through
// capability modules.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// Sandbox returns the sandbox guarding this state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Do runs fn on the state's goroutine with ctx attached to the interpreter.
// fn must not call Do on the same State.
func (s *State) Do(ctx context.Context, fn func(L *lua.LState) error) error {
	if s.closed.Load() {
		return ErrStateClosed
	}
	return s.exec.Execute(ctx, func(L *lua.LState) error {
		L.SetContext(ctx)
		defer L.RemoveContext()
		return fn(L)
	})
}

// DoFile loads and runs a script file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.Do(ctx, func(L *lua.LState) error {
		if err := L.DoFile(path); err != nil {
			return &ScriptError{Op: "load " + path, Err: err}
		}
		return nil
	})
}

// DoString runs a chunk of script source.
func (s *State) DoString(ctx context.Context, src string) error {
	return s.Do(ctx, func(L *lua.LState) error {
		if err := L.DoString(src); err != nil {
			return &ScriptError{Op: "run chunk", Err: err}
		}
		return nil
	})
}

// HasFunction reports whether a global function called name exists.
func (s *State) HasFunction(ctx context.Context, name string) bool {
	found := false
	_ = s.Do(ctx, func(L *lua.LState) error {
		_, found = L.GetGlobal(name).(*lua.LFunction)
		return nil
	})
	return found
}

// CallGlobal calls the global function name. The second result is false when
// no such function exists, which is not an error.
func (s *State) CallGlobal(ctx context.Context, name string, args ...value.Value) (value.Value, bool, error) {
	var (
		result value.Value
		found  bool
	)
	err := s.Do(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return nil
		}
		found = true
		v, err := CallFunction(L, fn, args)
		if err != nil {
			return &ScriptError{Op: "call " + name, Err: err}
		}
		result = v
		return nil
	})
	return result, found, err
}

// Call invokes fn, which must belong to this state.
func (s *State) Call(ctx context.Context, fn *lua.LFunction, args []value.Value) (value.Value, error) {
	var result value.Value
	err := s.Do(ctx, func(L *lua.LState) error {
		v, err := CallFunction(L, fn, args)
		result = v
		return err
	})
	return result, err
}

// CallFunction calls fn on L directly. It must run on L's goroutine.
func CallFunction(L *lua.LState, fn *lua.LFunction, args []value.Value) (value.Value, error) {
	top := L.GetTop()
	L.Push(fn)
	for _, arg := range args {
		lv, err := FromValue(L, arg)
		if err != nil {
			L.SetTop(top)
			return value.Nil, err
		}
		L.Push(lv)
	}
	if err := L.PCall(len(args), 1, nil); err != nil {
		L.SetTop(top)
		return value.Nil, err
	}
	ret := L.Get(-1)
	L.SetTop(top)
	v, err := ToValue(ret)
	if err != nil {
		return value.Nil, fmt.Errorf("return value: %w", err)
	}
	return v, nil
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	return s.closed.Load()
}

// Close stops the executor and releases the interpreter. A call still running
// after a short grace period keeps the interpreter alive until it returns.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.exec.Close()
		s.stop()

		ctx, cancel := context.WithTimeout(context.Background(), closeWait)
		defer cancel()
		if err := s.exec.Wait(ctx); err != nil {
			go func() {
				_ = s.exec.Wait(context.Background())
				s.L.Close()
			}()
			return
		}
		s.L.Close()
	})
}
