package lua

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T) *Executor {
	t.Helper()
	L := lua.NewState()
	exec := NewExecutor(L, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go exec.Run(ctx)
	t.Cleanup(func() {
		exec.Close()
		cancel()
		_ = exec.Wait(context.Background())
		L.Close()
	})
	return exec
}

func TestExecutorSerializes(t *testing.T) {
	exec := startExecutor(t)

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Execute(context.Background(), func(L *lua.LState) error {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Error("calls overlapped on the executor goroutine")
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	exec := startExecutor(t)

	err := exec.Execute(context.Background(), func(L *lua.LState) error {
		panic("bad plugin")
	})
	if err == nil || !strings.Contains(err.Error(), "bad plugin") {
		t.Errorf("Execute(panic) error = %v, want panic message", err)
	}

	if err := exec.Execute(context.Background(), func(L *lua.LState) error { return nil }); err != nil {
		t.Errorf("Execute() after panic error = %v", err)
	}
}

func TestExecutorContextTimeout(t *testing.T) {
	exec := startExecutor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := exec.Execute(ctx, func(L *lua.LState) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want DeadlineExceeded", err)
	}
}

func TestExecutorClosed(t *testing.T) {
	exec := startExecutor(t)
	exec.Close()
	if !exec.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	err := exec.Execute(context.Background(), func(L *lua.LState) error { return nil })
	if !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Execute() error = %v, want ErrExecutorClosed", err)
	}
}
