// Package proc tracks child processes started by a plugin runtime so they
// can be killed together when the plugin is disabled.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the state of a process.
type State int32

const (
	StateRunning State = iota + 1
	StateExited
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is one tracked child.
type Process struct {
	ID      string
	Program string
	Args    []string
	Started time.Time

	cmd    *exec.Cmd
	stdout *cappedBuffer
	stderr *cappedBuffer

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32
	killed   atomic.Bool

	mu      sync.RWMutex
	exitErr error

	// onExit runs after the child is reaped and before Done is closed.
	onExit func()
}

// Info is a snapshot of a process for scripts.
type Info struct {
	ID       string
	Program  string
	PID      int
	State    State
	ExitCode int
	Started  time.Time
}

// PID returns the OS process id, or -1 before start.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// State returns the current state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// IsRunning reports whether the child has not exited yet.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 while running.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the child.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Stdout returns captured standard output and whether it was truncated.
func (p *Process) Stdout() (string, bool) {
	return p.stdout.String()
}

// Stderr returns captured standard error and whether it was truncated.
func (p *Process) Stderr() (string, bool) {
	return p.stderr.String()
}

// Kill terminates the child and its process group immediately.
func (p *Process) Kill() error {
	if !p.IsRunning() || p.cmd.Process == nil {
		return nil
	}
	p.killed.Store(true)
	if err := killGroup(p.cmd); err != nil && !errors.Is(err, errProcessDone) {
		return fmt.Errorf("kill %s: %w", p.ID, err)
	}
	return nil
}

// Info returns a snapshot.
func (p *Process) Info() Info {
	return Info{
		ID:       p.ID,
		Program:  p.Program,
		PID:      p.PID(),
		State:    p.State(),
		ExitCode: p.ExitCode(),
		Started:  p.Started,
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	code := 0
	state := StateExited
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}
	if p.killed.Load() {
		state = StateKilled
	}
	p.exitCode.Store(int32(code))
	p.state.Store(int32(state))
	if p.onExit != nil {
		p.onExit()
	}
	close(p.done)
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
