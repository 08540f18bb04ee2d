package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	ErrNotFound    = errors.New("process not found")
	ErrClosed      = errors.New("process registry is closed")
	ErrLimit       = errors.New("process limit reached")
	errProcessDone = os.ErrProcessDone
)

// Spec describes a program to start.
type Spec struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// Result is the outcome of Run.
type Result struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
}

// Registry tracks the children of one plugin runtime.
type Registry struct {
	mu        sync.Mutex
	processes map[string]*Process
	closed    atomic.Bool

	maxRunning int
	maxOutput  int64
	killWait   time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxRunning limits concurrently running children. 0 means unlimited.
func WithMaxRunning(n int) Option {
	return func(r *Registry) { r.maxRunning = n }
}

// WithMaxOutput caps captured bytes per stream.
func WithMaxOutput(n int64) Option {
	return func(r *Registry) { r.maxOutput = n }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		processes: make(map[string]*Process),
		maxOutput: 1 << 20,
		killWait:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Spawn starts spec in the background and tracks it until it exits.
func (r *Registry) Spawn(spec Spec) (*Process, error) {
	if spec.Program == "" {
		return nil, errors.New("program is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}
	if r.maxRunning > 0 && len(r.processes) >= r.maxRunning {
		return nil, fmt.Errorf("%w: %d", ErrLimit, r.maxRunning)
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = time.Second
	setGroup(cmd)
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	p := &Process{
		ID:      uuid.NewString(),
		Program: spec.Program,
		Args:    append([]string(nil), spec.Args...),
		cmd:     cmd,
		stdout:  &cappedBuffer{limit: r.maxOutput},
		stderr:  &cappedBuffer{limit: r.maxOutput},
		done:    make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	p.exitCode.Store(-1)
	p.onExit = func() { r.remove(p.ID) }

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Program, err)
	}
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	r.processes[p.ID] = p

	go p.wait()
	return p, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.processes, id)
	r.mu.Unlock()
}

// Run starts spec and waits for it to exit, killing it when timeout passes
// or ctx ends.
func (r *Registry) Run(ctx context.Context, spec Spec, timeout time.Duration) (Result, error) {
	p, err := r.Spawn(spec)
	if err != nil {
		return Result{}, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	timedOut := false
	select {
	case <-p.Done():
	case <-timer:
		timedOut = true
		_ = p.Kill()
		<-p.Done()
	case <-ctx.Done():
		_ = p.Kill()
		<-p.Done()
		return Result{}, ctx.Err()
	}

	res := Result{ExitCode: p.ExitCode(), TimedOut: timedOut}
	res.Stdout, res.StdoutTruncated = p.Stdout()
	res.Stderr, res.StderrTruncated = p.Stderr()
	return res, nil
}

// Get returns a tracked process.
func (r *Registry) Get(id string) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	return p, ok
}

// Kill kills one tracked process.
func (r *Registry) Kill(id string) error {
	p, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	return p.Kill()
}

// List returns snapshots of running processes ordered by start time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.processes))
	for _, p := range r.processes {
		out = append(out, p.Info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Count returns the number of tracked processes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// KillAll kills every tracked child and waits for them to be reaped. It
// returns the number of processes killed.
func (r *Registry) KillAll() int {
	r.mu.Lock()
	procs := make([]*Process, 0, len(r.processes))
	for _, p := range r.processes {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	deadline := time.After(r.killWait)
	n := 0
	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Kill()
			n++
		}
	}
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-deadline:
			return n
		}
	}
	return n
}

// Close refuses further spawns and kills everything still running.
func (r *Registry) Close() int {
	r.closed.Store(true)
	return r.KillAll()
}
