package uievent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Bus delivers events live and keeps the snapshot store current.
type Bus struct {
	log   logrus.FieldLogger
	store *Store

	mu   sync.RWMutex
	live Handler

	now func() time.Time

	emitted   atomic.Uint64
	delivered atomic.Uint64
	undeliver atomic.Uint64
	panics    atomic.Uint64
}

// Stats reports bus counters.
type Stats struct {
	Emitted     uint64
	Delivered   uint64
	Undelivered uint64
	Panics      uint64
	Buffered    int
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus creates a bus with an empty store.
func NewBus(log logrus.FieldLogger, opts ...BusOption) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Bus{
		log:   log.WithField("component", "uievent"),
		store: NewStore(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLiveHandler installs the observer's delivery function. nil detaches it.
func (b *Bus) SetLiveHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = h
}

// HasLiveHandler reports whether an observer is attached.
func (b *Bus) HasLiveHandler() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live != nil
}

// Emit buffers ev and forwards it to the live handler if one is attached.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.emitted.Add(1)
	b.store.Apply(ev)
	b.deliver(ev)
}

// EmitLive forwards ev without touching the snapshot. It reports whether a
// handler accepted the event.
func (b *Bus) EmitLive(ev Event) bool {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.emitted.Add(1)
	return b.deliver(ev)
}

func (b *Bus) deliver(ev Event) (ok bool) {
	b.mu.RLock()
	h := b.live
	b.mu.RUnlock()

	if h == nil {
		b.undeliver.Add(1)
		b.log.WithFields(logrus.Fields{"plugin": ev.PluginID, "kind": ev.Kind, "action": ev.Action}).
			Debug("no live handler attached, event kept for snapshot only")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.WithField("panic", r).Error("live handler panicked")
			ok = false
		}
	}()
	h(ev)
	b.delivered.Add(1)
	return true
}

// ClearPlugin prunes the plugin's buffered state and tells the observer.
func (b *Bus) ClearPlugin(pluginID string) {
	n := b.store.ClearPlugin(pluginID)
	b.log.WithFields(logrus.Fields{"plugin": pluginID, "entries": n}).Debug("cleared ui buffer")
	b.deliver(Event{PluginID: pluginID, Kind: KindPlugin, Action: ActionRemoveAll, Time: b.now()})
}

// TakeSnapshot returns the current buffered state without clearing it.
func (b *Bus) TakeSnapshot() []Entry {
	return b.store.Snapshot()
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Emitted:     b.emitted.Load(),
		Delivered:   b.delivered.Load(),
		Undelivered: b.undeliver.Load(),
		Panics:      b.panics.Load(),
		Buffered:    b.store.Len(),
	}
}
