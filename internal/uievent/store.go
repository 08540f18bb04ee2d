package uievent

import (
	"sort"
	"sync"

	"github.com/dshills/blockhost/internal/plugin/value"
)

type entryKey struct {
	pluginID  string
	elementID string
	kind      Kind
}

// Entry is the reconciled state of one UI object.
type Entry struct {
	PluginID  string      `json:"pluginId"`
	ElementID string      `json:"elementId"`
	Kind      Kind        `json:"kind"`
	Data      value.Value `json:"data"`

	seq uint64
}

// Store holds the latest state for every buffered (plugin, element, kind).
type Store struct {
	mu      sync.Mutex
	entries map[entryKey]*Entry
	seq     uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[entryKey]*Entry)}
}

// Apply folds ev into the store. Events of live-only kinds are ignored.
func (s *Store) Apply(ev Event) {
	if ev.Action == ActionRemoveAll {
		if ev.Kind.Buffered() {
			s.clear(ev.PluginID, ev.Kind)
		} else {
			s.clear(ev.PluginID, "")
		}
		return
	}
	if !ev.Kind.Buffered() {
		return
	}

	k := entryKey{pluginID: ev.PluginID, elementID: ev.ElementID, kind: ev.Kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Action {
	case ActionCreate, ActionInject:
		s.seq++
		s.entries[k] = &Entry{PluginID: ev.PluginID, ElementID: ev.ElementID, Kind: ev.Kind, Data: ev.Data.Clone(), seq: s.seq}
	case ActionUpdate, ActionSet:
		if e, ok := s.entries[k]; ok {
			e.Data = e.Data.Merge(ev.Data)
			return
		}
		s.seq++
		s.entries[k] = &Entry{PluginID: ev.PluginID, ElementID: ev.ElementID, Kind: ev.Kind, Data: ev.Data.Clone(), seq: s.seq}
	case ActionRemove, ActionUnregister:
		delete(s.entries, k)
	}
}

// clear removes every entry of pluginID, restricted to kind when non-empty.
func (s *Store) clear(pluginID string, kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.pluginID == pluginID && (kind == "" || k.kind == kind) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// ClearPlugin removes every entry owned by pluginID and returns how many
// were dropped.
func (s *Store) ClearPlugin(pluginID string) int {
	return s.clear(pluginID, "")
}

// Snapshot returns a deep copy of all entries in first-insert order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		cp.Data = e.Data.Clone()
		out = append(out, cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
