package uievent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/blockhost/internal/plugin/value"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func strMap(kv ...string) value.Value {
	m := make(map[string]value.Value)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = value.StringOf(kv[i+1])
	}
	return value.MapOf(m)
}

func TestStoreMergeRules(t *testing.T) {
	s := NewStore()

	s.Apply(Event{PluginID: "p", ElementID: "panel", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "<b>1</b>")})
	s.Apply(Event{PluginID: "p", ElementID: "panel", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "<b>2</b>")})
	s.Apply(Event{PluginID: "p", ElementID: "side", Kind: KindSidebar, Action: ActionSet, Data: strMap("title", "A", "icon", "box")})
	s.Apply(Event{PluginID: "p", ElementID: "side", Kind: KindSidebar, Action: ActionUpdate, Data: strMap("title", "B")})
	s.Apply(Event{PluginID: "p", ElementID: "x", Kind: KindNotification, Action: ActionShow, Data: strMap("msg", "hi")})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
	}
	if html, _ := snap[0].Data.Get("html").Str(); html != "<b>2</b>" {
		t.Errorf("html = %q, want replaced value", html)
	}
	if title, _ := snap[1].Data.Get("title").Str(); title != "B" {
		t.Errorf("sidebar title = %q, want B", title)
	}
	if icon, _ := snap[1].Data.Get("icon").Str(); icon != "box" {
		t.Errorf("sidebar icon = %q, want merged box", icon)
	}

	s.Apply(Event{PluginID: "p", ElementID: "panel", Kind: KindHTML, Action: ActionRemove})
	if s.Len() != 1 {
		t.Errorf("Len() after remove = %d, want 1", s.Len())
	}
}

func TestStoreSameElementDifferentKinds(t *testing.T) {
	s := NewStore()
	s.Apply(Event{PluginID: "p", ElementID: "e", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "x")})
	s.Apply(Event{PluginID: "p", ElementID: "e", Kind: KindCSS, Action: ActionInject, Data: strMap("css", "y")})
	s.Apply(Event{PluginID: "q", ElementID: "e", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "z")})
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	s.Apply(Event{PluginID: "p", Kind: KindCSS, Action: ActionRemoveAll})
	if s.Len() != 2 {
		t.Errorf("Len() after css remove_all = %d, want 2", s.Len())
	}
	s.Apply(Event{PluginID: "p", Kind: KindPlugin, Action: ActionRemoveAll})
	if s.Len() != 1 {
		t.Errorf("Len() after plugin remove_all = %d, want 1", s.Len())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Apply(Event{PluginID: "p", ElementID: "c", Kind: KindComponent, Action: ActionCreate, Data: strMap("a", "1")})
	snap := s.Snapshot()
	snap[0].Data.Fields()["a"] = value.StringOf("mutated")

	again := s.Snapshot()
	if a, _ := again[0].Data.Get("a").Str(); a != "1" {
		t.Errorf("store mutated through snapshot, a = %q", a)
	}
}

func TestBusBuffersWithoutObserver(t *testing.T) {
	b := NewBus(quietLogger())
	b.Emit(Event{PluginID: "p", ElementID: "s", Kind: KindSidebar, Action: ActionSet, Data: strMap("title", "T")})

	var (
		mu  sync.Mutex
		got []Event
	)
	b.SetLiveHandler(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	b.Emit(Event{PluginID: "p", ElementID: "m", Kind: KindContextMenu, Action: ActionCreate, Data: strMap("label", "L")})

	if n := len(b.TakeSnapshot()); n != 2 {
		t.Errorf("len(TakeSnapshot()) = %d, want 2", n)
	}
	if n := len(b.TakeSnapshot()); n != 2 {
		t.Errorf("second TakeSnapshot() len = %d, want 2", n)
	}
	mu.Lock()
	if len(got) != 1 {
		t.Errorf("live events = %d, want 1", len(got))
	}
	mu.Unlock()

	st := b.Stats()
	if st.Undelivered != 1 || st.Delivered != 1 {
		t.Errorf("Stats() = %+v, want 1 delivered and 1 undelivered", st)
	}
}

func TestBusClearPlugin(t *testing.T) {
	b := NewBus(quietLogger())
	b.Emit(Event{PluginID: "demo", ElementID: "side", Kind: KindSidebar, Action: ActionSet, Data: strMap("title", "Demo")})
	b.Emit(Event{PluginID: "demo", ElementID: "banner", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "<p/>")})
	b.Emit(Event{PluginID: "other", ElementID: "banner", Kind: KindHTML, Action: ActionInject, Data: strMap("html", "<p/>")})

	b.ClearPlugin("demo")
	for _, e := range b.TakeSnapshot() {
		if e.PluginID == "demo" {
			t.Errorf("snapshot still holds %s/%s", e.Kind, e.ElementID)
		}
	}
	if n := len(b.TakeSnapshot()); n != 1 {
		t.Errorf("len(TakeSnapshot()) = %d, want 1", n)
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	b := NewBus(quietLogger())
	b.SetLiveHandler(func(Event) { panic("observer bug") })
	b.Emit(Event{PluginID: "p", ElementID: "x", Kind: KindCSS, Action: ActionInject})
	if b.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", b.Stats().Panics)
	}
	if len(b.TakeSnapshot()) != 1 {
		t.Error("event lost from buffer after handler panic")
	}
}

func TestBrokerResolve(t *testing.T) {
	br := NewBroker()
	var id string
	done := make(chan struct{})
	var (
		got value.Value
		ok  bool
	)
	go func() {
		defer close(done)
		got, ok = br.Request(context.Background(), time.Second, func(requestID string) bool {
			id = requestID
			go br.Resolve(requestID, value.StringOf("hello"))
			return true
		})
	}()
	<-done
	if !ok {
		t.Fatal("Request() ok = false, want true")
	}
	if s, _ := got.Str(); s != "hello" {
		t.Errorf("Request() = %s, want hello", got)
	}
	if br.Resolve(id, value.Nil) {
		t.Error("Resolve() after completion = true, want false")
	}
	if br.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", br.Pending())
	}
}

func TestBrokerTimeout(t *testing.T) {
	br := NewBroker()
	start := time.Now()
	v, ok := br.Request(context.Background(), 30*time.Millisecond, func(string) bool { return true })
	if ok || !v.IsNull() {
		t.Errorf("Request() = %s, %v, want nil, false", v, ok)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if br.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", br.Pending())
	}
}

func TestBrokerNoObserver(t *testing.T) {
	br := NewBroker()
	start := time.Now()
	_, ok := br.Request(context.Background(), 10*time.Second, func(string) bool { return false })
	if ok {
		t.Error("Request() ok = true with failed send")
	}
	if time.Since(start) > time.Second {
		t.Error("Request() waited despite failed send")
	}
}
