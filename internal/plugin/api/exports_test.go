package api

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

func TestCrossPluginCall(t *testing.T) {
	hctx := newTestContext(t, Context{})
	maps := newTestPlugin(t, hctx, "maps", security.PermAPI)
	client := newTestPlugin(t, hctx, "client", security.PermAPI)

	maps.mustRun(t, `
		api.register("double", function(n) return n * 2 end)
		api.register("echo", function(...) return { ... } end)
	`)
	client.mustRun(t, `
		doubled = api.call("maps", "double", 21)
		missing, missing_err = api.call("maps", "nope")
		ghost, ghost_err = api.call("ghost", "double", 1)
		has_double = api.has("maps", "double")
		listed = api.list("maps")
	`)

	if got, _ := client.global(t, "doubled").Int(); got != 42 {
		t.Errorf("doubled = %d, want 42", got)
	}
	for _, name := range []string{"missing", "ghost"} {
		if !client.global(t, name).IsNull() {
			t.Errorf("%s = %s, want nil", name, client.global(t, name))
		}
		if msg, _ := client.global(t, name+"_err").Str(); msg != "not found" {
			t.Errorf("%s_err = %q, want not found", name, msg)
		}
	}
	if b, _ := client.global(t, "has_double").Bool(); !b {
		t.Error("api.has(maps, double) = false")
	}
	if n := len(client.global(t, "listed").Items()); n != 2 {
		t.Errorf("api.list(maps) has %d entries, want 2", n)
	}

	maps.ns.Cleanup()
	client.mustRun(t, `after = api.call("maps", "double", 1)`)
	if !client.global(t, "after").IsNull() {
		t.Error("call succeeded after owner cleanup")
	}
}

func TestSelfCall(t *testing.T) {
	p := newTestPlugin(t, newTestContext(t, Context{}), "solo", security.PermAPI)
	p.mustRun(t, `
		api.register("inc", function(n) return n + 1 end)
		result = api.call("solo", "inc", 1)
	`)
	if got, _ := p.global(t, "result").Int(); got != 2 {
		t.Errorf("result = %d, want 2", got)
	}
}

func TestExportCallFromHost(t *testing.T) {
	hctx := newTestContext(t, Context{})
	p := newTestPlugin(t, hctx, "maps", security.PermAPI)
	p.mustRun(t, `api.register("greet", function(name) return "hi " .. name end)`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, found, err := hctx.Exports.Call(ctx, "maps", "greet", []value.Value{value.StringOf("bob")})
	if err != nil || !found {
		t.Fatalf("Call() = _, %v, %v", found, err)
	}
	if s, _ := v.Str(); s != "hi bob" {
		t.Errorf("Call() = %s", v)
	}
}

func TestCallErrorReturnsMessage(t *testing.T) {
	hctx := newTestContext(t, Context{})
	a := newTestPlugin(t, hctx, "a", security.PermAPI)
	b := newTestPlugin(t, hctx, "b", security.PermAPI)
	a.mustRun(t, `api.register("boom", function() error("kaboom") end)`)
	b.mustRun(t, `res, err = api.call("a", "boom")`)
	if !b.global(t, "res").IsNull() {
		t.Error("res should be nil")
	}
	if msg, _ := b.global(t, "err").Str(); msg == "" {
		t.Error("err should carry the failure")
	}
}
