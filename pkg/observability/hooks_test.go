package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	// Simulation hooks
	s := NoopSimHooks{}
	s.OnRunStart(ctx, "inv", 4)
	s.OnRunComplete(ctx, "inv", "ok", time.Second, nil)

	// Sweep hooks
	w := NoopSweepHooks{}
	w.OnWorkerStart(ctx, 0, "sweep_0", 3)
	w.OnWorkerComplete(ctx, 0, time.Second, nil)
	w.OnVectorFailed(ctx, 4, errors.New("timeout"))

	// Cache hooks
	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "sweep")
	c.OnCacheMiss(ctx, "schematic")
	c.OnCacheSet(ctx, "run", 1024)

	// HTTP hooks
	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "/schematics/{id}")
	h.OnResponse(ctx, "GET", "/schematics/{id}", 200, time.Second)
}

func TestGlobalHooksRegistry(t *testing.T) {
	// Reset to known state
	Reset()

	// Verify defaults are noop
	if _, ok := Sim().(NoopSimHooks); !ok {
		t.Error("Sim() should return NoopSimHooks by default")
	}
	if _, ok := Sweep().(NoopSweepHooks); !ok {
		t.Error("Sweep() should return NoopSweepHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	// Set custom hooks
	customSim := &testSimHooks{}
	SetSimHooks(customSim)
	if Sim() != customSim {
		t.Error("SetSimHooks should set custom hooks")
	}

	customSweep := &testSweepHooks{}
	SetSweepHooks(customSweep)
	if Sweep() != customSweep {
		t.Error("SetSweepHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	// Reset and verify
	Reset()
	if _, ok := Sweep().(NoopSweepHooks); !ok {
		t.Error("Reset() should restore NoopSweepHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testSweepHooks{}
	SetSweepHooks(custom)

	// Setting nil should be ignored
	SetSweepHooks(nil)

	if Sweep() != custom {
		t.Error("SetSweepHooks(nil) should be ignored")
	}

	Reset()
}

// Test implementations
type testSimHooks struct{ NoopSimHooks }
type testSweepHooks struct{ NoopSweepHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testHTTPHooks struct{ NoopHTTPHooks }
