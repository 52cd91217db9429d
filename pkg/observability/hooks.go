// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about simulation runs, sweep workers, cache operations
// and API requests.
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetSweepHooks(&mySweepHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Sweep().OnWorkerStart(ctx, worker, workspace, len(chunk))
//	// ... evaluate chunk ...
//	observability.Sweep().OnWorkerComplete(ctx, worker, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Simulation Hooks
// =============================================================================

// SimHooks receives events from simulation runs.
type SimHooks interface {
	OnRunStart(ctx context.Context, cell string, sweepPoints int)
	// OnRunComplete receives the run status ("ok", "degraded", "failed"),
	// or an empty status when err is set.
	OnRunComplete(ctx context.Context, cell, status string, duration time.Duration, err error)
}

// =============================================================================
// Sweep Hooks
// =============================================================================

// SweepHooks receives events from the sweep executor.
type SweepHooks interface {
	// OnWorkerStart records a worker starting on a chunk of vectors.
	OnWorkerStart(ctx context.Context, worker int, workspace string, vectors int)

	// OnWorkerComplete records a worker finishing its chunk.
	OnWorkerComplete(ctx context.Context, worker int, duration time.Duration, err error)

	// OnVectorFailed records a vector that fell back to the sentinel.
	OnVectorFailed(ctx context.Context, index int, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the API server.
type HTTPHooks interface {
	// OnRequest records an incoming request.
	OnRequest(ctx context.Context, method, route string)

	// OnResponse records the response written for a request.
	OnResponse(ctx context.Context, method, route string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopSimHooks is a no-op implementation of SimHooks.
type NoopSimHooks struct{}

func (NoopSimHooks) OnRunStart(context.Context, string, int)                             {}
func (NoopSimHooks) OnRunComplete(context.Context, string, string, time.Duration, error) {}

// NoopSweepHooks is a no-op implementation of SweepHooks.
type NoopSweepHooks struct{}

func (NoopSweepHooks) OnWorkerStart(context.Context, int, string, int)             {}
func (NoopSweepHooks) OnWorkerComplete(context.Context, int, time.Duration, error) {}
func (NoopSweepHooks) OnVectorFailed(context.Context, int, error)                  {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	simHooks   SimHooks   = NoopSimHooks{}
	sweepHooks SweepHooks = NoopSweepHooks{}
	cacheHooks CacheHooks = NoopCacheHooks{}
	httpHooks  HTTPHooks  = NoopHTTPHooks{}
	hooksMu    sync.RWMutex
)

// SetSimHooks registers custom simulation hooks.
// This should be called once at application startup before any runs.
func SetSimHooks(h SimHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		simHooks = h
	}
}

// SetSweepHooks registers custom sweep hooks.
// This should be called once at application startup before any sweeps.
func SetSweepHooks(h SweepHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		sweepHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before the server starts.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Sim returns the registered simulation hooks.
func Sim() SimHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return simHooks
}

// Sweep returns the registered sweep hooks.
func Sweep() SweepHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return sweepHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	simHooks = NoopSimHooks{}
	sweepHooks = NoopSweepHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
