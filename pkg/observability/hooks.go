// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Consumers can register
// hooks at startup to receive events about routing iterations, net routing
// and snapshot persistence.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach:
//   - Avoids import cycles (hooks are registered by main, not by libraries)
//   - Keeps the routing core dependency-free from observability frameworks
//   - Allows different backends (OpenTelemetry, Prometheus, DataDog, etc.)
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetRouterHooks(&myRouterHooks{})
//	    // ... run application
//	}
//
// The routing core calls hooks to emit events:
//
//	observability.Router().OnIterationStart(ctx, itry)
//	// ... route ...
//	observability.Router().OnIterationComplete(ctx, itry, overused, wirelength, elapsed)
package observability

import (
	"context"
	"sync"
	"time"
)

// RouterHooks receives events from the parallel routing core.
//
// Net-level hooks may be called concurrently from many workers;
// implementations must be safe for concurrent use.
type RouterHooks interface {
	// Iteration events
	OnIterationStart(ctx context.Context, itry int)
	OnIterationComplete(ctx context.Context, itry int, overusedNodes int, wirelength int, duration time.Duration)

	// Net events
	OnNetRouted(ctx context.Context, net int, sinks int)
	OnNetDecomposed(ctx context.Context, net int, axis string, cutPos int)
	OnNetRetried(ctx context.Context, net int)

	// Outcome events
	OnConverged(ctx context.Context, itry int, wirelength int)
	OnAborted(ctx context.Context, itry int, reason string)
}

// SnapshotHooks receives events from snapshot store operations.
type SnapshotHooks interface {
	// OnSnapshotSave records a persisted iteration snapshot.
	OnSnapshotSave(ctx context.Context, backend string, key string, size int)

	// OnSnapshotError records a failed snapshot operation.
	OnSnapshotError(ctx context.Context, backend string, key string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopRouterHooks is a no-op implementation of RouterHooks.
type NoopRouterHooks struct{}

func (NoopRouterHooks) OnIterationStart(context.Context, int)                            {}
func (NoopRouterHooks) OnIterationComplete(context.Context, int, int, int, time.Duration) {}
func (NoopRouterHooks) OnNetRouted(context.Context, int, int)                            {}
func (NoopRouterHooks) OnNetDecomposed(context.Context, int, string, int)                {}
func (NoopRouterHooks) OnNetRetried(context.Context, int)                                {}
func (NoopRouterHooks) OnConverged(context.Context, int, int)                            {}
func (NoopRouterHooks) OnAborted(context.Context, int, string)                           {}

// NoopSnapshotHooks is a no-op implementation of SnapshotHooks.
type NoopSnapshotHooks struct{}

func (NoopSnapshotHooks) OnSnapshotSave(context.Context, string, string, int)    {}
func (NoopSnapshotHooks) OnSnapshotError(context.Context, string, string, error) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	routerHooks   RouterHooks   = NoopRouterHooks{}
	snapshotHooks SnapshotHooks = NoopSnapshotHooks{}
	hooksMu       sync.RWMutex
)

// SetRouterHooks registers custom router hooks.
// This should be called once at application startup before routing begins.
func SetRouterHooks(h RouterHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		routerHooks = h
	}
}

// SetSnapshotHooks registers custom snapshot hooks.
// This should be called once at application startup before routing begins.
func SetSnapshotHooks(h SnapshotHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		snapshotHooks = h
	}
}

// Router returns the registered router hooks.
func Router() RouterHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return routerHooks
}

// Snapshot returns the registered snapshot hooks.
func Snapshot() SnapshotHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return snapshotHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	routerHooks = NoopRouterHooks{}
	snapshotHooks = NoopSnapshotHooks{}
}
