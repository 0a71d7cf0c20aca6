// interfaces.go
// Core interfaces for queryopt: Provider and its optional capabilities, and Listener.
// These are public and intended for use by users and driver developers.

package queryopt

import (
	"context"
)

// Provider is the external document store the optimizer reads from.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the backend in logs and errors ("memory", "sqlite", ...).
	Name() string
	// Find returns the documents matching q, already filtered, ordered, resumed after the
	// cursor and limited. A cursor id that does not exist must fail with ErrCursorNotFound.
	Find(ctx context.Context, q *ProviderQuery) ([]Document, error)
}

// Counter is implemented by providers that can count the documents matching a query's
// filters (ordering, cursor and limit are ignored).
type Counter interface {
	Count(ctx context.Context, q *ProviderQuery) (int64, error)
}

// Writer is implemented by providers that accept writes. The optimizer never writes; the
// CLI and tests use it to seed collections.
type Writer interface {
	Put(ctx context.Context, collection string, docs ...Document) error
	Delete(ctx context.Context, collection string, ids ...string) error
}

// Listener receives engine events. OnEvent is called synchronously, outside engine locks,
// so implementations should return quickly.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(e Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }
