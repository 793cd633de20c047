// Package middleware provides a chain of snapshot processors that run
// between a sync stream and its consumers. Middleware can drop, filter or
// annotate snapshots before they are printed, archived or shown.
package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

// ErrSkip is returned by middleware that drops a snapshot. It is not a
// failure; consumers simply do not see the snapshot.
var ErrSkip = errors.New("middleware: snapshot skipped")

// SnapshotContext carries information about the snapshot being processed.
type SnapshotContext struct {
	// Ctx is the stream context
	Ctx context.Context

	// StreamID identifies the stream that delivered the snapshot
	StreamID string

	// Sequence is the 1-based position of the snapshot in its stream
	Sequence int

	// Metadata is shared by every middleware in the chain
	Metadata map[string]interface{}
}

// Middleware processes snapshots in a chain. Implementations must not
// modify the snapshot they receive; they pass a copy to next instead.
type Middleware interface {
	Process(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error)

	// Name returns the middleware name for logging.
	Name() string
}

// ProcessFunc processes one snapshot.
type ProcessFunc func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error)

// Chain is an ordered list of middleware.
type Chain struct {
	middleware []Middleware
}

func NewChain(middleware ...Middleware) *Chain {
	return &Chain{middleware: middleware}
}

func (c *Chain) Add(m Middleware) {
	c.middleware = append(c.middleware, m)
}

// Process runs snapshot through the chain, first middleware outermost.
func (c *Chain) Process(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error) {
	process := ProcessFunc(func(_ *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error) {
		return snapshot, nil
	})

	for i := len(c.middleware) - 1; i >= 0; i-- {
		m := c.middleware[i]
		next := process
		process = func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error) {
			return m.Process(ctx, snapshot, next)
		}
	}

	return process(ctx, snapshot)
}

func (c *Chain) Len() int {
	return len(c.middleware)
}

// Names lists the middleware in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.middleware))
	for i, m := range c.middleware {
		names[i] = m.Name()
	}
	return names
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc struct {
	name string
	fn   func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error)
}

func NewMiddlewareFunc(name string, fn func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error)) Middleware {
	return &MiddlewareFunc{name: name, fn: fn}
}

func (m *MiddlewareFunc) Process(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error) {
	return m.fn(ctx, snapshot, next)
}

func (m *MiddlewareFunc) Name() string {
	return m.name
}

// FilterFunc decides whether a snapshot is passed on.
type FilterFunc func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) bool

// NewFilterMiddleware drops snapshots for which keep returns false.
func NewFilterMiddleware(name string, keep FilterFunc) Middleware {
	return NewMiddlewareFunc(name, func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error) {
		if !keep(ctx, snapshot) {
			log.WithFields(map[string]interface{}{
				"middleware": name,
				"stream_id":  ctx.StreamID,
				"next_batch": snapshot.NextBatch,
			}).Debug("snapshot skipped by middleware")
			return nil, ErrSkip
		}
		return next(ctx, snapshot)
	})
}

// TransformFunc returns a changed copy of a snapshot.
type TransformFunc func(ctx *SnapshotContext, snapshot *matrix.SyncResponse) (*matrix.SyncResponse, error)

func NewTransformMiddleware(name string, transform TransformFunc) Middleware {
	return NewMiddlewareFunc(name, func(ctx *SnapshotContext, snapshot *matrix.SyncResponse, next ProcessFunc) (*matrix.SyncResponse, error) {
		transformed, err := transform(ctx, snapshot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return next(ctx, transformed)
	})
}
