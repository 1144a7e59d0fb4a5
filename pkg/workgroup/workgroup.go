// Package workgroup runs the agent's long lived workers side by side.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs workers under a shared context. The context handed to workers
// is cancelled as soon as one of them fails.
type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

func WithContext(ctx context.Context) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		group: group,
	}
}

// Work starts fn in its own goroutine.
func (g *Group) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until every worker returned and reports the first failure.
func (g *Group) Wait() error {
	return g.group.Wait()
}
