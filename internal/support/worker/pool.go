// Package worker is the shared executor spec.md §4.6/§5 describes: a fixed
// number of worker goroutines that back both the UDP and TCP DNS endpoints
// so accept/receive callbacks never run resolution inline. Built on
// golang.org/x/sync/errgroup, generalizing the teacher's thread-pool
// executor model (it runs one shared pool per process, sized by
// num_dns_threads) to Go's goroutine scheduler.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent work to a fixed number of slots, submitting work
// without ever blocking the submitter's own goroutine for longer than it
// takes to acquire a slot.
type Pool struct {
	sem chan struct{}
	grp *errgroup.Group
	ctx context.Context
}

// New creates a Pool with the given number of concurrent slots.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	grp, ctx := errgroup.WithContext(ctx)
	return &Pool{sem: make(chan struct{}, size), grp: grp, ctx: ctx}
}

// Submit runs fn on a worker goroutine once a slot is free, or drops it if
// the pool's context is already done — once shutdown has begun, Close's
// Wait call should observe a draining pool, not an ever-growing one.
// Submitted work is tracked through the same errgroup Go uses, so Wait
// blocks on Submit'd work too.
func (p *Pool) Submit(fn func()) {
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return
	}
	p.grp.Go(func() error {
		defer func() { <-p.sem }()
		fn()
		return nil
	})
}

// Go runs fn on the pool's errgroup directly, bypassing the semaphore —
// for long-running supervisory goroutines (not per-request work) that
// Close still needs to wait for.
func (p *Pool) Go(fn func() error) {
	p.grp.Go(fn)
}

// Wait blocks until every goroutine started through Submit or Go has
// returned, and returns the first non-nil error any of them returned.
// Server.Close calls this after cancelling the pool's context so shutdown
// doesn't return while a DNS handler is still touching the storage engine.
func (p *Pool) Wait() error {
	return p.grp.Wait()
}

func (p *Pool) Context() context.Context {
	return p.ctx
}
