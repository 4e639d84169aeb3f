package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 2)

	var concurrent, maxConcurrent int32
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		p.Submit(func() {
			n := atomic.AddInt32(&concurrent, 1)
			for {
				cur := atomic.LoadInt32(&maxConcurrent)
				if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			done <- struct{}{}
		})
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	require.NoError(t, p.Wait())
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
}

func TestSubmitDrainsOnWaitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, 4)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	cancel()
	// A Submit issued after cancellation must not block Wait forever.
	p.Submit(func() {})

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.Wait() }()

	select {
	case <-waitErr:
		t.Fatal("Wait returned before the in-flight handler finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-waitErr)
}

func TestGoTracksErrorAlongsideSubmit(t *testing.T) {
	p := New(context.Background(), 1)
	boom := errors.New("boom")
	p.Go(func() error { return boom })
	assert.ErrorIs(t, p.Wait(), boom)
}

func TestContextReturnsPoolContext(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, 1)
	assert.NotNil(t, p.Context())
}
