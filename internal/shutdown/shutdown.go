// Package shutdown coordinates graceful termination: it cancels a root
// context on SIGINT/SIGTERM and waits for every registered component to
// report it has drained, with a hard deadline beyond which it gives up
// and returns anyway.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Coordinator owns the root context and tracks in-flight components via
// a WaitGroup. Cancelling the context signals every component at once;
// each reacts on its own (ingest stops accepting, the batcher seals its
// accumulation, the publisher returns), and the coordinator imposes no
// order between them.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

// New installs a signal handler that cancels the returned context on the
// first SIGINT/SIGTERM.
func New(log *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{ctx: ctx, cancel: cancel, log: log}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if log != nil {
			log.Info("shutdown: signal received, draining", zap.String("signal", sig.String()))
		}
		cancel()
	}()

	return c
}

// Context is the root context components should run with.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Go runs fn in a tracked goroutine; Wait blocks until every such
// goroutine returns.
func (c *Coordinator) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked goroutine has returned, or deadline
// elapses after the context was cancelled, whichever comes first.
func (c *Coordinator) Wait(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-c.ctx.Done():
		select {
		case <-done:
		case <-time.After(deadline):
			if c.log != nil {
				c.log.Warn("shutdown: deadline exceeded, exiting anyway", zap.Duration("deadline", deadline))
			}
		}
	}
}

// Cancel triggers shutdown programmatically, e.g. when a component stops
// with an error or the pipeline has finished on its own.
func (c *Coordinator) Cancel() {
	c.cancel()
}
