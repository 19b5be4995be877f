// Package batcher groups incoming URLs into deduplicated batches bounded
// by a time window and a JSON byte budget, emitting one sealed batch at a
// time onto the hive queue for the publisher.
package batcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/haltqueue"
	"github.com/podping-hive/podping-go/internal/podping"
)

// Window is the maximum time a batch accumulates before sealing. It is a
// var, not a const, so tests can shrink it; production code never
// reassigns it.
var Window = 3 * time.Second

// Batcher owns the URL queue exclusively and is the sole producer onto
// the hive queue (spec §3 ownership).
type Batcher struct {
	in   <-chan string
	out  chan<- *podping.Batch
	halt *haltqueue.Flag
	log  *zap.Logger
}

// New wires a batcher between an inbound URL channel and an outbound
// sealed-batch channel.
func New(in <-chan string, out chan<- *podping.Batch, halt *haltqueue.Flag, log *zap.Logger) *Batcher {
	return &Batcher{in: in, out: out, halt: halt, log: log}
}

// Run accumulates URLs until ctx is cancelled. On cancellation it seals
// and emits whatever has accumulated, even under threshold, then returns.
func (b *Batcher) Run(ctx context.Context) {
	batch := podping.NewBatch()
	var timer *time.Timer
	var timerC <-chan time.Time

	seal := func() {
		if batch.Empty() {
			return
		}
		// Try the send first so a cancelled ctx does not win the race
		// against a hive queue that still has room.
		select {
		case b.out <- batch:
		default:
			select {
			case b.out <- batch:
			case <-ctx.Done():
			}
		}
		batch = podping.NewBatch()
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			seal()
			return

		case url, ok := <-b.in:
			if !ok {
				seal()
				return
			}
			halted := b.halt != nil && b.halt.IsSet()
			if !halted && !batch.Empty() && batch.URLListBytes()+len(url) > podping.MaxURLListBytes {
				seal()
			}
			if !batch.Add(url) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(Window)
				timerC = timer.C
			}
			if b.halt != nil && b.halt.IsSet() {
				continue
			}
			if batch.Len() >= podping.MaxURLsPerCustomJSON || batch.URLListBytes() >= podping.MaxURLListBytes {
				seal()
			}

		case <-timerC:
			if b.halt != nil && b.halt.IsSet() {
				// Halted: keep accumulating, re-arm the timer so we
				// re-check once it clears instead of busy-looping.
				timer.Reset(Window)
				continue
			}
			seal()
		}
	}
}
