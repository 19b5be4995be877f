// Package haltqueue provides the HALT_THE_QUEUE signal shared between the
// publisher (writer) and batcher: set on an UnhandledRPCError interpreted
// as resource-credit exhaustion, observed by the batcher to pause sealing
// new batches until resource credits recover.
package haltqueue

import (
	"sync/atomic"

	"github.com/podping-hive/podping-go/internal/metrics"
)

// Flag is a single shared boolean. It is not a package-level global —
// callers construct one and pass it to both the publisher and the
// batcher that need to see the same state.
type Flag struct {
	halted atomic.Bool
}

// New returns a cleared flag.
func New() *Flag { return &Flag{} }

// Set raises the flag.
func (f *Flag) Set() {
	f.halted.Store(true)
	metrics.HaltQueueActive.Set(1)
}

// Clear lowers the flag.
func (f *Flag) Clear() {
	f.halted.Store(false)
	metrics.HaltQueueActive.Set(0)
}

// IsSet reports the current state.
func (f *Flag) IsSet() bool { return f.halted.Load() }
