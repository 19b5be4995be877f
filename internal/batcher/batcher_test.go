package batcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podping-hive/podping-go/internal/haltqueue"
	"github.com/podping-hive/podping-go/internal/podping"
)

func TestBatcherSealsOnCountCap(t *testing.T) {
	in := make(chan string, podping.MaxURLsPerCustomJSON+1)
	out := make(chan *podping.Batch, 4)
	b := New(in, out, haltqueue.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := 0; i < podping.MaxURLsPerCustomJSON; i++ {
		in <- "https://example.com/" + strings.Repeat("a", i) + ".xml"
	}

	select {
	case sealed := <-out:
		assert.Equal(t, podping.MaxURLsPerCustomJSON, sealed.Len())
	case <-time.After(time.Second):
		t.Fatal("batch was never sealed on count cap")
	}
}

func TestBatcherSealsOnByteBudget(t *testing.T) {
	in := make(chan string, 10)
	out := make(chan *podping.Batch, 4)
	b := New(in, out, haltqueue.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	big := strings.Repeat("x", podping.MaxURLListBytes)
	in <- big
	in <- "https://example.com/small.xml"

	select {
	case sealed := <-out:
		assert.GreaterOrEqual(t, sealed.URLListBytes(), podping.MaxURLListBytes)
	case <-time.After(time.Second):
		t.Fatal("batch was never sealed on byte budget")
	}
}

func TestBatcherSealsOnShutdownEvenUnderThreshold(t *testing.T) {
	in := make(chan string, 1)
	out := make(chan *podping.Batch, 1)
	b := New(in, out, haltqueue.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	in <- "https://example.com/only.xml"
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case sealed := <-out:
		assert.Equal(t, 1, sealed.Len())
	case <-time.After(time.Second):
		t.Fatal("shutdown did not flush the in-flight batch")
	}
	<-done
}

func TestBatcherHaltedPausesSealing(t *testing.T) {
	in := make(chan string, 1)
	out := make(chan *podping.Batch, 1)
	halt := haltqueue.New()
	halt.Set()

	orig := Window
	Window = 20 * time.Millisecond
	defer func() { Window = orig }()

	b := New(in, out, halt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	in <- "https://example.com/halted.xml"

	select {
	case <-out:
		t.Fatal("sealed a batch while HALT_THE_QUEUE was set")
	case <-time.After(Window * 3):
	}
}

func TestBatcherDedupesWithinBatch(t *testing.T) {
	in := make(chan string, 2)
	out := make(chan *podping.Batch, 1)
	b := New(in, out, haltqueue.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		in <- "https://example.com/a.xml"
		in <- "https://example.com/a.xml"
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	b.Run(ctx)
	sealed := <-out
	require.Equal(t, 1, sealed.Len())
}
