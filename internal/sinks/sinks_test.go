package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podping-hive/podping-go/internal/podping"
)

type bufPrinter struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *bufPrinter) Printf(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(&b.buf, format, args...)
}

func (b *bufPrinter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdoutSinkURLsMode(t *testing.T) {
	p := &bufPrinter{}
	s := NewStdoutSink(StdoutURLs, p)

	in := make(chan podping.OperationRecord, 1)
	in <- podping.OperationRecord{URLs: []string{"https://a.example/feed.xml"}}
	close(in)

	require.NoError(t, s.Run(context.Background(), in))
	assert.Equal(t, "https://a.example/feed.xml\n", p.String())
}

func TestStdoutSinkDefaultModeIncludesMetadata(t *testing.T) {
	p := &bufPrinter{}
	s := NewStdoutSink(StdoutDefault, p)

	in := make(chan podping.OperationRecord, 1)
	in <- podping.OperationRecord{URLs: []string{"https://a.example"}, BlockNum: 7, TrxID: "trx1", MediumReason: "podcast update"}
	close(in)

	require.NoError(t, s.Run(context.Background(), in))
	out := p.String()
	assert.Contains(t, out, "https://a.example")
	assert.Contains(t, out, "block=7")
	assert.Contains(t, out, "trx1")
}

func TestStdoutSinkJSONMode(t *testing.T) {
	p := &bufPrinter{}
	s := NewStdoutSink(StdoutJSON, p)

	in := make(chan podping.OperationRecord, 1)
	in <- podping.OperationRecord{URLs: []string{"https://a.example"}}
	close(in)

	require.NoError(t, s.Run(context.Background(), in))
	assert.Contains(t, p.String(), `"URLs":["https://a.example"]`)
}

func TestTeeFansOutToAllSinks(t *testing.T) {
	in := make(chan podping.OperationRecord, 1)
	outs := Tee(in, 2)

	in <- podping.OperationRecord{URLs: []string{"https://a.example"}}
	close(in)

	for _, o := range outs {
		select {
		case rec := <-o:
			assert.Equal(t, []string{"https://a.example"}, rec.URLs)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tee output")
		}
	}
}

func TestStatusReporterDrainsInputWithoutInterval(t *testing.T) {
	r := NewStatusReporter(0, nil)
	in := make(chan podping.OperationRecord, 1)
	in <- podping.OperationRecord{URLs: []string{"https://a.example"}}
	close(in)

	require.NoError(t, r.Run(context.Background(), in))
}
