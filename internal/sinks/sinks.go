// Package sinks delivers the watcher's normalized OperationRecords to
// stdout (in one of three formats), or forwards each URL on to a
// downstream writer over a line or request/reply socket. A status-report
// ticker periodically logs throughput when configured.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/podping"
)

// Sink consumes OperationRecords until in closes or ctx is cancelled.
type Sink interface {
	Run(ctx context.Context, in <-chan podping.OperationRecord) error
}

// Tee fans one input channel out to one channel per active sink, so
// every configured sink sees every record. Each output channel is closed
// when in closes.
func Tee(in <-chan podping.OperationRecord, n int) []chan podping.OperationRecord {
	outs := make([]chan podping.OperationRecord, n)
	for i := range outs {
		outs[i] = make(chan podping.OperationRecord, 64)
	}
	go func() {
		defer func() {
			for _, o := range outs {
				close(o)
			}
		}()
		for rec := range in {
			for _, o := range outs {
				o <- rec
			}
		}
	}()
	return outs
}

// StdoutMode selects the stdout sink's rendering.
type StdoutMode int

const (
	// StdoutDefault prints one human-readable line per URL.
	StdoutDefault StdoutMode = iota
	// StdoutURLs prints just the bare URL, one per line.
	StdoutURLs
	// StdoutJSON prints the full OperationRecord as a JSON object per line.
	StdoutJSON
)

// Printer is the subset of an io.Writer the stdout sink needs; narrowed
// so tests can capture output without a real file descriptor.
type Printer interface {
	Printf(format string, args ...interface{})
}

// StdoutSink writes every record to a Printer in the configured mode.
type StdoutSink struct {
	mode    StdoutMode
	printer Printer
}

// NewStdoutSink builds a stdout sink.
func NewStdoutSink(mode StdoutMode, printer Printer) *StdoutSink {
	return &StdoutSink{mode: mode, printer: printer}
}

// Run prints each record as it arrives.
func (s *StdoutSink) Run(ctx context.Context, in <-chan podping.OperationRecord) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			s.emit(rec)
		}
	}
}

func (s *StdoutSink) emit(rec podping.OperationRecord) {
	switch s.mode {
	case StdoutURLs:
		for _, u := range rec.URLs {
			s.printer.Printf("%s\n", u)
		}
	case StdoutJSON:
		body, err := json.Marshal(rec)
		if err != nil {
			metrics.SinkErrors.WithLabelValues("stdout-json").Inc()
			return
		}
		s.printer.Printf("%s\n", body)
	default:
		for _, u := range rec.URLs {
			s.printer.Printf("%s block=%d trx=%s reason=%q\n", u, rec.BlockNum, rec.TrxID, rec.MediumReason)
		}
	}
	metrics.URLsEmitted.Add(float64(len(rec.URLs)))
}

// StatusReporter logs aggregate throughput every interval, independent of
// which other sinks are active.
type StatusReporter struct {
	interval time.Duration
	log      *zap.Logger

	count int64
	since time.Time
}

// NewStatusReporter builds a reporter; interval <= 0 disables reporting
// (Run then only drains in until it closes or ctx is cancelled).
func NewStatusReporter(interval time.Duration, log *zap.Logger) *StatusReporter {
	return &StatusReporter{interval: interval, log: log, since: time.Now()}
}

// Run receives records from in, counts their URLs, and logs a summary on
// each tick. It consumes the channel, so callers give it its own Tee
// output.
func (r *StatusReporter) Run(ctx context.Context, in <-chan podping.OperationRecord) error {
	if r.interval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-in:
				if !ok {
					return nil
				}
			}
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			r.count += int64(len(rec.URLs))
		case <-ticker.C:
			if r.log != nil {
				r.log.Info("watcher status report",
					zap.Int64("urls_seen", r.count),
					zap.Duration("since", time.Since(r.since)),
				)
			}
		}
	}
}

// ForwardLine forwards each record's URLs to a downstream writer's line
// socket, one connection per URL, matching the writer's own LineSocket
// protocol.
type ForwardLine struct {
	addr string
	log  *zap.Logger
}

// NewForwardLine builds a line-socket forwarding sink.
func NewForwardLine(addr string, log *zap.Logger) *ForwardLine {
	return &ForwardLine{addr: addr, log: log}
}

// Run forwards until in closes or ctx is cancelled.
func (f *ForwardLine) Run(ctx context.Context, in <-chan podping.OperationRecord) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			for _, u := range rec.URLs {
				if err := f.send(ctx, u); err != nil {
					metrics.SinkErrors.WithLabelValues("forward-line").Inc()
					if f.log != nil {
						f.log.Warn("sinks: forward-line send failed", zap.String("url", u), zap.Error(err))
					}
				}
			}
		}
	}
}

func (f *ForwardLine) send(ctx context.Context, url string) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", f.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(url + "\n")); err != nil {
		return err
	}
	buf := make([]byte, 256)
	_, err = conn.Read(buf)
	return err
}
