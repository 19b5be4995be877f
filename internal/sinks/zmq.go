//go:build !nozmq
// +build !nozmq

package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/podping"
)

// ForwardReqRep forwards each URL to a downstream writer's REP socket
// over a single long-lived REQ connection, blocking for the ack before
// sending the next request (REQ/REP is strictly alternating).
type ForwardReqRep struct {
	endpoint string
	log      *zap.Logger
}

// NewForwardReqRep builds a REQ-socket forwarding sink.
func NewForwardReqRep(endpoint string, log *zap.Logger) *ForwardReqRep {
	return &ForwardReqRep{endpoint: endpoint, log: log}
}

// Run connects once and forwards until in closes or ctx is cancelled.
func (f *ForwardReqRep) Run(ctx context.Context, in <-chan podping.OperationRecord) error {
	sock, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("sinks: create REQ socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetSndtimeo(5 * time.Second); err != nil {
		return fmt.Errorf("sinks: set send timeout: %w", err)
	}
	if err := sock.SetRcvtimeo(5 * time.Second); err != nil {
		return fmt.Errorf("sinks: set recv timeout: %w", err)
	}
	if err := sock.Connect(f.endpoint); err != nil {
		return fmt.Errorf("sinks: connect REQ socket to %s: %w", f.endpoint, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			for _, u := range rec.URLs {
				if err := f.send(sock, u); err != nil {
					metrics.SinkErrors.WithLabelValues("forward-reqrep").Inc()
					if f.log != nil {
						f.log.Warn("sinks: forward-reqrep failed", zap.String("url", u), zap.Error(err))
					}
				}
			}
		}
	}
}

func (f *ForwardReqRep) send(sock *zmq4.Socket, url string) error {
	if _, err := sock.Send(url, 0); err != nil {
		return err
	}
	_, err := sock.Recv(0)
	return err
}
