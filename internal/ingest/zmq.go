//go:build !nozmq
// +build !nozmq

package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

// ReqRepSocket accepts URLs over a ZeroMQ REP socket: each request must
// be answered with exactly one reply before the next request is read.
type ReqRepSocket struct {
	port int
	out  chan<- string
	log  *zap.Logger
}

// NewReqRepSocket builds a REP-socket ingress bound to port.
func NewReqRepSocket(port int, out chan<- string, log *zap.Logger) *ReqRepSocket {
	return &ReqRepSocket{port: port, out: out, log: log}
}

// Run binds the socket and serves requests until ctx is cancelled.
func (s *ReqRepSocket) Run(ctx context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.REP)
	if err != nil {
		return fmt.Errorf("ingest: create REP socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetRcvtimeo(500 * time.Millisecond); err != nil {
		return fmt.Errorf("ingest: set recv timeout: %w", err)
	}
	if err := sock.Bind("tcp://*:" + strconv.Itoa(s.port)); err != nil {
		return fmt.Errorf("ingest: bind REP socket: %w", err)
	}

	if s.log != nil {
		s.log.Info("ingest: reqrep socket listening", zap.Int("port", s.port))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := sock.Recv(0)
		if err != nil {
			// SetRcvtimeo above causes periodic EAGAIN so we can observe ctx.
			continue
		}

		url := strings.TrimSpace(msg)
		reply := "OK"
		switch {
		case url == "":
			reply = "ERR: empty url"
		case len(url) > MaxLineBytes:
			reply = "ERR: url exceeds 1024 bytes"
		default:
			select {
			case s.out <- url:
			case <-time.After(2 * time.Second):
				reply = "ERR: queue full"
			}
		}

		if _, err := sock.Send(reply, 0); err != nil && s.log != nil {
			s.log.Warn("ingest: reqrep reply failed", zap.Error(err))
		}
	}
}
