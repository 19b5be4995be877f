// Package ingest implements the writer's two socket intake paths: a plain
// TCP line socket and a ZeroMQ request/reply socket. Both push URLs onto
// the same channel the batcher reads from. The single-shot CLI publish is
// handled by cmd/podping-writer directly and does not go through here.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxLineBytes bounds a single line-socket submission.
const MaxLineBytes = 1024

// LineSocket accepts one URL per TCP connection: read a line, push it
// onto out, reply OK or ERR, close the connection.
type LineSocket struct {
	port int
	out  chan<- string
	log  *zap.Logger
}

// NewLineSocket builds a line-socket ingress bound to port.
func NewLineSocket(port int, out chan<- string, log *zap.Logger) *LineSocket {
	return &LineSocket{port: port, out: out, log: log}
}

// Run listens until ctx is cancelled.
func (s *LineSocket) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("ingest: line socket listen: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	if s.log != nil {
		s.log.Info("ingest: line socket listening", zap.Int("port", s.port))
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if s.log != nil {
				s.log.Warn("ingest: line socket accept failed", zap.Error(err))
			}
			continue
		}
		go s.handle(conn)
	}
}

func (s *LineSocket) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReaderSize(conn, MaxLineBytes+1)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		s.reply(conn, "ERR: "+err.Error())
		return
	}

	url := strings.TrimRight(line, "\r\n")
	url = strings.TrimSpace(url)

	switch {
	case url == "":
		s.reply(conn, "ERR: empty url")
	case len(url) > MaxLineBytes:
		s.reply(conn, "ERR: url exceeds 1024 bytes")
	case !utf8.ValidString(url):
		s.reply(conn, "ERR: invalid utf-8")
	default:
		select {
		case s.out <- url:
			s.reply(conn, "OK")
		case <-time.After(2 * time.Second):
			s.reply(conn, "ERR: queue full")
		}
	}
}

func (s *LineSocket) reply(conn net.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.Write([]byte(msg + "\n"))
}
