// Command podping-watcher tails the Hive chain for podping custom_json
// operations, normalizes the URLs they carry, and emits them to stdout
// and/or forwards them to a downstream writer.
package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/adminhttp"
	"github.com/podping-hive/podping-go/internal/allowlist"
	"github.com/podping-hive/podping-go/internal/config"
	"github.com/podping-hive/podping-go/internal/cursor"
	"github.com/podping-hive/podping-go/internal/filter"
	"github.com/podping-hive/podping-go/internal/logging"
	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/nodepool"
	"github.com/podping-hive/podping-go/internal/podping"
	"github.com/podping-hive/podping-go/internal/shutdown"
	"github.com/podping-hive/podping-go/internal/sinks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "podping-watcher:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWatcher(os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Quiet, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	pool := nodepool.New(cfg.Nodes, nodepool.Config{Logger: log})

	var cache allowlist.DiskCache
	if c, err := allowlist.NewSQLiteCache(diskCachePath()); err == nil {
		cache = c
	} else {
		log.Warn("watcher: disk allow-list cache unavailable, continuing without it", zap.Error(err))
	}
	allow := allowlist.New(pool, cfg.ControlAccount, cache, log)

	f := filter.New(filter.Options{
		LiveTest:         cfg.LiveTest,
		Diagnostic:       cfg.Diagnostic,
		JSONMode:         cfg.JSON,
		EnforceAllowList: cfg.EnforceAllowList,
		AllowList:        allow,
	})

	coord := shutdown.New(log)
	ctx := coord.Context()

	admin := adminhttp.New(fmt.Sprintf(":%d", cfg.AdminPort), pool, log)
	admin.SetReady(true)
	coord.Go(func() { admin.Run(ctx) })

	var stopAt *time.Time
	if cfg.StopAfter > 0 {
		t := time.Now().Add(time.Duration(cfg.StopAfter * float64(time.Hour)))
		stopAt = &t
	}

	cur := cursor.New(pool, cfg.HistoryOnly, stopAt, log)
	startBlock, err := cur.ResolveStart(ctx, cursor.StartSelector{
		Block:     cfg.Block,
		Epoch:     cfg.Epoch,
		StartDate: cfg.StartDate,
		OldHours:  cfg.OldHours,
	})
	if err != nil {
		return fmt.Errorf("resolve start block: %w", err)
	}

	ops := make(chan nodepool.Operation, 256)
	coord.Go(func() {
		defer close(ops)
		if err := cur.Run(ctx, startBlock, ops); err != nil {
			log.Error("cursor stopped", zap.Error(err))
			coord.Cancel()
		}
	})

	records := make(chan podping.OperationRecord, 256)
	coord.Go(func() {
		defer close(records)
		for {
			select {
			case <-ctx.Done():
				return
			case op, ok := <-ops:
				if !ok {
					return
				}
				recs, matched := f.Process(op)
				if matched {
					metrics.OperationsFiltered.Inc()
				}
				for _, rec := range recs {
					select {
					case records <- rec:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	})

	activeSinks := buildSinks(cfg, log)
	outs := sinks.Tee(records, len(activeSinks))
	var sinksDone sync.WaitGroup
	for i, s := range activeSinks {
		s, out := s, outs[i]
		sinksDone.Add(1)
		coord.Go(func() {
			defer sinksDone.Done()
			s.Run(ctx, out)
		})
	}
	// Once the cursor has stopped and every sink has drained, stop the
	// admin server too so the process exits.
	coord.Go(func() {
		sinksDone.Wait()
		coord.Cancel()
	})

	coord.Wait(30 * time.Second)
	return nil
}

func buildSinks(cfg config.Watcher, log *zap.Logger) []sinks.Sink {
	var out []sinks.Sink

	mode := sinks.StdoutDefault
	switch {
	case cfg.JSON:
		mode = sinks.StdoutJSON
	case cfg.URLsOnly:
		mode = sinks.StdoutURLs
	}
	out = append(out, sinks.NewStdoutSink(mode, stdoutPrinter{}))

	if cfg.ForwardLineAddr != "" {
		out = append(out, sinks.NewForwardLine(cfg.ForwardLineAddr, log))
	}
	if cfg.ForwardReqRepAddr != "" {
		out = append(out, sinks.NewForwardReqRep(cfg.ForwardReqRepAddr, log))
	}
	if cfg.ReportMinutes > 0 {
		out = append(out, sinks.NewStatusReporter(time.Duration(cfg.ReportMinutes)*time.Minute, log))
	}
	return out
}

type stdoutPrinter struct{}

func (stdoutPrinter) Printf(format string, args ...interface{}) { fmt.Printf(format, args...) }

func diskCachePath() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return filepath.Join(u.HomeDir, ".podping-watcher-allowlist.db")
	}
	return "podping-watcher-allowlist.db"
}
