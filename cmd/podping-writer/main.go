// Command podping-writer runs the writer daemon: it accepts URLs over a
// line socket, a ZeroMQ request/reply socket, or a single-shot CLI
// invocation, batches them, and publishes them to Hive as podping
// custom_json operations.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/adminhttp"
	"github.com/podping-hive/podping-go/internal/allowlist"
	"github.com/podping-hive/podping-go/internal/batcher"
	"github.com/podping-hive/podping-go/internal/config"
	"github.com/podping-hive/podping-go/internal/haltqueue"
	"github.com/podping-hive/podping-go/internal/ingest"
	"github.com/podping-hive/podping-go/internal/logging"
	"github.com/podping-hive/podping-go/internal/nodepool"
	"github.com/podping-hive/podping-go/internal/podping"
	"github.com/podping-hive/podping-go/internal/prober"
	"github.com/podping-hive/podping-go/internal/publisher"
	"github.com/podping-hive/podping-go/internal/shutdown"
	"github.com/podping-hive/podping-go/internal/signer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "podping-writer:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWriter(os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Quiet, cfg.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	pool := nodepool.New(cfg.Nodes, nodepool.Config{Logger: log})
	sign, err := signer.NewHiveSigner(pool, cfg.UseTestNode)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	halt := haltqueue.New()

	if cfg.Mode == config.IngestSingleURL {
		return runSingleShot(cfg, pool, sign, halt, log)
	}

	allow := allowlist.New(pool, cfg.ControlAccount, nil, log)

	probeResult, err := prober.Run(context.Background(), pool, sign, allow, prober.Config{
		ServerAccount: cfg.ServerAccount,
		PostingKey:    cfg.PostingKey,
		UseTestNode:   cfg.UseTestNode,
		IgnoreErrors:  cfg.IgnoreErrors,
	}, log)
	if err != nil {
		return fmt.Errorf("startup probe: %w", err)
	}
	log.Info("startup probe passed", zap.Int64("estimated_capacity", probeResult.Capacity))

	coord := shutdown.New(log)
	ctx := coord.Context()

	admin := adminhttp.New(fmt.Sprintf(":%d", cfg.AdminPort), pool, log)
	admin.SetReady(true)
	coord.Go(func() { admin.Run(ctx) })

	urls := make(chan string, 256)
	batches := make(chan *podping.Batch, 4)

	b := batcher.New(urls, batches, halt, log)
	coord.Go(func() { b.Run(ctx) })

	pub := publisher.New(pool, sign, halt, publisher.Config{
		ServerAccount:     cfg.ServerAccount,
		PostingKey:        cfg.PostingKey,
		ErrorInjectionPct: cfg.ErrorInjectionPct,
	}, log)
	coord.Go(func() {
		if err := pub.Run(ctx, batches); err != nil {
			log.Error("publisher stopped", zap.Error(err))
			coord.Cancel()
		}
	})

	switch cfg.Mode {
	case config.IngestLineSocket:
		sock := ingest.NewLineSocket(cfg.LineSocket, urls, log)
		coord.Go(func() {
			if err := sock.Run(ctx); err != nil {
				log.Error("line socket stopped", zap.Error(err))
				coord.Cancel()
			}
		})
	case config.IngestReqRep:
		sock := ingest.NewReqRepSocket(cfg.ReqRepSocket, urls, log)
		coord.Go(func() {
			if err := sock.Run(ctx); err != nil {
				log.Error("reqrep socket stopped", zap.Error(err))
				coord.Cancel()
			}
		})
	}

	coord.Wait(30 * time.Second)
	return nil
}

// runSingleShot publishes exactly one URL and exits, bypassing the batch
// window entirely (spec §6: --url <s>; exit 0 on success).
func runSingleShot(cfg config.Writer, pool *nodepool.Pool, sign signer.Signer, halt *haltqueue.Flag, log *zap.Logger) error {
	pub := publisher.New(pool, sign, halt, publisher.Config{
		ServerAccount: cfg.ServerAccount,
		PostingKey:    cfg.PostingKey,
	}, log)

	batch := podping.NewBatch()
	batch.Add(cfg.SingleURL)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	trxID, err := pub.Publish(ctx, batch)
	if err != nil {
		return fmt.Errorf("publish %q: %w", cfg.SingleURL, err)
	}
	log.Info("published single url", zap.String("url", cfg.SingleURL), zap.String("trx_id", trxID))
	return nil
}
