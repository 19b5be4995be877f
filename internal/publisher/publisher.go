// Package publisher serializes sealed batches into podping envelopes,
// signs and broadcasts them through the node pool, and applies the
// bounded retry ladder with backoff described in spec.md §4.5.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/haltqueue"
	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/nodepool"
	"github.com/podping-hive/podping-go/internal/podping"
	"github.com/podping-hive/podping-go/internal/signer"
)

// haltTime is the flat, non-recursive retry ladder indexed by consecutive
// failure count: sleep this many seconds, then retry the whole batch.
var haltTime = []int{0, 1, 1, 1, 1, 1, 1, 1, 3, 6, 9, 15, 15, 15, 15, 15, 15, 15}

// ErrFatal signals the publisher hit an unrecoverable condition (missing
// key, unauthorized account at startup, or the retry ladder exhausted)
// and the process should terminate.
var ErrFatal = errors.New("publisher: fatal")

// Config holds the publisher's credentials and fault-injection knob.
type Config struct {
	ServerAccount     string
	PostingKey        string
	OperationID       string // OperationID, OperationIDLiveTest, or OperationIDStartup
	ErrorInjectionPct int    // only applied when OperationID == podping.OperationID
}

// Broadcaster is the subset of *nodepool.Pool the publisher needs;
// narrowed to an interface so tests can substitute a fake chain.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, signedTxJSON json.RawMessage) (string, error)
}

// Publisher is the sole owner of the hive queue and the exclusive user
// of the signing client once the startup prober has finished.
type Publisher struct {
	pool   Broadcaster
	signer signer.Signer
	halt   *haltqueue.Flag
	cfg    Config
	log    *zap.Logger
}

// New builds a Publisher.
func New(pool Broadcaster, s signer.Signer, halt *haltqueue.Flag, cfg Config, log *zap.Logger) *Publisher {
	return &Publisher{pool: pool, signer: s, halt: halt, cfg: cfg, log: log}
}

// Run consumes sealed batches from in until the channel closes or ctx is
// cancelled, publishing each one serially (spec invariant: exactly one
// batch publish in flight at a time).
func (p *Publisher) Run(ctx context.Context, in <-chan *podping.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			if batch.Empty() {
				continue
			}
			if _, err := p.Publish(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// Publish serializes, signs, and broadcasts batch, retrying per the
// HALT_TIME ladder until it succeeds, a fatal error is hit, or the
// ladder is exhausted (18 consecutive failures), which is itself fatal.
func (p *Publisher) Publish(ctx context.Context, batch *podping.Batch) (string, error) {
	env := podping.NewEnvelope(batch, podping.ReasonFeedUpdate)
	payload, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: marshal envelope: %v", ErrFatal, err)
	}
	if len(payload) >= podping.MaxCustomJSONBytes {
		return "", fmt.Errorf("%w: envelope %d bytes exceeds chain limit", ErrFatal, len(payload))
	}

	op := podping.CustomJSONOp{
		ID:                   p.operationID(),
		RequiredPostingAuths: []string{p.cfg.ServerAccount},
		JSON:                 payload,
	}

	for failures := 0; failures < len(haltTime); failures++ {
		if failures > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(haltTime[failures]) * time.Second):
			}
		}

		if err := p.injectFault(); err != nil {
			metrics.PublishRetries.Inc()
			p.logRetry(failures, err)
			continue
		}

		signedTx, err := p.signer.Sign(ctx, p.cfg.ServerAccount, p.cfg.PostingKey, op)
		if err != nil {
			if errors.Is(err, nodepool.ErrMissingKey) {
				metrics.PublishFatal.Inc()
				return "", fmt.Errorf("%w: %v", ErrFatal, err)
			}
			metrics.PublishRetries.Inc()
			p.logRetry(failures, err)
			continue
		}

		trxID, err := p.broadcast(ctx, signedTx)
		if err == nil {
			p.onSuccess(batch, env, payload, trxID)
			return trxID, nil
		}

		switch {
		case errors.Is(err, nodepool.ErrMissingKey), errors.Is(err, nodepool.ErrAccountDoesNotExist):
			metrics.PublishFatal.Inc()
			return "", fmt.Errorf("%w: %v", ErrFatal, err)
		case errors.Is(err, nodepool.ErrUnhandledRPC):
			if p.halt != nil {
				p.halt.Set()
			}
			metrics.PublishRetries.Inc()
			p.logRetry(failures, err)
		default:
			metrics.PublishRetries.Inc()
			p.logRetry(failures, err)
		}
	}

	metrics.PublishFatal.Inc()
	return "", fmt.Errorf("%w: retry ladder exhausted after %d attempts", ErrFatal, len(haltTime))
}

func (p *Publisher) broadcast(ctx context.Context, signedTx json.RawMessage) (string, error) {
	trxID, err := p.pool.BroadcastTransaction(ctx, signedTx)
	if err != nil {
		return "", err
	}
	if p.halt != nil {
		p.halt.Clear()
	}
	return trxID, nil
}

func (p *Publisher) operationID() string {
	if p.cfg.OperationID != "" {
		return p.cfg.OperationID
	}
	return podping.OperationID
}

// injectFault draws a uniform 1..100 and synthesizes a retryable error if
// it falls at or below the configured percentage. Only active for the
// production operation id, per spec §4.5.
func (p *Publisher) injectFault() error {
	if p.cfg.ErrorInjectionPct <= 0 || p.operationID() != podping.OperationID {
		return nil
	}
	if rand.Intn(100)+1 <= p.cfg.ErrorInjectionPct {
		return fmt.Errorf("%w: injected fault", nodepool.ErrUnhandledRPC)
	}
	return nil
}

func (p *Publisher) onSuccess(batch *podping.Batch, env podping.PodpingEnvelope, payload []byte, trxID string) {
	metrics.BatchesPublished.Inc()
	metrics.BatchURLsPublished.Add(float64(batch.Len()))
	metrics.BatchPayloadBytes.Observe(float64(len(payload)))
	if p.log != nil {
		p.log.Info("published podping batch",
			zap.String("trx_id", trxID),
			zap.Int("num_urls", env.NumURLs),
			zap.Int("url_bytes", batch.URLListBytes()),
			zap.Int("envelope_bytes", len(payload)),
		)
	}
}

func (p *Publisher) logRetry(failures int, err error) {
	if p.log == nil {
		return
	}
	p.log.Warn("podping publish failed, will retry",
		zap.Int("failure_count", failures),
		zap.Int("sleep_seconds", haltTime[min(failures+1, len(haltTime)-1)]),
		zap.Error(err),
	)
}
