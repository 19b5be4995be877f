package nodepool

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/podping-hive/podping-go/internal/circuitbreaker"
	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/podping"
)

// fibonacciSeconds is the node pool's bounded retry ladder: the first
// three fibonacci terms, in seconds.
var fibonacciSeconds = []int{1, 1, 2}

// fibonacciBackOff implements backoff.BackOff over fibonacciSeconds,
// letting the pool reuse cenkalti/backoff's retry driver instead of a
// hand-rolled sleep loop.
type fibonacciBackOff struct {
	attempt int
}

func (f *fibonacciBackOff) NextBackOff() time.Duration {
	i := f.attempt
	if i >= len(fibonacciSeconds) {
		i = len(fibonacciSeconds) - 1
	}
	f.attempt++
	return time.Duration(fibonacciSeconds[i]) * time.Second
}

func (f *fibonacciBackOff) Reset() { f.attempt = 0 }

// endpoint pairs an RPC transport with the circuit breaker guarding it.
type endpoint struct {
	url     string
	client  *rpcClient
	breaker *circuitbreaker.Manager
}

// Config controls pool-wide timeouts and circuit breaker tunables.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxFailures    int
	ResetTimeout   time.Duration
	Logger         *zap.Logger
}

// Pool is a round-robin ring of Hive RPC endpoints. It is safe for
// concurrent use.
type Pool struct {
	endpoints []*endpoint
	next      uint64
	logger    *zap.Logger
}

// New builds a Pool over the given node URLs. readTimeout is narrowed by
// callers during the startup probe (spec: 3s read during probe).
func New(urls []string, cfg Config) *Pool {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	p := &Pool{logger: cfg.Logger}
	for _, u := range urls {
		p.endpoints = append(p.endpoints, &endpoint{
			url:    u,
			client: newRPCClient(u, cfg.ConnectTimeout, cfg.ReadTimeout),
			breaker: circuitbreaker.NewManager(circuitbreaker.ManagerConfig{
				Name:         u,
				MaxFailures:  cfg.MaxFailures,
				ResetTimeout: cfg.ResetTimeout,
				Logger:       cfg.Logger,
			}),
		})
	}
	return p
}

// EndpointHealth is one endpoint's liveness snapshot, exported for the
// admin HTTP surface.
type EndpointHealth struct {
	podping.NodeEndpoint
	State string
}

// Health reports a snapshot of every endpoint's circuit breaker state,
// in ring order.
func (p *Pool) Health() []EndpointHealth {
	out := make([]EndpointHealth, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointHealth{
			NodeEndpoint: podping.NodeEndpoint{
				URL:                 ep.url,
				ConsecutiveFailures: ep.breaker.Failures(),
				CooldownUntil:       ep.breaker.CooldownUntil(),
			},
			State: ep.breaker.State().String(),
		})
	}
	return out
}

// call rotates through the ring starting at the next endpoint, skipping
// any whose breaker is open, retrying retryable failures with fibonacci
// backoff bounded to 3 attempts within this single call.
func (p *Pool) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if len(p.endpoints) == 0 {
		return ErrPoolExhausted
	}

	var lastErr error
	tried := 0

	operation := func() error {
		ep, ok := p.pick()
		if !ok {
			return backoff.Permanent(ErrPoolExhausted)
		}
		tried++

		start := time.Now()
		err := ep.breaker.Execute(func() error {
			return ep.client.call(ctx, method, params, out)
		})
		metrics.NodeRequestDuration.WithLabelValues(ep.url, method).Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}

		lastErr = err
		if p.logger != nil {
			p.logger.Warn("nodepool: rpc call failed",
				zap.String("endpoint", ep.url), zap.String("method", method), zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&fibonacciBackOff{}, 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			return ErrPoolExhausted
		}
		if tried == 0 {
			metrics.NodePoolExhausted.Inc()
			return ErrPoolExhausted
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("nodepool: exhausted retries: %w", lastErr)
	}
	return nil
}

// pick returns the next endpoint in ring order whose breaker currently
// allows a request, or false if every breaker is open.
func (p *Pool) pick() (*endpoint, bool) {
	n := len(p.endpoints)
	start := int(atomic.AddUint64(&p.next, 1)-1) % n
	for i := 0; i < n; i++ {
		ep := p.endpoints[(start+i)%n]
		if ep.breaker.AllowRequest() {
			return ep, true
		}
	}
	metrics.NodePoolExhausted.Inc()
	return nil, false
}

type wireDGP struct {
	HeadBlockNumber int64  `json:"head_block_number"`
	HeadBlockID     string `json:"head_block_id"`
	Time            string `json:"time"`
}

// HeadBlockNumber returns the current chain head.
func (p *Pool) HeadBlockNumber(ctx context.Context) (int64, error) {
	num, _, err := p.HeadBlockInfo(ctx)
	return num, err
}

// HeadBlockInfo returns the head block number and its wall-clock time,
// used by the watcher cursor's history-mode start-block estimator.
func (p *Pool) HeadBlockInfo(ctx context.Context) (int64, time.Time, error) {
	dgp, err := p.dynamicGlobalProperties(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	return dgp.HeadBlockNumber, dgp.Time, nil
}

// TransactionHeader is the subset of chain state a signer needs to fill
// in a transaction's ref_block_num/ref_block_prefix fields.
type TransactionHeader struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
}

// TransactionHeader returns the header fields derived from the current
// head block, per the Graphene TaPoS (transaction-as-proof-of-stake)
// convention shared by Hive and its sibling chains.
func (p *Pool) TransactionHeader(ctx context.Context) (TransactionHeader, error) {
	dgp, err := p.dynamicGlobalProperties(ctx)
	if err != nil {
		return TransactionHeader{}, err
	}
	idBytes, err := hex.DecodeString(dgp.HeadBlockID)
	if err != nil || len(idBytes) < 8 {
		return TransactionHeader{}, fmt.Errorf("nodepool: malformed head_block_id %q", dgp.HeadBlockID)
	}
	return TransactionHeader{
		RefBlockNum:    uint16(dgp.HeadBlockNumber & 0xFFFF),
		RefBlockPrefix: binary.LittleEndian.Uint32(idBytes[4:8]),
	}, nil
}

func (p *Pool) dynamicGlobalProperties(ctx context.Context) (DynamicGlobalProperties, error) {
	var wire wireDGP
	if err := p.call(ctx, "condenser_api.get_dynamic_global_properties", nil, &wire); err != nil {
		return DynamicGlobalProperties{}, err
	}
	t, err := time.Parse("2006-01-02T15:04:05", wire.Time)
	if err != nil {
		t = time.Now().UTC()
	}
	return DynamicGlobalProperties{HeadBlockNumber: wire.HeadBlockNumber, HeadBlockID: wire.HeadBlockID, Time: t}, nil
}

type wireOperation [2]json.RawMessage

type wireTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Operations    []wireOperation `json:"operations"`
}

type wireBlock struct {
	Timestamp    string            `json:"timestamp"`
	Transactions []wireTransaction `json:"transactions"`
}

type wireCustomJSONBody struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// GetBlock fetches a single block and flattens its custom_json operations
// in (transaction_index, op_index) order.
func (p *Pool) GetBlock(ctx context.Context, n int64) (Block, []Operation, error) {
	var wb wireBlock
	if err := p.call(ctx, "condenser_api.get_block", []interface{}{n}, &wb); err != nil {
		return Block{}, nil, err
	}

	ts, err := time.Parse("2006-01-02T15:04:05", wb.Timestamp)
	if err != nil {
		ts = time.Time{}
	}
	blk := Block{Number: n, Timestamp: ts}

	var ops []Operation
	for txIdx, tx := range wb.Transactions {
		for opIdx, op := range tx.Operations {
			var opType string
			if err := json.Unmarshal(op[0], &opType); err != nil {
				continue
			}
			if opType != "custom_json" {
				continue
			}
			var body wireCustomJSONBody
			if err := json.Unmarshal(op[1], &body); err != nil {
				continue
			}
			auths := body.RequiredPostingAuths
			if len(auths) == 0 {
				auths = body.RequiredAuths
			}
			ops = append(ops, Operation{
				BlockNum:             n,
				TrxID:                tx.TransactionID,
				TxIndex:              txIdx,
				OpIndex:              opIdx,
				Timestamp:            ts,
				Type:                 opType,
				ID:                   body.ID,
				JSON:                 body.JSON,
				RequiredPostingAuths: auths,
			})
		}
	}
	return blk, ops, nil
}

// BlockOps is one block's extracted custom_json operations, returned by
// GetOpsInBlockBatch in ascending block order.
type BlockOps struct {
	Block Block
	Ops   []Operation
}

// GetOpsInBlockBatch fetches a set of blocks concurrently (pipelined,
// bounded concurrency) and returns them sorted by block number.
func (p *Pool) GetOpsInBlockBatch(ctx context.Context, nums []int64) ([]BlockOps, error) {
	results := make([]BlockOps, len(nums))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, n := range nums {
		i, n := i, n
		g.Go(func() error {
			blk, ops, err := p.GetBlock(gctx, n)
			if err != nil {
				return fmt.Errorf("nodepool: block %d: %w", n, err)
			}
			mu.Lock()
			results[i] = BlockOps{Block: blk, Ops: ops}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Block.Number < results[j].Block.Number })
	return results, nil
}

type wireManabar struct {
	CurrentMana    string `json:"current_mana"`
	LastUpdateTime int64  `json:"last_update_time"`
}

type wireAccount struct {
	Name          string      `json:"name"`
	VotingManabar wireManabar `json:"voting_manabar"`
}

// GetAccount fetches account state used by the startup prober's
// resource-credit sampling and existence check.
func (p *Pool) GetAccount(ctx context.Context, name string) (Account, error) {
	var accounts []wireAccount
	if err := p.call(ctx, "condenser_api.get_accounts", []interface{}{[]string{name}}, &accounts); err != nil {
		return Account{}, err
	}
	if len(accounts) == 0 {
		return Account{Name: name, Exists: false}, nil
	}
	var mana int64
	fmt.Sscanf(accounts[0].VotingManabar.CurrentMana, "%d", &mana)
	return Account{
		Name:           accounts[0].Name,
		Exists:         true,
		VotingManabar:  mana,
		LastUpdateTime: time.Unix(accounts[0].VotingManabar.LastUpdateTime, 0).UTC(),
	}, nil
}

// GetFollowList resolves the accounts a control account follows, used by
// the allow-list provider.
func (p *Pool) GetFollowList(ctx context.Context, controlAccount string) ([]string, error) {
	var raw []struct {
		Following string `json:"following"`
	}
	if err := p.call(ctx, "bridge_api.get_follow_list", []interface{}{controlAccount, "blog"}, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.Following)
	}
	return out, nil
}

type wireBroadcastResult struct {
	ID string `json:"id"`
}

// BroadcastTransaction submits a signed transaction and returns its
// trx_id. A failed broadcast is classified by classifyBroadcastError, so
// the returned error wraps ErrMissingKey, ErrAccountDoesNotExist or
// ErrUnhandledRPC.
func (p *Pool) BroadcastTransaction(ctx context.Context, signedTxJSON json.RawMessage) (string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(signedTxJSON, &raw); err != nil {
		return "", fmt.Errorf("nodepool: invalid signed transaction: %w", err)
	}

	var result wireBroadcastResult
	if err := p.call(ctx, "condenser_api.broadcast_transaction_synchronous", []interface{}{raw}, &result); err != nil {
		return "", classifyBroadcastError(err)
	}
	return result.ID, nil
}

// classifyBroadcastError recognizes the two fatal broadcast failures the
// publisher must not retry: a missing/invalid key and a nonexistent
// signer account. Anything else is treated as retryable.
func classifyBroadcastError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missing posting authority") || strings.Contains(msg, "wif"):
		return fmt.Errorf("%w: %v", ErrMissingKey, err)
	case strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", ErrAccountDoesNotExist, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnhandledRPC, err)
	}
}
