// Package cursor implements the watcher's block-tailing state machine: a
// history mode that replays a bounded historical range in pipelined
// batches, and a live mode that polls the chain head at block-interval
// cadence. Both modes emit custom_json operations in strict
// (block_num, tx_index, op_index) order.
package cursor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/podping-hive/podping-go/internal/config"
	"github.com/podping-hive/podping-go/internal/metrics"
	"github.com/podping-hive/podping-go/internal/nodepool"
)

// BlockInterval is the Hive chain's nominal block production cadence.
const BlockInterval = config.BlockInterval

// HistoryBatchSize is how many blocks history mode fetches per pipelined
// round.
const HistoryBatchSize = 50

// historyCatchUpLag is the wall-clock distance to "now" at which history
// mode considers itself caught up and hands off to live mode.
const historyCatchUpLag = 2 * time.Second

// ChainReader is the subset of the node pool the cursor needs.
type ChainReader interface {
	HeadBlockInfo(ctx context.Context) (int64, time.Time, error)
	GetBlock(ctx context.Context, n int64) (nodepool.Block, []nodepool.Operation, error)
	GetOpsInBlockBatch(ctx context.Context, nums []int64) ([]nodepool.BlockOps, error)
}

// Mode distinguishes the two streaming strategies.
type Mode int

const (
	ModeHistory Mode = iota
	ModeLive
)

// StartSelector picks the history-mode starting point. Precedence when
// multiple are set: Block > Epoch > StartDate > OldHours.
type StartSelector struct {
	Block     int64
	Epoch     int64
	StartDate string
	OldHours  float64
}

// Cursor tracks a monotonically advancing block_num and streams the
// operations found in each block to the caller via Run.
type Cursor struct {
	reader      ChainReader
	historyOnly bool
	stopAt      *time.Time
	log         *zap.Logger

	current Mode
}

// New builds a Cursor. stopAt, if non-nil, ends the stream once an
// operation's post time exceeds it.
func New(reader ChainReader, historyOnly bool, stopAt *time.Time, log *zap.Logger) *Cursor {
	return &Cursor{reader: reader, historyOnly: historyOnly, stopAt: stopAt, log: log}
}

// Run streams operations to out in chain order, starting at startBlock
// (as resolved by ResolveStart) and running until history is exhausted
// (if historyOnly), a block's time passes stopAt, or ctx is cancelled.
// startBlock == 0 skips history mode entirely and starts live at head+1;
// otherwise live mode picks up at the block after the last one history
// emitted.
func (c *Cursor) Run(ctx context.Context, startBlock int64, out chan<- nodepool.Operation) error {
	head, _, err := c.reader.HeadBlockInfo(ctx)
	if err != nil {
		return fmt.Errorf("cursor: fetch head for history end-block: %w", err)
	}
	endBlock := head
	next := endBlock + 1

	if startBlock > 0 {
		var stopped bool
		next, stopped, err = c.runHistory(ctx, startBlock, endBlock, out)
		if err != nil || stopped {
			return err
		}
	}

	if c.historyOnly {
		return nil
	}
	return c.runLive(ctx, next, out)
}

// ResolveStart computes the history-mode starting block number from the
// configured selector, or 0 if none is set (pure live mode). It applies
// the estimator and bisection refinement from spec §4.7.
func (c *Cursor) ResolveStart(ctx context.Context, sel StartSelector) (int64, error) {
	if sel.Block > 0 {
		return sel.Block, nil
	}

	target, ok := resolveTargetTime(sel)
	if !ok {
		return 0, nil
	}

	head, headTime, err := c.reader.HeadBlockInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("cursor: fetch head for start estimation: %w", err)
	}

	estimate := int64(float64(head) - headTime.Sub(target).Seconds()/BlockInterval.Seconds())
	return c.bisect(ctx, estimate, target)
}

// bisect refines estimate by fetching its block and stepping toward
// target until within 3s or the estimate stops moving.
func (c *Cursor) bisect(ctx context.Context, estimate int64, target time.Time) (int64, error) {
	prev := int64(-1)
	for i := 0; i < 30; i++ {
		if estimate < 1 {
			estimate = 1
		}
		blk, _, err := c.reader.GetBlock(ctx, estimate)
		if err != nil {
			return 0, fmt.Errorf("cursor: bisect fetch block %d: %w", estimate, err)
		}

		delta := target.Sub(blk.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= 3*time.Second || estimate == prev {
			return estimate, nil
		}

		step := int64(target.Sub(blk.Timestamp).Seconds()/3 + 0.5)
		if step == 0 {
			if target.After(blk.Timestamp) {
				step = 1
			} else {
				step = -1
			}
		}
		prev = estimate
		estimate += step
	}
	return estimate, nil
}

func resolveTargetTime(sel StartSelector) (time.Time, bool) {
	switch {
	case sel.Epoch > 0:
		return time.Unix(sel.Epoch, 0).UTC(), true
	case sel.StartDate != "":
		t, err := time.Parse(time.RFC3339, sel.StartDate)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case sel.OldHours > 0:
		return time.Now().UTC().Add(-time.Duration(sel.OldHours * float64(time.Hour))), true
	default:
		return time.Time{}, false
	}
}

// runHistory streams [start, end] in pipelined batches of HistoryBatchSize,
// retrying a failed batch block-by-block. It returns the next block to
// process and whether stopAt ended the stream.
func (c *Cursor) runHistory(ctx context.Context, start, end int64, out chan<- nodepool.Operation) (int64, bool, error) {
	for blockNum := start; blockNum <= end; {
		batchEnd := blockNum + HistoryBatchSize - 1
		if batchEnd > end {
			batchEnd = end
		}
		nums := make([]int64, 0, batchEnd-blockNum+1)
		for n := blockNum; n <= batchEnd; n++ {
			nums = append(nums, n)
		}

		results, err := c.reader.GetOpsInBlockBatch(ctx, nums)
		if err != nil {
			if c.log != nil {
				c.log.Warn("cursor: batch fetch failed, retrying block-by-block", zap.Error(err))
			}
			results = results[:0]
			for _, n := range nums {
				blk, ops, err := c.reader.GetBlock(ctx, n)
				if err != nil {
					return 0, false, fmt.Errorf("cursor: fetch block %d after batch failure: %w", n, err)
				}
				results = append(results, nodepool.BlockOps{Block: blk, Ops: ops})
			}
		}

		for _, r := range results {
			if err := c.emit(ctx, r, out); err != nil {
				return 0, false, err
			}
			metrics.CursorBlockNum.Set(float64(r.Block.Number))

			if c.stopAt != nil && r.Block.Timestamp.After(*c.stopAt) {
				return r.Block.Number + 1, true, nil
			}
			if time.Since(r.Block.Timestamp) < historyCatchUpLag {
				return r.Block.Number + 1, false, nil
			}
		}

		blockNum = batchEnd + 1
	}
	return end + 1, false, nil
}

// runLive polls the chain head and streams every block from current
// onward, advancing the cursor only after a block's operations have all
// been handed off.
func (c *Cursor) runLive(ctx context.Context, current int64, out chan<- nodepool.Operation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pollStart := time.Now()
		head, _, err := c.reader.HeadBlockInfo(ctx)
		if err != nil {
			if c.log != nil {
				c.log.Warn("cursor: live poll failed to fetch head", zap.Error(err))
			}
		} else {
			for ; current <= head; current++ {
				blk, ops, err := c.reader.GetBlock(ctx, current)
				if err != nil {
					return fmt.Errorf("cursor: live fetch block %d: %w", current, err)
				}
				if err := c.emit(ctx, nodepool.BlockOps{Block: blk, Ops: ops}, out); err != nil {
					return err
				}
				metrics.CursorBlockNum.Set(float64(current))
				if c.stopAt != nil && blk.Timestamp.After(*c.stopAt) {
					return nil
				}
			}
		}

		elapsed := time.Since(pollStart)
		sleep := BlockInterval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func (c *Cursor) emit(ctx context.Context, r nodepool.BlockOps, out chan<- nodepool.Operation) error {
	for _, op := range r.Ops {
		select {
		case out <- op:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
