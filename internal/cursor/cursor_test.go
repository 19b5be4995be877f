package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podping-hive/podping-go/internal/nodepool"
)

type fakeReader struct {
	head     int64
	headTime time.Time
	blocks   map[int64]nodepool.Block
	ops      map[int64][]nodepool.Operation
}

func (f *fakeReader) HeadBlockInfo(ctx context.Context) (int64, time.Time, error) {
	return f.head, f.headTime, nil
}

func (f *fakeReader) GetBlock(ctx context.Context, n int64) (nodepool.Block, []nodepool.Operation, error) {
	return f.blocks[n], f.ops[n], nil
}

func (f *fakeReader) GetOpsInBlockBatch(ctx context.Context, nums []int64) ([]nodepool.BlockOps, error) {
	out := make([]nodepool.BlockOps, len(nums))
	for i, n := range nums {
		out[i] = nodepool.BlockOps{Block: f.blocks[n], Ops: f.ops[n]}
	}
	return out, nil
}

func newFakeReader(headTime time.Time, n int64) *fakeReader {
	r := &fakeReader{head: n, headTime: headTime, blocks: map[int64]nodepool.Block{}, ops: map[int64][]nodepool.Operation{}}
	for i := int64(1); i <= n; i++ {
		r.blocks[i] = nodepool.Block{Number: i, Timestamp: headTime.Add(-time.Duration(n-i) * BlockInterval)}
	}
	return r
}

func TestResolveStartWithExplicitBlock(t *testing.T) {
	c := New(&fakeReader{}, true, nil, nil)
	start, err := c.ResolveStart(context.Background(), StartSelector{Block: 555})
	require.NoError(t, err)
	assert.Equal(t, int64(555), start)
}

func TestResolveStartWithNoSelectorIsLiveOnly(t *testing.T) {
	c := New(&fakeReader{}, false, nil, nil)
	start, err := c.ResolveStart(context.Background(), StartSelector{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
}

func TestResolveStartEstimatesFromOldHours(t *testing.T) {
	now := time.Now().UTC()
	reader := newFakeReader(now, 2000)

	c := New(reader, true, nil, nil)
	start, err := c.ResolveStart(context.Background(), StartSelector{OldHours: 1})
	require.NoError(t, err)

	wantBlock := reader.head - int64(time.Hour/BlockInterval)
	assert.InDelta(t, wantBlock, start, 2)
}

func TestRunHistoryEmitsInOrderAndStops(t *testing.T) {
	now := time.Now().UTC()
	reader := newFakeReader(now, 5)
	reader.ops[3] = []nodepool.Operation{{BlockNum: 3, ID: "podping"}}
	reader.ops[5] = []nodepool.Operation{{BlockNum: 5, ID: "podping"}}

	c := New(reader, true, nil, nil)
	out := make(chan nodepool.Operation, 10)

	err := c.Run(context.Background(), 1, out)
	require.NoError(t, err)
	close(out)

	var got []nodepool.Operation
	for op := range out {
		got = append(got, op)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].BlockNum)
	assert.Equal(t, int64(5), got[1].BlockNum)
}
