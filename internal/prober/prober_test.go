package prober

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podping-hive/podping-go/internal/nodepool"
	"github.com/podping-hive/podping-go/internal/podping"
)

type fakePool struct {
	calls         int
	manas         []int64
	exists        bool
	failBroadcast bool
}

func (f *fakePool) GetAccount(ctx context.Context, name string) (nodepool.Account, error) {
	mana := f.manas[0]
	if len(f.manas) > 1 {
		mana = f.manas[f.calls]
	}
	f.calls++
	return nodepool.Account{Name: name, Exists: f.exists, VotingManabar: mana}, nil
}

func (f *fakePool) BroadcastTransaction(ctx context.Context, tx json.RawMessage) (string, error) {
	if f.failBroadcast {
		return "", assertErr("boom")
	}
	return "trx-probe", nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeAllow struct{ accounts []string }

func (f fakeAllow) Current(ctx context.Context) []string { return f.accounts }

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, account, key string, op podping.CustomJSONOp) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRunSucceedsAndEstimatesCapacity(t *testing.T) {
	pool := &fakePool{manas: []int64{1000, 900}, exists: true}
	allow := fakeAllow{accounts: []string{"podping"}}

	origGap := manaSampleGapForTest()
	defer origGap()

	result, err := Run(context.Background(), pool, fakeSigner{}, allow, Config{ServerAccount: "podping"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.ManaBefore)
	assert.Equal(t, int64(900), result.ManaAfter)
	assert.Equal(t, int64(9), result.Capacity)
}

func TestRunAbortsWhenAccountMissing(t *testing.T) {
	pool := &fakePool{manas: []int64{0}, exists: false}
	allow := fakeAllow{}

	_, err := Run(context.Background(), pool, fakeSigner{}, allow, Config{ServerAccount: "ghost"}, nil)
	require.Error(t, err)
}

func TestRunToleratesMissingAccountOnTestnetWithIgnoreErrors(t *testing.T) {
	pool := &fakePool{manas: []int64{0}, exists: false}
	allow := fakeAllow{}

	_, err := Run(context.Background(), pool, fakeSigner{}, allow, Config{
		ServerAccount: "ghost",
		UseTestNode:   true,
		IgnoreErrors:  true,
	}, nil)
	require.NoError(t, err)
}

func TestRunAbortsWhenNotAuthorized(t *testing.T) {
	pool := &fakePool{manas: []int64{100}, exists: true}
	allow := fakeAllow{accounts: []string{"someone-else"}}

	_, err := Run(context.Background(), pool, fakeSigner{}, allow, Config{ServerAccount: "podping"}, nil)
	require.Error(t, err)
}

func manaSampleGapForTest() func() {
	orig := manaSampleGapVar
	manaSampleGapVar = time.Millisecond
	return func() { manaSampleGapVar = orig }
}
