package allowlist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	names []string
	err   error
	calls int
}

func (f *fakeFetcher) GetFollowList(ctx context.Context, controlAccount string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.names, nil
}

func TestCurrentRefreshesOnFirstCall(t *testing.T) {
	fetcher := &fakeFetcher{names: []string{"alice", "bob"}}
	p := New(fetcher, "podping", nil, nil)

	got := p.Current(context.Background())
	assert.ElementsMatch(t, []string{"alice", "bob"}, got)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCurrentDoesNotRefreshWithinInterval(t *testing.T) {
	fetcher := &fakeFetcher{names: []string{"alice"}}
	p := New(fetcher, "podping", nil, nil)

	p.Current(context.Background())
	p.Current(context.Background())
	assert.Equal(t, 1, fetcher.calls)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{names: []string{"alice"}}
	p := New(fetcher, "podping", nil, nil)
	require.NoError(t, p.Refresh(context.Background()))

	fetcher.err = errors.New("network down")
	err := p.Refresh(context.Background())
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"alice"}, p.snapshotNames())
}

func TestContainsChecksCurrentSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{names: []string{"alice"}}
	p := New(fetcher, "podping", nil, nil)
	require.NoError(t, p.Refresh(context.Background()))

	assert.True(t, p.Contains("alice"))
	assert.False(t, p.Contains("mallory"))
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.db")
	cache, err := NewSQLiteCache(path)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Save([]string{"alice", "bob"}))

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, loaded)
}

func TestProviderLoadsFromDiskCacheOnColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.db")
	cache, err := NewSQLiteCache(path)
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Save([]string{"cached-account"}))

	fetcher := &fakeFetcher{err: errors.New("no network yet")}
	p := New(fetcher, "podping", cache, nil)

	assert.True(t, p.Contains("cached-account"))
}
