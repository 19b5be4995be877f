// Package allowlist resolves the set of account names authorized to
// publish podpings, refreshed at most once an hour from a control
// account's follow list, with an optional on-disk cache for cold starts.
package allowlist

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RefreshInterval is the minimum time between follow-list refreshes.
const RefreshInterval = time.Hour

// FollowListFetcher is the subset of the node pool the provider calls.
type FollowListFetcher interface {
	GetFollowList(ctx context.Context, controlAccount string) ([]string, error)
}

// snapshot is the immutable value swapped into the atomic.Value on every
// successful refresh, giving readers copy-on-write access with no locks.
type snapshot struct {
	accounts map[string]struct{}
	names    []string
	fetched  time.Time
}

// Provider tracks the authorized-publisher set. The zero value is not
// usable; construct with New.
type Provider struct {
	fetcher        FollowListFetcher
	controlAccount string
	cache          DiskCache
	log            *zap.Logger

	current          atomic.Value // holds *snapshot
	lastTry          atomic.Value // holds time.Time
	coldStartRetries int
}

// DiskCache persists the last-known-good snapshot across restarts. A nil
// DiskCache disables the disk cache.
type DiskCache interface {
	Load() ([]string, error)
	Save(accounts []string) error
}

// New returns a Provider with an empty snapshot; call Refresh (or Current,
// which refreshes lazily) to populate it.
func New(fetcher FollowListFetcher, controlAccount string, cache DiskCache, log *zap.Logger) *Provider {
	p := &Provider{fetcher: fetcher, controlAccount: controlAccount, cache: cache, log: log}
	p.current.Store(&snapshot{accounts: map[string]struct{}{}})
	p.lastTry.Store(time.Time{})

	if cache != nil {
		if names, err := cache.Load(); err == nil && len(names) > 0 {
			p.store(names)
			if log != nil {
				log.Info("allowlist: loaded snapshot from disk cache", zap.Int("count", len(names)))
			}
		}
	}
	return p
}

// Current returns the current authorized account set, refreshing first if
// more than RefreshInterval has elapsed since the last attempt.
func (p *Provider) Current(ctx context.Context) []string {
	if time.Since(p.lastTry.Load().(time.Time)) >= RefreshInterval {
		if err := p.Refresh(ctx); err != nil && p.log != nil {
			p.log.Warn("allowlist: refresh failed, keeping previous snapshot", zap.Error(err))
		}
	}
	return p.snapshotNames()
}

// Contains reports whether account is currently authorized, without
// forcing a refresh.
func (p *Provider) Contains(account string) bool {
	snap := p.current.Load().(*snapshot)
	_, ok := snap.accounts[account]
	return ok
}

// Refresh unconditionally re-resolves the follow list. Failures leave the
// previous snapshot in place.
func (p *Provider) Refresh(ctx context.Context) error {
	p.lastTry.Store(time.Now())

	names, err := p.fetcher.GetFollowList(ctx, p.controlAccount)
	if err != nil {
		p.coldStartRetries++
		if p.log != nil {
			p.log.Warn("allowlist: refresh attempt failed",
				zap.Error(err), zap.Int("attempt", p.coldStartRetries))
		}
		return err
	}

	p.coldStartRetries = 0
	p.store(names)
	if p.cache != nil {
		if err := p.cache.Save(names); err != nil && p.log != nil {
			p.log.Warn("allowlist: failed to persist disk cache", zap.Error(err))
		}
	}
	return nil
}

func (p *Provider) store(names []string) {
	accounts := make(map[string]struct{}, len(names))
	for _, n := range names {
		accounts[n] = struct{}{}
	}
	p.current.Store(&snapshot{accounts: accounts, names: names, fetched: time.Now()})
}

func (p *Provider) snapshotNames() []string {
	snap := p.current.Load().(*snapshot)
	out := make([]string, len(snap.names))
	copy(out, snap.names)
	return out
}
