// Package nodepool maintains a rotating pool of Hive RPC endpoints and
// exposes the handful of chain calls the writer and watcher need, with
// round-robin selection, fibonacci backoff, and per-endpoint circuit
// breaking hiding individual node flakiness from callers.
package nodepool

import (
	"errors"
	"time"
)

// ErrPoolExhausted is returned when every endpoint's circuit breaker is
// open and no RPC call can be attempted.
var ErrPoolExhausted = errors.New("nodepool: all endpoints unavailable")

// Broadcast error classes, wrapped by classifyBroadcastError so the
// publisher can distinguish fatal failures from retryable ones.
var (
	ErrMissingKey          = errors.New("nodepool: missing posting key")
	ErrAccountDoesNotExist = errors.New("nodepool: account does not exist")
	ErrUnhandledRPC        = errors.New("nodepool: unhandled rpc error")
)

// Block is the subset of a Hive block the watcher cares about.
type Block struct {
	Number    int64
	Timestamp time.Time
}

// Operation is a single operation extracted from a block's transactions,
// tagged with enough context for the filter and for downstream ordering.
type Operation struct {
	BlockNum             int64
	TrxID                string
	TxIndex              int
	OpIndex              int
	Timestamp            time.Time
	Type                 string
	ID                   string
	JSON                 string
	RequiredPostingAuths []string
}

// Account is the subset of account state the startup prober samples.
type Account struct {
	Name           string
	Exists         bool
	VotingManabar  int64
	LastUpdateTime time.Time
}

// DynamicGlobalProperties mirrors the Hive condenser_api call used to
// locate the chain head.
type DynamicGlobalProperties struct {
	HeadBlockNumber int64
	HeadBlockID     string
	Time            time.Time
}
