// Package podping defines the shared data model for the writer and watcher
// pipelines: URLs, batches, the on-chain envelope, and the records the
// watcher emits downstream.
package podping

import (
	"encoding/json"
	"time"
)

// Reason classifies a podping notification.
type Reason int

const (
	ReasonFeedUpdate Reason = 1
	ReasonNewFeed    Reason = 2
	ReasonHostChange Reason = 3
)

const (
	// CurrentVersion is the podping protocol version this writer emits.
	CurrentVersion = 2

	// MaxURLListBytes bounds the serialized size of a batch's urls list.
	MaxURLListBytes = 7000

	// MaxURLsPerCustomJSON bounds the number of URLs in a single batch.
	MaxURLsPerCustomJSON = 90

	// MaxCustomJSONBytes is the chain-enforced payload ceiling; the byte
	// budget above keeps every envelope well under it.
	MaxCustomJSONBytes = 8192

	// OperationID is the production custom_json id.
	OperationID = "podping"
	// OperationIDLiveTest is the livetest custom_json id.
	OperationIDLiveTest = "podping-livetest"
	// OperationIDStartup is the startup-prober diagnostic id.
	OperationIDStartup = "podping-startup"
)

// Batch accumulates a deduplicated, insertion-ordered set of URLs bounded by
// a time window and a byte budget. It is owned exclusively by the batcher.
type Batch struct {
	urls    []string
	seen    map[string]struct{}
	started time.Time
}

// NewBatch returns an empty batch; Started is set on the first Add.
func NewBatch() *Batch {
	return &Batch{seen: make(map[string]struct{})}
}

// Add inserts a URL if not already present in this batch. Returns true if
// the URL was newly added.
func (b *Batch) Add(url string) bool {
	if _, ok := b.seen[url]; ok {
		return false
	}
	if len(b.urls) == 0 {
		b.started = time.Now()
	}
	b.seen[url] = struct{}{}
	b.urls = append(b.urls, url)
	return true
}

// Len returns the number of distinct URLs currently held.
func (b *Batch) Len() int { return len(b.urls) }

// Empty reports whether the batch has no URLs.
func (b *Batch) Empty() bool { return len(b.urls) == 0 }

// Started returns the arrival time of the first URL in this batch.
func (b *Batch) Started() time.Time { return b.started }

// URLs returns the batch's URLs in stable insertion order.
func (b *Batch) URLs() []string {
	out := make([]string, len(b.urls))
	copy(out, b.urls)
	return out
}

// URLListBytes returns the joined byte length of the batch's URLs: the sum
// of their lengths, without JSON quotes or separators.
func (b *Batch) URLListBytes() int {
	n := 0
	for _, u := range b.urls {
		n += len(u)
	}
	return n
}

// PodpingEnvelope is the JSON payload carried by the custom_json operation.
type PodpingEnvelope struct {
	Version int    `json:"v"`
	NumURLs int    `json:"num_urls"`
	Reason  Reason `json:"r"`
	URL     string `json:"url,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// NewEnvelope builds the wire envelope for a sealed batch, per spec.md §4.5:
// a single-URL batch serializes to "url", multi-URL to "urls".
func NewEnvelope(b *Batch, reason Reason) PodpingEnvelope {
	urls := b.URLs()
	env := PodpingEnvelope{
		Version: CurrentVersion,
		NumURLs: len(urls),
		Reason:  reason,
	}
	if len(urls) == 1 {
		env.URL = urls[0]
	} else {
		env.URLs = urls
	}
	return env
}

// Marshal serializes the envelope to JSON.
func (e PodpingEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// CustomJSONOp is the operation submitted to the chain.
type CustomJSONOp struct {
	ID                   string
	RequiredPostingAuths []string
	JSON                 []byte
}

// SignedTransaction is the result of signing and broadcasting a
// CustomJSONOp.
type SignedTransaction struct {
	TrxID string
}

// OperationRecord is a normalized, decoded view of a consumed custom_json
// operation, produced by the watcher's filter stage.
type OperationRecord struct {
	BlockNum             uint32
	TrxID                string
	Timestamp            time.Time
	OperationID          string
	RequiredPostingAuths []string
	URLs                 []string
	MediumReason         string
	SourceTag            string // "iris", "urls", or "url" — observability only
	HiveTxID             string
	HiveBlockNum         uint32
}

// NodeEndpoint describes one RPC endpoint tracked by the node pool.
type NodeEndpoint struct {
	URL                 string
	ConsecutiveFailures int
	CooldownUntil       time.Time
}

// Healthy reports whether the endpoint is outside of its cooldown window.
func (n *NodeEndpoint) Healthy() bool {
	return time.Now().After(n.CooldownUntil)
}
