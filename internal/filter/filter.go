// Package filter inspects each custom_json operation the watcher pulls
// off the chain, keeps only ones in the podping namespace, and normalizes
// their payload into the OperationRecord the sinks consume.
package filter

import (
	"encoding/json"
	"regexp"

	"github.com/podping-hive/podping-go/internal/nodepool"
	"github.com/podping-hive/podping-go/internal/podping"
)

var (
	productionPattern = regexp.MustCompile(`^pp_(.*)_(.*)|podping$`)
	livetestPattern   = regexp.MustCompile(`^pplt_(.*)_(.*)|podping-livetest$`)
)

var diagnosticIDs = map[string]struct{}{
	podping.OperationIDStartup: {},
	"pp_startup":               {},
}

// AllowListChecker is satisfied by the allow-list provider; nil disables
// authorization enforcement entirely.
type AllowListChecker interface {
	Contains(account string) bool
}

// Options controls which namespace and which extra passthroughs this
// filter accepts.
type Options struct {
	LiveTest bool
	// Diagnostic enables passthrough of startup/diagnostic operation ids.
	Diagnostic bool
	// JSONMode, when set, causes Process to annotate records with the
	// hive_properties fields (hiveTxId, hiveBlockNum).
	JSONMode bool
	// EnforceAllowList, off by default (spec §9 Open Question), discards
	// operations whose required_posting_auths share no element with the
	// allow-list.
	EnforceAllowList bool
	AllowList        AllowListChecker
}

// Filter is stateless beyond its Options; safe for concurrent use.
type Filter struct {
	opts Options
}

// New returns a Filter configured per opts.
func New(opts Options) *Filter {
	return &Filter{opts: opts}
}

type wirePayload struct {
	Version string   `json:"version"`
	Iris    []string `json:"iris"`
	URL     string   `json:"url"`
	URLs    []string `json:"urls"`
	Medium  string   `json:"medium"`
	Reason  string   `json:"reason"`
}

// Process decides whether op belongs to the podping namespace and, if so,
// normalizes it into zero or more OperationRecords (one per URL). matched
// reports whether op passed the id/namespace check (and, when
// EnforceAllowList is on, the allow-list check), independent of how many
// URL records it produced — callers use it to count filtered operations
// separately from emitted URLs.
func (f *Filter) Process(op nodepool.Operation) (records []podping.OperationRecord, matched bool) {
	if op.Type != "custom_json" {
		return nil, false
	}

	if !f.idMatches(op.ID) {
		return nil, false
	}

	if f.opts.EnforceAllowList && f.opts.AllowList != nil && !anyAuthorized(op.RequiredPostingAuths, f.opts.AllowList) {
		return nil, false
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(op.JSON), &payload); err != nil {
		return nil, true
	}

	urls, mediumReason, sourceTag := normalize(payload)

	records = make([]podping.OperationRecord, 0, len(urls))
	for _, u := range urls {
		rec := podping.OperationRecord{
			BlockNum:             uint32(op.BlockNum),
			TrxID:                op.TrxID,
			Timestamp:            op.Timestamp,
			OperationID:          op.ID,
			RequiredPostingAuths: op.RequiredPostingAuths,
			URLs:                 []string{u},
			MediumReason:         mediumReason,
			SourceTag:            sourceTag,
		}
		if f.opts.JSONMode {
			rec.HiveTxID = op.TrxID
			rec.HiveBlockNum = uint32(op.BlockNum)
		}
		records = append(records, rec)
	}
	return records, true
}

func (f *Filter) idMatches(id string) bool {
	if _, ok := diagnosticIDs[id]; ok {
		return f.opts.Diagnostic
	}
	if f.opts.LiveTest {
		return livetestPattern.MatchString(id)
	}
	return productionPattern.MatchString(id)
}

// normalize applies spec §4.8's schema rules, returning the URL list,
// the derived medium_reason annotation, and which field supplied the URLs
// (observability only).
func normalize(p wirePayload) (urls []string, mediumReason, sourceTag string) {
	if p.Version == "1.0" && len(p.Iris) > 0 {
		return p.Iris, p.Medium + " " + p.Reason, "iris"
	}
	switch {
	case len(p.URLs) > 0:
		return p.URLs, "podcast update", "urls"
	case p.URL != "":
		return []string{p.URL}, "podcast update", "url"
	default:
		return nil, "podcast update", ""
	}
}

func anyAuthorized(auths []string, allow AllowListChecker) bool {
	for _, a := range auths {
		if allow.Contains(a) {
			return true
		}
	}
	return false
}
