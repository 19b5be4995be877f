package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podping-hive/podping-go/internal/nodepool"
)

func opWithID(id, js string) nodepool.Operation {
	return nodepool.Operation{
		BlockNum:             42,
		TrxID:                "trx1",
		Type:                 "custom_json",
		ID:                   id,
		JSON:                 js,
		RequiredPostingAuths: []string{"podping"},
	}
}

func TestProcessRejectsNonCustomJSON(t *testing.T) {
	f := New(Options{})
	op := opWithID("podping", `{"v":2,"url":"https://a.example/f.xml","num_urls":1}`)
	op.Type = "vote"

	records, matched := f.Process(op)
	assert.False(t, matched)
	assert.Nil(t, records)
}

func TestProcessMatchesProductionIDAndSingleURL(t *testing.T) {
	f := New(Options{})
	op := opWithID("podping", `{"v":2,"r":1,"url":"https://a.example/f.xml","num_urls":1}`)

	records, matched := f.Process(op)
	require.True(t, matched)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"https://a.example/f.xml"}, records[0].URLs)
	assert.Equal(t, "podcast update", records[0].MediumReason)
}

func TestProcessMatchesMultiURLEnvelope(t *testing.T) {
	f := New(Options{})
	op := opWithID("podping", `{"v":2,"r":1,"urls":["https://a.example","https://b.example"],"num_urls":2}`)

	records, matched := f.Process(op)
	require.True(t, matched)
	require.Len(t, records, 2)
}

func TestProcessNormalizesLegacyIrisSchema(t *testing.T) {
	f := New(Options{})
	op := opWithID("pp_rss_feed", `{"version":"1.0","iris":["https://a.example"],"medium":"podcast","reason":"update"}`)

	records, matched := f.Process(op)
	require.True(t, matched)
	require.Len(t, records, 1)
	assert.Equal(t, "podcast update", records[0].MediumReason)
	assert.Equal(t, "iris", records[0].SourceTag)
}

func TestProcessRejectsUnmatchedID(t *testing.T) {
	f := New(Options{})
	op := opWithID("some-other-app", `{"urls":["https://a.example"]}`)

	_, matched := f.Process(op)
	assert.False(t, matched)
}

func TestProcessDiagnosticIDRequiresOptIn(t *testing.T) {
	op := opWithID("podping-startup", `{"message":"hi"}`)

	_, matched := New(Options{Diagnostic: false}).Process(op)
	assert.False(t, matched)

	_, matched = New(Options{Diagnostic: true}).Process(op)
	assert.True(t, matched)
}

func TestProcessLiveTestPattern(t *testing.T) {
	op := opWithID("podping-livetest", `{"url":"https://a.example"}`)

	_, matched := New(Options{LiveTest: false}).Process(op)
	assert.False(t, matched)

	records, matched := New(Options{LiveTest: true}).Process(op)
	assert.True(t, matched)
	require.Len(t, records, 1)
}

type fakeAllow struct{ authorized map[string]bool }

func (f fakeAllow) Contains(account string) bool { return f.authorized[account] }

func TestProcessEnforcesAllowListWhenEnabled(t *testing.T) {
	op := opWithID("podping", `{"url":"https://a.example"}`)

	f := New(Options{EnforceAllowList: true, AllowList: fakeAllow{authorized: map[string]bool{}}})
	_, matched := f.Process(op)
	assert.False(t, matched)

	f2 := New(Options{EnforceAllowList: true, AllowList: fakeAllow{authorized: map[string]bool{"podping": true}}})
	_, matched = f2.Process(op)
	assert.True(t, matched)
}
