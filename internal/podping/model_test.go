package podping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchDedupAndOrder(t *testing.T) {
	b := NewBatch()
	require.True(t, b.Add("https://a.example/f.xml"))
	require.True(t, b.Add("https://b.example/f.xml"))
	require.False(t, b.Add("https://a.example/f.xml"))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"https://a.example/f.xml", "https://b.example/f.xml"}, b.URLs())
}

func TestEnvelopeSingleURL(t *testing.T) {
	b := NewBatch()
	b.Add("https://a.example/f.xml")

	env := NewEnvelope(b, ReasonFeedUpdate)
	assert.Equal(t, 1, env.NumURLs)
	assert.Equal(t, "https://a.example/f.xml", env.URL)
	assert.Empty(t, env.URLs)

	raw, err := env.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2,"num_urls":1,"r":1,"url":"https://a.example/f.xml"}`, string(raw))
}

func TestEnvelopeMultiURL(t *testing.T) {
	b := NewBatch()
	b.Add("A")
	b.Add("B")

	env := NewEnvelope(b, ReasonFeedUpdate)
	assert.Equal(t, 2, env.NumURLs)
	assert.Equal(t, []string{"A", "B"}, env.URLs)
	assert.Empty(t, env.URL)
}

func TestURLListBytesAccumulates(t *testing.T) {
	b := NewBatch()
	b.Add("12345")
	b.Add("6789")
	assert.Equal(t, 9, b.URLListBytes())
}
