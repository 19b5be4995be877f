package nodepool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestHeadBlockNumber(t *testing.T) {
	srv := rpcServer(t, `{"head_block_number":12345,"time":"2024-01-01T00:00:00"}`)
	defer srv.Close()

	pool := New([]string{srv.URL}, Config{})
	head, err := pool.HeadBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), head)
}

func TestGetBlockExtractsCustomJSONOnly(t *testing.T) {
	block := `{
		"timestamp": "2024-01-01T00:00:03",
		"transactions": [{
			"transaction_id": "abc123",
			"operations": [
				["vote", {}],
				["custom_json", {"required_posting_auths":["podping"],"id":"podping","json":"{\"v\":2}"}]
			]
		}]
	}`
	srv := rpcServer(t, block)
	defer srv.Close()

	pool := New([]string{srv.URL}, Config{})
	_, ops, err := pool.GetBlock(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "podping", ops[0].ID)
	assert.Equal(t, []string{"podping"}, ops[0].RequiredPostingAuths)
}

func TestPoolFallsOverOnFailingEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := rpcServer(t, `{"head_block_number":999,"time":"2024-01-01T00:00:00"}`)
	defer good.Close()

	pool := New([]string{bad.URL, good.URL}, Config{MaxFailures: 1})
	head, err := pool.HeadBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(999), head)
}

func TestPoolExhaustedWhenEmpty(t *testing.T) {
	pool := New(nil, Config{})
	_, err := pool.HeadBlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestClassifyBroadcastError(t *testing.T) {
	assert.ErrorIs(t, classifyBroadcastError(assertError("missing posting authority")), ErrMissingKey)
	assert.ErrorIs(t, classifyBroadcastError(assertError("account jane does not exist")), ErrAccountDoesNotExist)
	assert.ErrorIs(t, classifyBroadcastError(assertError("internal server hiccup")), ErrUnhandledRPC)
}

type assertError string

func (e assertError) Error() string { return string(e) }
