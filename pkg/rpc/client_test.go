package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/types"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// accountServer answers getMultipleAccounts from accounts; keys it does not
// hold come back null. The first failures requests get a 500.
func accountServer(t *testing.T, accounts map[string]map[string]interface{}, failures int32) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= failures {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getMultipleAccounts", req.Method)
		var keys []string
		require.NoError(t, json.Unmarshal(req.Params[0], &keys))

		values := make([]interface{}, len(keys))
		for i, k := range keys {
			if a, ok := accounts[k]; ok {
				values[i] = a
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value":   values,
			},
		}))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(url string) config.RPCConfig {
	cfg := config.DefaultRPCConfig()
	cfg.Network = config.NetworkCustom
	cfg.RPCURL = url
	cfg.Timeout = 5 * time.Second
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	cfg.RateLimit.RPS = 0
	return cfg
}

func accountJSON(owner solana.PublicKey, lamports uint64, data []byte, executable bool) map[string]interface{} {
	return map[string]interface{}{
		"lamports":   lamports,
		"owner":      owner.String(),
		"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
		"executable": executable,
		"rentEpoch":  0,
	}
}

func TestLoadAccounts(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	state := solana.NewWallet().PublicKey()
	missing := solana.NewWallet().PublicKey()
	srv, _ := accountServer(t, map[string]map[string]interface{}{
		state.String():                  accountJSON(program, 42, []byte{1, 2, 3}, false),
		solana.SystemProgramID.String(): accountJSON(solana.BPFLoaderUpgradeableProgramID, 1, nil, true),
	}, 0)

	c := NewClient(testConfig(srv.URL))
	accs, err := c.LoadAccounts(context.Background(), []Meta{
		{Key: state, Writable: true},
		{Key: missing, Signer: true, Writable: true},
		{Key: solana.PublicKey{}, Optional: true},
		{Key: solana.SystemProgramID},
	})
	require.NoError(t, err)
	require.Len(t, accs, 4)

	assert.Equal(t, state, accs[0].Key())
	assert.True(t, accs[0].IsOwnedBy(program))
	assert.Equal(t, uint64(42), accs[0].Lamports())
	assert.Equal(t, []byte{1, 2, 3}, accs[0].Snapshot())
	assert.True(t, accs[0].IsWritable())
	assert.False(t, accs[0].IsSigner())

	assert.Equal(t, missing, accs[1].Key())
	assert.Zero(t, accs[1].Lamports())
	assert.True(t, accs[1].IsSigner())

	assert.True(t, accs[2].Key().IsZero())
	assert.False(t, accs[2].Executable())
	assert.Equal(t, solana.SystemProgramID, accs[3].Key())
	assert.True(t, accs[3].Executable())
}

func TestGetMultipleAccountsRetries(t *testing.T) {
	key := solana.NewWallet().PublicKey()
	srv, calls := accountServer(t, map[string]map[string]interface{}{
		key.String(): accountJSON(solana.SystemProgramID, 7, nil, false),
	}, 2)

	c := NewClient(testConfig(srv.URL))
	out, err := c.GetMultipleAccounts(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(7), out[0].Lamports)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestGetMultipleAccountsGivesUp(t *testing.T) {
	srv, calls := accountServer(t, nil, 100)
	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 2

	_, err := NewClient(cfg).GetMultipleAccounts(context.Background(), []solana.PublicKey{solana.NewWallet().PublicKey()})
	var rpcErr types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "getMultipleAccounts", rpcErr.Op)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetMultipleAccountsBatches(t *testing.T) {
	keys := make([]solana.PublicKey, MaxAccountsPerRequest+5)
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
	}
	srv, calls := accountServer(t, nil, 0)

	out, err := NewClient(testConfig(srv.URL)).GetMultipleAccounts(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, out, len(keys))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestBackoff(t *testing.T) {
	cfg := testConfig("")
	cfg.Retry.Jitter = false
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 30 * time.Millisecond
	c := NewClient(cfg)
	assert.Equal(t, 10*time.Millisecond, c.backoff(0))
	assert.Equal(t, 20*time.Millisecond, c.backoff(1))
	assert.Equal(t, 30*time.Millisecond, c.backoff(4))
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(types.ErrAccountNotFound))
	assert.False(t, retryable(types.ErrConstraintSeeds))
	assert.True(t, retryable(assert.AnError))
}
