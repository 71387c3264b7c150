package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcStub answers each JSON-RPC method with a canned result. Methods not in
// the map get a null result, which is how a node answers for an unknown
// transaction hash.
func rpcStub(results map[string]any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  results[req.Method],
		})
	}))
}

func TestTransactionReceiptNotFoundIsNotAnError(t *testing.T) {
	srv := rpcStub(nil) // node does not know the hash yet
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer c.Close()

	receipt, err := c.TransactionReceipt(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestBlockNumber(t *testing.T) {
	srv := rpcStub(map[string]any{"eth_blockNumber": "0x64"})
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
}
