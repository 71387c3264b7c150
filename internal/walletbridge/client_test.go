package walletbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/retry"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL)
	c.SetHTTPClient(srv.Client())
	c.retry = retry.Policy{MaxAttempts: 1}
	return c
}

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/connect", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 42, body["chatId"])

		json.NewEncoder(w).Encode(ConnectResult{URI: "wc:abc@2", Topic: "temp-1"})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Connect(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "wc:abc@2", res.URI)
	assert.Equal(t, "temp-1", res.Topic)
}

func TestConnectRejectsEmptyURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConnectResult{Topic: "temp-1"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Connect(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty pairing URI")
}

func TestSessionStatusCarriesChatIDInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/session-status/temp-1", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("chatId"))

		json.NewEncoder(w).Encode(StatusResult{
			Status:  "connected",
			Topic:   "final-1",
			Address: "0xabc",
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).SessionStatus(context.Background(), 42, "temp-1")
	require.NoError(t, err)
	assert.Equal(t, "connected", res.Status)
	assert.Equal(t, "final-1", res.Topic)
	assert.Equal(t, "0xabc", res.Address)
}

func TestSessionStatusRetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(StatusResult{Status: "pending", Temporary: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetHTTPClient(srv.Client())
	c.retry = retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	res, err := c.SessionStatus(context.Background(), 42, "temp-1")
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, 3, calls)
}

func TestRequestMapsNotFoundToSessionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Request(context.Background(), 42, "gone", "eip155:8453", SignRequest{
		Method: "eth_sendTransaction",
	})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRequestForwardsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/request/final-1", r.URL.Path)

		var body struct {
			ChatID  int64 `json:"chatId"`
			ChainID string `json:"chainId"`
			Request struct {
				Method string `json:"method"`
				Params []any  `json:"params"`
			} `json:"request"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 42, body.ChatID)
		assert.Equal(t, "eip155:8453", body.ChainID)
		assert.Equal(t, "eth_sendTransaction", body.Request.Method)
		require.Len(t, body.Request.Params, 1)

		json.NewEncoder(w).Encode(map[string]string{"result": "0xhash"})
	}))
	defer srv.Close()

	hash, err := newTestClient(srv).Request(context.Background(), 42, "final-1", "eip155:8453", SignRequest{
		Method: "eth_sendTransaction",
		Params: []any{TxParams{From: "0xabc", To: "0xdef", Data: "0x", Value: "0x0"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
}

func TestBridgeDownReturnsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Connect(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrBridgeUnavailable)
}

func TestSessionDataAddress(t *testing.T) {
	var data SessionData
	data.Namespaces.EIP155.Accounts = []string{"eip155:8453:0xAbC123"}

	addr, err := data.Address()
	require.NoError(t, err)
	assert.Equal(t, "0xAbC123", addr)

	data.Namespaces.EIP155.Accounts = nil
	_, err = data.Address()
	assert.Error(t, err)
}
