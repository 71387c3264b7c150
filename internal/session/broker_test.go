package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

// fakeBridge scripts the wallet-bridge REST surface for broker tests.
type fakeBridge struct {
	mu          sync.Mutex
	statuses    []walletbridge.StatusResult // consumed per poll, last repeats
	account     string
	dead        bool // session GETs return 404
	disconnects int
	connects    int
}

func (f *fakeBridge) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/connect":
			f.connects++
			json.NewEncoder(w).Encode(walletbridge.ConnectResult{
				URI:   "wc:pairing@2",
				Topic: "temp-1",
			})
		case strings.HasPrefix(r.URL.Path, "/session-status/"):
			st := f.statuses[0]
			if len(f.statuses) > 1 {
				f.statuses = f.statuses[1:]
			}
			json.NewEncoder(w).Encode(st)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/session/"):
			f.disconnects++
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		case strings.HasPrefix(r.URL.Path, "/session/"):
			if f.dead {
				http.NotFound(w, r)
				return
			}
			var res walletbridge.SessionResult
			res.Session.Topic = strings.TrimPrefix(r.URL.Path, "/session/")
			res.Session.Namespaces.EIP155.Accounts = []string{f.account}
			json.NewEncoder(w).Encode(res)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestBroker(t *testing.T, fb *fakeBridge) (*Broker, *Store) {
	t.Helper()
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	client := walletbridge.NewClient(srv.URL)
	client.SetHTTPClient(srv.Client())

	store := NewStore(slog.New(slog.DiscardHandler))
	store.SetTTLs(time.Hour, time.Hour)

	b := NewBroker(client, store, nil, slog.New(slog.DiscardHandler))
	b.SetPolling(time.Millisecond, 5)
	return b, store
}

func TestStartPairingRegistersPendingSession(t *testing.T) {
	fb := &fakeBridge{}
	b, store := newTestBroker(t, fb)

	uri, topic, err := b.StartPairing(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "wc:pairing@2", uri)
	assert.Equal(t, "temp-1", topic)

	sess := store.Lookup("temp-1")
	require.NotNil(t, sess)
	assert.Equal(t, domain.SessionPending, sess.Status)
	assert.EqualValues(t, 42, sess.ChatID)
}

func TestStartPairingSupersedesExistingSession(t *testing.T) {
	fb := &fakeBridge{}
	b, store := newTestBroker(t, fb)

	store.Restore(domain.Session{
		ChatID:     42,
		FinalTopic: "old-final",
		Address:    "0xold",
		Status:     domain.SessionConnected,
	})

	_, _, err := b.StartPairing(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 1, fb.disconnects, "prior session was not torn down at the bridge")
	assert.Nil(t, store.Lookup("old-final"))
	require.NotNil(t, store.Lookup("temp-1"))
}

func TestAwaitApprovalResolvesOnConnect(t *testing.T) {
	fb := &fakeBridge{
		statuses: []walletbridge.StatusResult{
			{Status: "pending", Temporary: true},
			{Status: "pending", Temporary: true},
			{Status: "connected", Topic: "final-1"},
		},
		account: "eip155:8453:0xabc",
	}
	b, store := newTestBroker(t, fb)

	_, topic, err := b.StartPairing(context.Background(), 42)
	require.NoError(t, err)

	out := b.AwaitApproval(context.Background(), 42, topic)
	require.NoError(t, out.Err)
	assert.True(t, out.Connected)
	assert.Equal(t, "final-1", out.Topic)
	assert.Equal(t, "0xabc", out.Address)

	sess := store.Lookup("final-1")
	require.NotNil(t, sess)
	assert.True(t, sess.Connected())
	assert.Same(t, sess, store.Lookup(topic))
}

func TestAwaitApprovalReportsFailure(t *testing.T) {
	fb := &fakeBridge{
		statuses: []walletbridge.StatusResult{
			{Status: "failed", Error: "user rejected"},
		},
	}
	b, store := newTestBroker(t, fb)

	_, topic, err := b.StartPairing(context.Background(), 42)
	require.NoError(t, err)

	out := b.AwaitApproval(context.Background(), 42, topic)
	assert.ErrorIs(t, out.Err, domain.ErrConnectionFailed)
	assert.False(t, out.Connected)

	sess := store.Lookup(topic)
	require.NotNil(t, sess)
	assert.Equal(t, domain.SessionFailed, sess.Status)
	assert.Equal(t, "user rejected", sess.Error)
}

func TestAwaitApprovalTimesOut(t *testing.T) {
	fb := &fakeBridge{
		statuses: []walletbridge.StatusResult{
			{Status: "pending", Temporary: true},
		},
	}
	b, _ := newTestBroker(t, fb)

	_, topic, err := b.StartPairing(context.Background(), 42)
	require.NoError(t, err)

	out := b.AwaitApproval(context.Background(), 42, topic)
	assert.ErrorIs(t, out.Err, domain.ErrConnectionTimeout)
}

func TestDisconnectWithoutSession(t *testing.T) {
	fb := &fakeBridge{}
	b, _ := newTestBroker(t, fb)

	err := b.Disconnect(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestVerifyRefreshesLiveSession(t *testing.T) {
	fb := &fakeBridge{account: "eip155:8453:0xabc"}
	b, _ := newTestBroker(t, fb)

	b.Restore(domain.Session{
		ChatID:     42,
		FinalTopic: "final-1",
		Address:    "0xabc",
		Status:     domain.SessionConnected,
	})

	sess, err := b.Verify(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", sess.Address)
}

func TestVerifyClearsDeadSession(t *testing.T) {
	fb := &fakeBridge{dead: true}
	b, store := newTestBroker(t, fb)

	b.Restore(domain.Session{
		ChatID:     42,
		FinalTopic: "final-1",
		Address:    "0xabc",
		Status:     domain.SessionConnected,
	})

	_, err := b.Verify(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Nil(t, store.Lookup("final-1"))
}
