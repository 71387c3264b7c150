// Package walletbridge is the REST client for the detached signing-wallet
// service. The bridge owns the WalletConnect handshake; this client only
// speaks its HTTP surface.
package walletbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/retry"
)

// Client is the REST client for the wallet-bridge service. Every call carries
// the chat id so the bridge can route to the right per-user sign client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a bridge client for the given service root, e.g.
// "http://localhost:3000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: retry.Default,
	}
}

// SetHTTPClient replaces the underlying HTTP client. Intended for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// ConnectResult is the bridge's answer to a new pairing request. Topic is the
// temporary topic; the final one is assigned only after wallet approval.
type ConnectResult struct {
	URI   string `json:"uri"`
	Topic string `json:"topic"`
}

// StatusResult reports the state of a pairing. Once connected, Topic carries
// the final topic.
type StatusResult struct {
	Status    string `json:"status"`
	Topic     string `json:"topic"`
	Temporary bool   `json:"temporary"`
	Address   string `json:"address,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionResult wraps the raw wallet namespace data for a session.
type SessionResult struct {
	Session SessionData `json:"session"`
}

// SessionData is the subset of the WalletConnect session the bot needs.
type SessionData struct {
	Topic      string `json:"topic"`
	Namespaces struct {
		EIP155 struct {
			Accounts []string `json:"accounts"`
		} `json:"eip155"`
	} `json:"namespaces"`
}

// Address extracts the wallet address from the first eip155 account entry
// ("eip155:<chainId>:<address>").
func (s SessionData) Address() (string, error) {
	accounts := s.Namespaces.EIP155.Accounts
	if len(accounts) == 0 {
		return "", fmt.Errorf("walletbridge: session has no accounts")
	}
	parts := splitAccount(accounts[0])
	if parts == "" {
		return "", fmt.Errorf("walletbridge: malformed account %q", accounts[0])
	}
	return parts, nil
}

func splitAccount(account string) string {
	// eip155:8453:0xabc... -> 0xabc...
	for i := len(account) - 1; i >= 0; i-- {
		if account[i] == ':' {
			return account[i+1:]
		}
	}
	return ""
}

// SignRequest is the JSON-RPC payload forwarded to the connected wallet.
type SignRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// TxParams is the eth_sendTransaction parameter object.
type TxParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// Connect asks the bridge to open a new pairing for the chat. The returned
// topic is temporary; the caller must register it before showing the URI so a
// status check can race ahead of approval.
func (c *Client) Connect(ctx context.Context, chatID int64) (ConnectResult, error) {
	var out ConnectResult
	if err := c.do(ctx, http.MethodPost, "/connect", chatID, nil, &out); err != nil {
		return ConnectResult{}, fmt.Errorf("walletbridge: connect: %w", err)
	}
	if out.URI == "" {
		return ConnectResult{}, fmt.Errorf("walletbridge: connect: empty pairing URI")
	}
	return out, nil
}

// SessionStatus fetches the pairing state for a topic. Status polling is
// idempotent, so transient failures are retried under the client policy.
func (c *Client) SessionStatus(ctx context.Context, chatID int64, topic string) (StatusResult, error) {
	var out StatusResult
	err := c.retry.Do(ctx, func() error {
		err := c.do(ctx, http.MethodGet, "/session-status/"+url.PathEscape(topic), chatID, nil, &out)
		if errors.Is(err, domain.ErrNotFound) {
			// The bridge no longer knows the topic; waiting will not help.
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return StatusResult{}, fmt.Errorf("walletbridge: session status %s: %w", topic, err)
	}
	return out, nil
}

// Session fetches the full wallet session for a topic.
func (c *Client) Session(ctx context.Context, chatID int64, topic string) (SessionData, error) {
	var out SessionResult
	err := c.retry.Do(ctx, func() error {
		err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(topic), chatID, nil, &out)
		if errors.Is(err, domain.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return SessionData{}, fmt.Errorf("walletbridge: session %s: %w", topic, err)
	}
	return out.Session, nil
}

// Disconnect tears down the wallet session for a topic.
func (c *Client) Disconnect(ctx context.Context, chatID int64, topic string) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(topic), chatID, nil, &out); err != nil {
		return fmt.Errorf("walletbridge: disconnect %s: %w", topic, err)
	}
	if !out.Success {
		return fmt.Errorf("walletbridge: disconnect %s: bridge reported failure", topic)
	}
	return nil
}

// Request forwards a signing request to the wallet behind an established
// session and returns the raw result (a transaction hash for
// eth_sendTransaction). Submission is not idempotent and is never retried
// here.
func (c *Client) Request(ctx context.Context, chatID int64, topic, chainID string, req SignRequest) (string, error) {
	body := map[string]any{
		"chainId": chainID,
		"request": req,
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/request/"+url.PathEscape(topic), chatID, body, &out); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrSessionNotFound
		}
		return "", fmt.Errorf("walletbridge: request %s: %w", topic, err)
	}
	if out.Result == "" {
		return "", fmt.Errorf("walletbridge: request %s: empty result", topic)
	}
	return out.Result, nil
}

// do performs one HTTP round trip against the bridge. The chat id rides in
// the body for writes and the query string for reads, matching the bridge's
// middleware.
func (c *Client) do(ctx context.Context, method, path string, chatID int64, body map[string]any, out any) error {
	u := c.baseURL + path

	var reqBody io.Reader
	if method != http.MethodGet {
		payload := map[string]any{"chatId": chatID}
		for k, v := range body {
			payload[k] = v
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		u += "?chatId=" + fmt.Sprint(chatID)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", domain.ErrBridgeUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
