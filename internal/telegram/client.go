// Package telegram is a minimal Telegram Bot API client: long-polled
// updates in, messages and inline keyboards out. It implements
// domain.ChatSurface so the rest of the system never touches the Bot API
// directly.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

const apiBase = "https://api.telegram.org/bot"

// sendRateKey is the rate-limit bucket for outbound API calls.
const sendRateKey = "telegram:send"

// Client talks to the Telegram Bot API. An optional RateLimiter paces
// outbound calls; nil disables pacing.
type Client struct {
	token   string
	baseURL string
	hc      *http.Client
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewClient creates a Client for the given bot token.
func NewClient(token string, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: apiBase + token,
		hc:      &http.Client{Timeout: 65 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "telegram")),
	}
}

// SetBaseURL overrides the API endpoint. Intended for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Update is one incoming Bot API update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID int    `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is an inline-keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

// inlineKeyboard is the reply_markup payload for inline buttons.
type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Send posts a plain text message.
func (c *Client) Send(ctx context.Context, chatID int64, text string) (domain.MessageRef, error) {
	return c.sendMessage(ctx, map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendKeyboard posts a message with inline buttons.
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]domain.Button) (domain.MessageRef, error) {
	kb := inlineKeyboard{}
	for _, row := range rows {
		var btns []inlineButton
		for _, b := range row {
			btns = append(btns, inlineButton{Text: b.Label, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, btns)
	}
	return c.sendMessage(ctx, map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": kb,
	})
}

func (c *Client) sendMessage(ctx context.Context, payload map[string]any) (domain.MessageRef, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// Edit rewrites a previously sent message's text.
func (c *Client) Edit(ctx context.Context, ref domain.MessageRef, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
	}, nil)
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	}, nil)
}

// GetUpdates long-polls for updates after the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// call performs one Bot API method call and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, payload map[string]any, out any) error {
	if c.limiter != nil && method != "getUpdates" {
		if err := c.limiter.Wait(ctx, sendRateKey); err != nil {
			return fmt.Errorf("telegram: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("telegram: %s failed: %s", method, env.Description)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.ChatSurface = (*Client)(nil)
