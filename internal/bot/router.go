// Package bot routes incoming Telegram updates to the wallet broker and the
// trade-flow engine. Command parsing stops here; everything past this layer
// works in domain terms.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/session"
	"github.com/bvvvp009/avantisbot/internal/telegram"
	"github.com/bvvvp009/avantisbot/internal/tradeflow"
)

const pollTimeout = 50 * time.Second

// Router dispatches updates to handlers.
type Router struct {
	tg     *telegram.Client
	broker *session.Broker
	engine *tradeflow.Engine
	trades domain.TradeStore
	logger *slog.Logger
}

// New creates a Router. trades may be nil; trade listing commands then
// report unavailability.
func New(tg *telegram.Client, broker *session.Broker, engine *tradeflow.Engine, trades domain.TradeStore, logger *slog.Logger) *Router {
	return &Router{
		tg:     tg,
		broker: broker,
		engine: engine,
		trades: trades,
		logger: logger.With(slog.String("component", "bot")),
	}
}

// Run long-polls for updates until ctx is cancelled. Poll errors are logged
// and retried with a short pause.
func (r *Router) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := r.tg.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("get updates failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			r.dispatch(ctx, upd)
		}
	}
}

// dispatch handles one update in its own goroutine so a slow handler (for
// example one waiting on wallet approval) never stalls the poll loop. The
// engine serializes each chat's flow inputs behind its per-chat lock, so
// concurrent updates for one chat are safe here.
func (r *Router) dispatch(ctx context.Context, upd telegram.Update) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panic", slog.Any("panic", rec))
			}
		}()
		switch {
		case upd.CallbackQuery != nil:
			r.handleCallback(ctx, upd.CallbackQuery)
		case upd.Message != nil:
			r.handleMessage(ctx, upd.Message)
		}
	}()
}

func (r *Router) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := r.tg.AnswerCallback(ctx, cb.ID); err != nil {
		r.logger.Warn("answer callback failed", slog.String("error", err.Error()))
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if err := r.engine.HandleCallback(ctx, chatID, cb.Data); err != nil {
		r.logHandlerErr(chatID, "callback", err)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		r.handleCommand(ctx, chatID, text)
		return
	}
	if r.engine.Active(chatID) {
		if err := r.engine.HandleMessage(ctx, chatID, text); err != nil {
			r.logHandlerErr(chatID, "message", err)
		}
		return
	}
	r.send(ctx, chatID, "No trade in progress. Use /openmarket or /openlimit to start one.")
}

func (r *Router) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd, arg, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@") // /cmd@botname form in groups
	arg = strings.TrimSpace(arg)

	// Any command supersedes an in-progress flow, except the flow's own
	// inputs which never arrive here.
	r.engine.Reset(ctx, chatID)

	switch cmd {
	case "/start", "/help":
		r.send(ctx, chatID, helpText)
	case "/connect":
		r.connect(ctx, chatID)
	case "/disconnect":
		r.disconnect(ctx, chatID)
	case "/verify":
		r.verify(ctx, chatID)
	case "/approve":
		r.approve(ctx, chatID, arg)
	case "/openmarket":
		r.startFlow(ctx, chatID, domain.OrderMarket)
	case "/openlimit":
		r.startFlow(ctx, chatID, domain.OrderLimit)
	case "/opentrades":
		r.listTrades(ctx, chatID)
	case "/close":
		r.closeTrade(ctx, chatID, arg)
	case "/cancelorder":
		r.cancelOrder(ctx, chatID, arg)
	case "/cancel":
		r.send(ctx, chatID, "Cancelled.")
	default:
		r.send(ctx, chatID, "Unknown command. Try /help.")
	}
}

const helpText = `Commands:
/connect - pair a wallet
/verify - check the wallet connection
/disconnect - drop the wallet session
/approve <amount> - approve USDC spending
/openmarket - open a market position
/openlimit - place a limit order
/opentrades - list your recent trades
/close <n> - close trade n from the list
/cancelorder <n> - cancel limit order n
/cancel - abort the current trade flow`

func (r *Router) connect(ctx context.Context, chatID int64) {
	uri, tempTopic, err := r.broker.StartPairing(ctx, chatID)
	if err != nil {
		r.send(ctx, chatID, "Could not start wallet pairing, try again later.")
		r.logHandlerErr(chatID, "connect", err)
		return
	}
	r.send(ctx, chatID, "Open your wallet and approve this connection:\n\n"+uri)

	outcome := r.broker.AwaitApproval(ctx, chatID, tempTopic)
	if !outcome.Connected {
		r.send(ctx, chatID, "Wallet connection was not approved in time. Use /connect to retry.")
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Wallet connected: %s", outcome.Address))
}

func (r *Router) disconnect(ctx context.Context, chatID int64) {
	if err := r.broker.Disconnect(ctx, chatID); err != nil {
		r.send(ctx, chatID, "No active wallet session.")
		return
	}
	r.send(ctx, chatID, "Wallet disconnected.")
}

func (r *Router) verify(ctx context.Context, chatID int64) {
	sess, err := r.broker.Verify(ctx, chatID)
	if err != nil {
		r.send(ctx, chatID, "No live wallet session. Use /connect to pair one.")
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Wallet session is live: %s", sess.Address))
}

func (r *Router) approve(ctx context.Context, chatID int64, arg string) {
	amount, err := strconv.ParseFloat(arg, 64)
	if err != nil || amount <= 0 {
		r.send(ctx, chatID, "Usage: /approve <amount in USDC>")
		return
	}
	txHash, err := r.engine.Approve(ctx, chatID, amount)
	if err != nil {
		r.send(ctx, chatID, "Approval failed: "+userError(err))
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Approval submitted.\nTx: %s", txHash))
}

func (r *Router) startFlow(ctx context.Context, chatID int64, kind domain.OrderKind) {
	if err := r.engine.Start(ctx, chatID, kind); err != nil {
		r.send(ctx, chatID, "Cannot start a trade: "+userError(err))
	}
}

func (r *Router) listTrades(ctx context.Context, chatID int64) {
	trades, err := r.recentTrades(ctx, chatID)
	if err != nil {
		r.send(ctx, chatID, "Trade history is unavailable right now.")
		return
	}
	if len(trades) == 0 {
		r.send(ctx, chatID, "No trades yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Your recent trades:\n")
	for i, t := range trades {
		dir := "short"
		if t.Buy {
			dir = "long"
		}
		fmt.Fprintf(&b, "%d. %s %s %s %.2f USDC @ %gx [%s]\n",
			i+1, t.Pair, string(t.Kind), dir, t.SizeUSD, t.Leverage, t.Status)
	}
	b.WriteString("\nUse /close <n> or /cancelorder <n>.")
	r.send(ctx, chatID, b.String())
}

func (r *Router) closeTrade(ctx context.Context, chatID int64, arg string) {
	rec, ok := r.tradeByIndex(ctx, chatID, arg)
	if !ok {
		return
	}
	txHash, err := r.engine.CloseTrade(ctx, chatID, rec)
	if err != nil {
		r.send(ctx, chatID, "Close failed: "+userError(err))
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Close submitted.\nTx: %s", txHash))
}

func (r *Router) cancelOrder(ctx context.Context, chatID int64, arg string) {
	rec, ok := r.tradeByIndex(ctx, chatID, arg)
	if !ok {
		return
	}
	if rec.Kind != domain.OrderLimit {
		r.send(ctx, chatID, "That trade is not a limit order.")
		return
	}
	txHash, err := r.engine.CancelOrder(ctx, chatID, rec)
	if err != nil {
		r.send(ctx, chatID, "Cancel failed: "+userError(err))
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Cancel submitted.\nTx: %s", txHash))
}

// tradeByIndex resolves a 1-based index from /opentrades output.
func (r *Router) tradeByIndex(ctx context.Context, chatID int64, arg string) (domain.TradeRecord, bool) {
	idx, err := strconv.Atoi(arg)
	if err != nil || idx < 1 {
		r.send(ctx, chatID, "Give the trade number from /opentrades.")
		return domain.TradeRecord{}, false
	}
	trades, err := r.recentTrades(ctx, chatID)
	if err != nil || idx > len(trades) {
		r.send(ctx, chatID, "No such trade. Check /opentrades.")
		return domain.TradeRecord{}, false
	}
	return trades[idx-1], true
}

func (r *Router) recentTrades(ctx context.Context, chatID int64) ([]domain.TradeRecord, error) {
	if r.trades == nil {
		return nil, domain.ErrNotFound
	}
	return r.trades.ListByChat(ctx, chatID, domain.ListOpts{Limit: 10})
}

// userError maps domain errors onto phrasing safe to show a user.
func userError(err error) string {
	if err == nil {
		return ""
	}
	for _, known := range []error{
		domain.ErrSessionNotFound,
		domain.ErrSessionExpired,
		domain.ErrBridgeUnavailable,
		domain.ErrInsufficientBalance,
	} {
		if errors.Is(err, known) {
			return known.Error() + "."
		}
	}
	return "something went wrong, try again."
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	if _, err := r.tg.Send(ctx, chatID, text); err != nil {
		r.logger.Warn("send failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) logHandlerErr(chatID int64, op string, err error) {
	r.logger.Warn("handler error",
		slog.Int64("chat_id", chatID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
