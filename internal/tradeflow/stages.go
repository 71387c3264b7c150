package tradeflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bvvvp009/avantisbot/internal/chain"
	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

// Callback data tokens. The chat router forwards inline-button presses as
// "<prefix>:<value>" strings.
const (
	cbPair    = "pair"
	cbDir     = "dir"
	cbSLTP    = "sltp"
	cbApprove = "approve"
)

// skipToken lets the user pass on an optional input.
const skipToken = "skip"

// HandleCallback advances the chat's flow with an inline-button press.
// Tokens that do not belong to the current stage are answered with a
// re-prompt and do not advance the stage. The chat's flow lock is held for
// the full body: two presses from the same chat are applied one at a time.
func (e *Engine) HandleCallback(ctx context.Context, chatID int64, data string) error {
	l := e.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	state := e.lookup(chatID)
	if state == nil {
		return domain.ErrNotFound
	}

	prefix, value, _ := strings.Cut(data, ":")
	switch {
	case state.Stage == domain.StagePairSelection && prefix == cbPair:
		return e.onPairSelected(ctx, state, value)
	case state.Stage == domain.StageDirection && prefix == cbDir:
		return e.onDirectionSelected(ctx, state, value)
	case state.Stage == domain.StageSLTPChoice && prefix == cbSLTP:
		return e.onSLTPChoice(ctx, state, value)
	case state.Stage == domain.StageAllowanceCheck && prefix == cbApprove:
		return e.onApproveChoice(ctx, state, value)
	default:
		e.send(ctx, chatID, "That button does not match the current step.")
		return e.reprompt(ctx, state)
	}
}

// HandleMessage advances the chat's flow with a typed input. Invalid input
// re-prompts the same stage.
func (e *Engine) HandleMessage(ctx context.Context, chatID int64, text string) error {
	l := e.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	state := e.lookup(chatID)
	if state == nil {
		return domain.ErrNotFound
	}

	text = strings.TrimSpace(text)
	switch state.Stage {
	case domain.StageSizeInput:
		return e.onSizeInput(ctx, state, text)
	case domain.StageLeverageInput:
		return e.onLeverageInput(ctx, state, text)
	case domain.StageLimitPriceInput:
		return e.onLimitPriceInput(ctx, state, text)
	case domain.StageStopLossInput:
		return e.onStopLossInput(ctx, state, text)
	case domain.StageTakeProfitInput:
		return e.onTakeProfitInput(ctx, state, text)
	default:
		e.send(ctx, chatID, "Please use the buttons above.")
		return nil
	}
}

func (e *Engine) onPairSelected(ctx context.Context, state *domain.TradeFlowState, name string) error {
	pair, ok := e.pairs[name]
	if !ok {
		e.send(ctx, state.ChatID, "Unknown pair.")
		return e.promptPair(ctx, state.ChatID)
	}

	price, err := e.prices.Price(ctx, pair.Name)
	if err != nil {
		e.logger.Warn("price fetch failed",
			slog.String("pair", pair.Name),
			slog.String("error", err.Error()),
		)
		e.send(ctx, state.ChatID, "Price feed unavailable, try again shortly.")
		return e.promptPair(ctx, state.ChatID)
	}

	state.Pair = pair.Name
	state.MarkPrice = price
	state.Stage = domain.StageDirection
	e.snapshot(ctx, state)

	_, err = e.chat.SendKeyboard(ctx, state.ChatID,
		fmt.Sprintf("%s is at %.4f. Long or short?", pair.Name, price),
		[][]domain.Button{{
			{Label: "Long", Data: cbDir + ":long"},
			{Label: "Short", Data: cbDir + ":short"},
		}},
	)
	return err
}

func (e *Engine) onDirectionSelected(ctx context.Context, state *domain.TradeFlowState, value string) error {
	var buy bool
	switch value {
	case "long":
		buy = true
	case "short":
		buy = false
	default:
		return e.reprompt(ctx, state)
	}

	state.Buy = &buy
	state.Stage = domain.StageSizeInput
	e.snapshot(ctx, state)
	e.send(ctx, state.ChatID, "Enter the position size in USDC:")
	return nil
}

func (e *Engine) onSizeInput(ctx context.Context, state *domain.TradeFlowState, text string) error {
	size, err := parsePositive(text)
	if err != nil {
		e.send(ctx, state.ChatID, "Size must be a positive number. Enter the position size in USDC:")
		return nil
	}

	state.SizeUSD = &size
	e.snapshot(ctx, state)
	return e.runAllowanceGate(ctx, state)
}

// runAllowanceGate checks balance and spending allowance for the collected
// size. A sufficient allowance skips straight to leverage; otherwise the
// approval sub-flow is offered.
func (e *Engine) runAllowanceGate(ctx context.Context, state *domain.TradeFlowState) error {
	sess := e.sessions.LookupByChat(state.ChatID)
	if sess == nil || !sess.Connected() {
		e.Reset(ctx, state.ChatID)
		return domain.ErrSessionNotFound
	}

	required := chain.ToUnits(*state.SizeUSD, chain.USDCDecimals)

	balance, err := e.tokens.BalanceOf(ctx, e.contracts.USDC, sess.Address)
	if err != nil {
		e.logger.Warn("balance read failed",
			slog.Int64("chat_id", state.ChatID),
			slog.String("error", err.Error()),
		)
		e.send(ctx, state.ChatID, "Could not read your balance, try again. Enter the position size in USDC:")
		return nil
	}
	if balance.Cmp(required) < 0 {
		e.send(ctx, state.ChatID, fmt.Sprintf(
			"Insufficient USDC balance (%.2f available). Enter a smaller size:",
			chain.FromUnits(balance, chain.USDCDecimals),
		))
		return domain.ErrInsufficientBalance
	}

	allowance, err := e.tokens.Allowance(ctx, e.contracts.USDC, sess.Address, e.contracts.Spender)
	if err != nil {
		e.logger.Warn("allowance read failed",
			slog.Int64("chat_id", state.ChatID),
			slog.String("error", err.Error()),
		)
		e.send(ctx, state.ChatID, "Could not read your allowance, try again. Enter the position size in USDC:")
		return nil
	}

	if allowance.Cmp(required) >= 0 {
		return e.advanceToLeverage(ctx, state)
	}

	state.Stage = domain.StageAllowanceCheck
	e.snapshot(ctx, state)
	_, err = e.chat.SendKeyboard(ctx, state.ChatID,
		fmt.Sprintf("Spending approval needed for %.2f USDC. Approve now?", *state.SizeUSD),
		[][]domain.Button{{
			{Label: "Approve", Data: cbApprove + ":yes"},
			{Label: "Decline", Data: cbApprove + ":no"},
		}},
	)
	return err
}

func (e *Engine) onApproveChoice(ctx context.Context, state *domain.TradeFlowState, value string) error {
	if value != "yes" {
		chatID := state.ChatID
		e.Reset(ctx, chatID)
		e.send(ctx, chatID, "Approval declined. Trade cancelled.")
		return nil
	}

	sess := e.sessions.LookupByChat(state.ChatID)
	if sess == nil || !sess.Connected() {
		e.Reset(ctx, state.ChatID)
		return domain.ErrSessionNotFound
	}

	data, err := chain.EncodeApprove(e.contracts.Spender, *state.SizeUSD)
	if err != nil {
		e.Reset(ctx, state.ChatID)
		return fmt.Errorf("tradeflow: encode approve: %w", err)
	}

	txHash, err := e.signer.Submit(ctx, state.ChatID, walletbridge.TxParams{
		From:  sess.Address,
		To:    e.contracts.USDC,
		Data:  data,
		Value: "0x0",
	})
	if err != nil {
		chatID := state.ChatID
		e.Reset(ctx, chatID)
		e.send(ctx, chatID, "Approval submission failed. Trade cancelled.")
		return fmt.Errorf("tradeflow: submit approve: %w", err)
	}

	e.send(ctx, state.ChatID, "Approval submitted, waiting for confirmation...")

	chatID := state.ChatID
	err = e.monitor.Track(ctx, chatID, txHash, domain.RequestApprove, func(out domain.Outcome) {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.resumeAfterApproval(bg, chatID, out)
	})
	if err != nil {
		e.Reset(ctx, chatID)
		return fmt.Errorf("tradeflow: track approve: %w", err)
	}
	return nil
}

// resumeAfterApproval continues the flow once the approval transaction
// reaches a terminal state. It runs on the monitor's goroutine, so it takes
// the chat's flow lock like any other input. The flow may have been reset in
// the meantime; then the outcome is dropped.
func (e *Engine) resumeAfterApproval(ctx context.Context, chatID int64, out domain.Outcome) {
	l := e.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	state := e.lookup(chatID)
	if state == nil || state.Stage != domain.StageAllowanceCheck {
		return
	}

	if out.Status != domain.RequestConfirmed {
		e.Reset(ctx, chatID)
		e.send(ctx, chatID, "Approval did not confirm. Trade cancelled.")
		return
	}

	e.send(ctx, chatID, "Approval confirmed.")
	if err := e.advanceToLeverage(ctx, state); err != nil {
		e.logger.Warn("resume after approval failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) advanceToLeverage(ctx context.Context, state *domain.TradeFlowState) error {
	state.Stage = domain.StageLeverageInput
	e.snapshot(ctx, state)
	max := e.pairs[state.Pair].MaxLeverage
	e.send(ctx, state.ChatID, fmt.Sprintf("Enter leverage (1-%.0f):", max))
	return nil
}

func (e *Engine) onLeverageInput(ctx context.Context, state *domain.TradeFlowState, text string) error {
	lev, err := parsePositive(text)
	max := e.pairs[state.Pair].MaxLeverage
	if err != nil || lev < 1 || lev > max {
		e.send(ctx, state.ChatID, fmt.Sprintf("Leverage must be between 1 and %.0f. Enter leverage:", max))
		return nil
	}

	state.Leverage = &lev
	if state.Kind == domain.OrderLimit {
		state.Stage = domain.StageLimitPriceInput
		e.snapshot(ctx, state)
		e.send(ctx, state.ChatID, fmt.Sprintf("Enter the limit price (current: %.4f):", state.MarkPrice))
		return nil
	}
	return e.promptSLTPChoice(ctx, state)
}

func (e *Engine) onLimitPriceInput(ctx context.Context, state *domain.TradeFlowState, text string) error {
	price, err := parsePositive(text)
	if err != nil {
		e.send(ctx, state.ChatID, "Limit price must be a positive number. Enter the limit price:")
		return nil
	}

	state.LimitPrice = &price
	return e.promptSLTPChoice(ctx, state)
}

func (e *Engine) promptSLTPChoice(ctx context.Context, state *domain.TradeFlowState) error {
	state.Stage = domain.StageSLTPChoice
	e.snapshot(ctx, state)
	_, err := e.chat.SendKeyboard(ctx, state.ChatID,
		"Set stop-loss and take-profit?",
		[][]domain.Button{{
			{Label: "Yes", Data: cbSLTP + ":yes"},
			{Label: "No", Data: cbSLTP + ":no"},
		}},
	)
	return err
}

func (e *Engine) onSLTPChoice(ctx context.Context, state *domain.TradeFlowState, value string) error {
	switch value {
	case "no":
		zero := 0.0
		state.StopLoss = &zero
		tpZero := 0.0
		state.TakeProfit = &tpZero
		return e.execute(ctx, state)
	case "yes":
		state.Stage = domain.StageStopLossInput
		e.snapshot(ctx, state)
		e.send(ctx, state.ChatID, fmt.Sprintf(
			"Enter the stop-loss price (reference: %.4f), or \"skip\":", e.referencePrice(state)))
		return nil
	default:
		return e.reprompt(ctx, state)
	}
}

func (e *Engine) onStopLossInput(ctx context.Context, state *domain.TradeFlowState, text string) error {
	if strings.EqualFold(text, skipToken) {
		zero := 0.0
		state.StopLoss = &zero
		return e.advanceToTakeProfit(ctx, state)
	}

	sl, err := parsePositive(text)
	if err != nil {
		e.send(ctx, state.ChatID, "Stop-loss must be a positive number or \"skip\". Enter the stop-loss price:")
		return nil
	}

	ref := e.referencePrice(state)
	long := *state.Buy
	if (long && sl >= ref) || (!long && sl <= ref) {
		side := "below"
		if !long {
			side = "above"
		}
		e.send(ctx, state.ChatID, fmt.Sprintf(
			"Stop-loss must be %s the entry price (%.4f). Enter the stop-loss price:", side, ref))
		return nil
	}

	effective := ClampStopLoss(ref, *state.Leverage, sl, long)
	if effective != sl {
		e.send(ctx, state.ChatID, fmt.Sprintf(
			"Stop-loss adjusted to %.4f (platform maximum for %gx leverage).", effective, *state.Leverage))
	}

	state.StopLoss = &effective
	return e.advanceToTakeProfit(ctx, state)
}

func (e *Engine) advanceToTakeProfit(ctx context.Context, state *domain.TradeFlowState) error {
	state.Stage = domain.StageTakeProfitInput
	e.snapshot(ctx, state)
	e.send(ctx, state.ChatID, fmt.Sprintf(
		"Enter the take-profit price (reference: %.4f), or \"skip\":", e.referencePrice(state)))
	return nil
}

func (e *Engine) onTakeProfitInput(ctx context.Context, state *domain.TradeFlowState, text string) error {
	if strings.EqualFold(text, skipToken) {
		zero := 0.0
		state.TakeProfit = &zero
		return e.execute(ctx, state)
	}

	tp, err := parsePositive(text)
	if err != nil {
		e.send(ctx, state.ChatID, "Take-profit must be a positive number or \"skip\". Enter the take-profit price:")
		return nil
	}

	ref := e.referencePrice(state)
	long := *state.Buy
	if (long && tp <= ref) || (!long && tp >= ref) {
		side := "above"
		if !long {
			side = "below"
		}
		e.send(ctx, state.ChatID, fmt.Sprintf(
			"Take-profit must be %s the entry price (%.4f). Enter the take-profit price:", side, ref))
		return nil
	}

	state.TakeProfit = &tp
	return e.execute(ctx, state)
}

// referencePrice is the entry price stop-loss and take-profit are measured
// against: the limit price for limit orders, the captured mark price
// otherwise.
func (e *Engine) referencePrice(state *domain.TradeFlowState) float64 {
	if state.Kind == domain.OrderLimit && state.LimitPrice != nil {
		return *state.LimitPrice
	}
	return state.MarkPrice
}

// promptPair shows the pair keyboard, three pairs per row.
func (e *Engine) promptPair(ctx context.Context, chatID int64) error {
	names := e.pairs.Names()
	var rows [][]domain.Button
	var row []domain.Button
	for _, name := range names {
		row = append(row, domain.Button{Label: name, Data: cbPair + ":" + name})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	_, err := e.chat.SendKeyboard(ctx, chatID, "Choose a pair:", rows)
	return err
}

// reprompt repeats the current stage's prompt after an out-of-order input.
func (e *Engine) reprompt(ctx context.Context, state *domain.TradeFlowState) error {
	switch state.Stage {
	case domain.StagePairSelection:
		return e.promptPair(ctx, state.ChatID)
	case domain.StageDirection:
		_, err := e.chat.SendKeyboard(ctx, state.ChatID, "Long or short?",
			[][]domain.Button{{
				{Label: "Long", Data: cbDir + ":long"},
				{Label: "Short", Data: cbDir + ":short"},
			}})
		return err
	case domain.StageSLTPChoice:
		return e.promptSLTPChoice(ctx, state)
	default:
		return nil
	}
}

func parsePositive(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, domain.ErrInvalidInput
	}
	if v <= 0 || v != v || v > 1e15 {
		return 0, domain.ErrInvalidInput
	}
	return v, nil
}
