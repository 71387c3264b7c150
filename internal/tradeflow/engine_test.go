package tradeflow

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvvvp009/avantisbot/internal/domain"
	"github.com/bvvvp009/avantisbot/internal/walletbridge"
)

type fakeChat struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeChat) Send(_ context.Context, _ int64, text string) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return domain.MessageRef{}, nil
}

func (f *fakeChat) SendKeyboard(_ context.Context, _ int64, text string, _ [][]domain.Button) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return domain.MessageRef{}, nil
}

func (f *fakeChat) Edit(context.Context, domain.MessageRef, string) error { return nil }

type fakePrices struct{ price float64 }

func (f *fakePrices) Price(context.Context, string) (float64, error) { return f.price, nil }

type fakeTokens struct {
	balance   *big.Int
	allowance *big.Int
}

func (f *fakeTokens) BalanceOf(context.Context, string, string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeTokens) Allowance(context.Context, string, string, string) (*big.Int, error) {
	return f.allowance, nil
}

type fakeSessions struct{ sess *domain.Session }

func (f *fakeSessions) LookupByChat(int64) *domain.Session { return f.sess }

type fakeSigner struct {
	mu     sync.Mutex
	hashes []string
	datas  []string
	next   string
}

func (f *fakeSigner) Submit(_ context.Context, _ int64, tx walletbridge.TxParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := f.next
	if hash == "" {
		hash = "0xhash"
	}
	f.hashes = append(f.hashes, hash)
	f.datas = append(f.datas, tx.Data)
	return hash, nil
}

type trackedCall struct {
	txHash string
	kind   domain.RequestKind
	report func(domain.Outcome)
}

type fakeTracker struct {
	mu    sync.Mutex
	calls []trackedCall
}

func (f *fakeTracker) Track(_ context.Context, _ int64, txHash string, kind domain.RequestKind, report func(domain.Outcome)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trackedCall{txHash: txHash, kind: kind, report: report})
	return nil
}

func (f *fakeTracker) last(t *testing.T) trackedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

type harness struct {
	engine   *Engine
	chat     *fakeChat
	signer   *fakeSigner
	tracker  *fakeTracker
	tokens   *fakeTokens
	sessions *fakeSessions
}

func newHarness() *harness {
	pairs := domain.PairTable{
		"BTC": {Name: "BTC", Index: 0, MaxLeverage: 50},
		"ETH": {Name: "ETH", Index: 1, MaxLeverage: 50},
	}
	h := &harness{
		chat:    &fakeChat{},
		signer:  &fakeSigner{},
		tracker: &fakeTracker{},
		tokens: &fakeTokens{
			balance:   big.NewInt(1_000_000_000), // 1000 USDC
			allowance: big.NewInt(1_000_000_000),
		},
		sessions: &fakeSessions{sess: &domain.Session{
			ChatID:     42,
			FinalTopic: "topic-final",
			Address:    "0x1111111111111111111111111111111111111111",
			Status:     domain.SessionConnected,
		}},
	}
	h.engine = New(
		pairs,
		&fakePrices{price: 100},
		h.tokens,
		h.sessions,
		h.signer,
		h.tracker,
		nil,
		nil,
		h.chat,
		Contracts{
			USDC:    "0x2222222222222222222222222222222222222222",
			Trading: "0x3333333333333333333333333333333333333333",
			Spender: "0x3333333333333333333333333333333333333333",
		},
		slog.New(slog.DiscardHandler),
	)
	return h
}

func TestMarketFlowHappyPath(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "10"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "sltp:no"))

	// One submission, tracked as an open trade.
	require.Len(t, h.signer.hashes, 1)
	call := h.tracker.last(t)
	assert.Equal(t, domain.RequestOpenTrade, call.kind)

	state, ok := h.engine.State(42)
	require.True(t, ok)
	assert.Equal(t, domain.StageExecute, state.Stage)
	assert.Zero(t, *state.StopLoss)
	assert.Zero(t, *state.TakeProfit)

	// Terminal outcome clears the flow.
	call.report(domain.Outcome{Status: domain.RequestConfirmed, TxHash: call.txHash, ChatID: 42})
	assert.False(t, h.engine.Active(42))
}

func TestInvalidInputDoesNotAdvance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))

	require.NoError(t, h.engine.HandleMessage(ctx, 42, "not-a-number"))
	state, _ := h.engine.State(42)
	assert.Equal(t, domain.StageSizeInput, state.Stage)

	require.NoError(t, h.engine.HandleMessage(ctx, 42, "-5"))
	state, _ = h.engine.State(42)
	assert.Equal(t, domain.StageSizeInput, state.Stage)
	assert.Nil(t, state.SizeUSD)
}

func TestLeverageBoundEnforced(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))

	require.NoError(t, h.engine.HandleMessage(ctx, 42, "500")) // above max 50
	state, _ := h.engine.State(42)
	assert.Equal(t, domain.StageLeverageInput, state.Stage)
	assert.Nil(t, state.Leverage)
}

func TestStartSupersedesActiveFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))

	// A new command mid-flow starts over.
	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderLimit))
	state, ok := h.engine.State(42)
	require.True(t, ok)
	assert.Equal(t, domain.StagePairSelection, state.Stage)
	assert.Equal(t, domain.OrderLimit, state.Kind)
	assert.Nil(t, state.Buy)
}

func TestStartWithoutSessionFails(t *testing.T) {
	h := newHarness()
	h.sessions.sess = nil
	err := h.engine.Start(context.Background(), 42, domain.OrderMarket)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestApprovalSubflow(t *testing.T) {
	h := newHarness()
	h.tokens.allowance = big.NewInt(0)
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))

	state, _ := h.engine.State(42)
	require.Equal(t, domain.StageAllowanceCheck, state.Stage)

	require.NoError(t, h.engine.HandleCallback(ctx, 42, "approve:yes"))
	call := h.tracker.last(t)
	require.Equal(t, domain.RequestApprove, call.kind)

	// Confirmed approval resumes at leverage.
	call.report(domain.Outcome{Status: domain.RequestConfirmed, ChatID: 42})
	state, _ = h.engine.State(42)
	assert.Equal(t, domain.StageLeverageInput, state.Stage)
}

func TestApprovalDeclinedCancelsFlow(t *testing.T) {
	h := newHarness()
	h.tokens.allowance = big.NewInt(0)
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "approve:no"))

	assert.False(t, h.engine.Active(42))
	assert.Empty(t, h.signer.hashes)
}

func TestApprovalTimeoutCancelsFlow(t *testing.T) {
	h := newHarness()
	h.tokens.allowance = big.NewInt(0)
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "approve:yes"))

	call := h.tracker.last(t)
	call.report(domain.Outcome{Status: domain.RequestTimedOut, ChatID: 42, Err: domain.ErrConfirmationTimeout})
	assert.False(t, h.engine.Active(42))
}

func TestStopLossClampedDuringFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC")) // mark price 100
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "10"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "sltp:yes"))

	// 90 is below the 92.6 floor at 10x; the engine clamps it.
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "90"))
	state, _ := h.engine.State(42)
	require.NotNil(t, state.StopLoss)
	assert.InDelta(t, 92.6, *state.StopLoss, 1e-9)
	assert.Equal(t, domain.StageTakeProfitInput, state.Stage)
}

func TestStopLossWrongSideRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "10"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "sltp:yes"))

	// A stop-loss above entry makes no sense for a long.
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "110"))
	state, _ := h.engine.State(42)
	assert.Equal(t, domain.StageStopLossInput, state.Stage)
	assert.Nil(t, state.StopLoss)
}

func TestLimitFlowCollectsLimitPrice(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderLimit))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:ETH"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:short"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "50"))
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "5"))

	state, _ := h.engine.State(42)
	require.Equal(t, domain.StageLimitPriceInput, state.Stage)

	require.NoError(t, h.engine.HandleMessage(ctx, 42, "105"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "sltp:yes"))

	// Short at 105 @ 5x: ceiling 105 + 0.74*105/5 = 120.54; 130 clamps.
	require.NoError(t, h.engine.HandleMessage(ctx, 42, "130"))
	state, _ = h.engine.State(42)
	require.NotNil(t, state.StopLoss)
	assert.InDelta(t, 120.54, *state.StopLoss, 1e-9)

	require.NoError(t, h.engine.HandleMessage(ctx, 42, "skip"))
	state, _ = h.engine.State(42)
	assert.Equal(t, domain.StageExecute, state.Stage)
	assert.Zero(t, *state.TakeProfit)
}

func TestConcurrentInputsApplyOneAtATime(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))

	// Two copies of the same size message land at once, as the update
	// dispatcher delivers them on separate goroutines. Exactly one may be
	// consumed as the size; the other arrives at the leverage stage, where
	// 100 is over the 50x cap and is rejected.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.engine.HandleMessage(ctx, 42, "100"))
		}()
	}
	wg.Wait()

	state, ok := h.engine.State(42)
	require.True(t, ok)
	assert.Equal(t, domain.StageLeverageInput, state.Stage)
	require.NotNil(t, state.SizeUSD)
	assert.Equal(t, 100.0, *state.SizeUSD)
	assert.Nil(t, state.Leverage)
	assert.Empty(t, h.signer.hashes)
}

func TestInsufficientBalanceRepromptsSize(t *testing.T) {
	h := newHarness()
	h.tokens.balance = big.NewInt(10_000_000) // 10 USDC
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx, 42, domain.OrderMarket))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "pair:BTC"))
	require.NoError(t, h.engine.HandleCallback(ctx, 42, "dir:long"))

	err := h.engine.HandleMessage(ctx, 42, "100")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	state, _ := h.engine.State(42)
	assert.Equal(t, domain.StageSizeInput, state.Stage)
}
