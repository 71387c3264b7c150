package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"startup", "error"}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "startup", "Bot started", ""))
	require.NoError(t, n.Notify(context.Background(), "shutdown", "Bot stopping", ""))
	assert.Equal(t, []string{"Bot started"}, s.titles)
}

func TestNotifyEmptyFilterForwardsEverything(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifyFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("boom")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "error", "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, bad.err)
	assert.Len(t, good.titles, 1)
}
