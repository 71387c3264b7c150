package domain

import "context"

// Button is one inline-keyboard button: a label and the callback token
// delivered when it is pressed.
type Button struct {
	Label string
	Data  string
}

// MessageRef identifies a previously sent chat message for later edits.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ChatSurface is the outbound side of the chat boundary. Formatting and
// keyboard layout live behind this interface so the engine never touches the
// chat transport directly.
type ChatSurface interface {
	Send(ctx context.Context, chatID int64, text string) (MessageRef, error)
	SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]Button) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
}
