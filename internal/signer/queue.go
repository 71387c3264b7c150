package signer

import (
	"context"
	"log/slog"
	"sync"
)

// Queue serializes work per chat id in submission order. Work for different
// chats runs independently; work for one chat runs strictly one at a time,
// first in first out.
type Queue struct {
	mu     sync.Mutex
	chats  map[int64]*chatQueue
	logger *slog.Logger
}

type chatQueue struct {
	pending []*queued
	running bool
}

type queued struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// NewQueue creates an empty Queue.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		chats:  make(map[int64]*chatQueue),
		logger: logger.With(slog.String("component", "submit_queue")),
	}
}

// Run enqueues fn for the chat and blocks until it has run (or the caller's
// context is cancelled before its turn comes, in which case the entry is
// skipped when dequeued).
func (q *Queue) Run(ctx context.Context, chatID int64, fn func(context.Context) error) error {
	item := &queued{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	cq, ok := q.chats[chatID]
	if !ok {
		cq = &chatQueue{}
		q.chats[chatID] = cq
	}
	cq.pending = append(cq.pending, item)
	if !cq.running {
		cq.running = true
		go q.drain(chatID, cq)
	}
	q.mu.Unlock()

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs the chat's queue to completion, then parks the worker.
func (q *Queue) drain(chatID int64, cq *chatQueue) {
	for {
		q.mu.Lock()
		if len(cq.pending) == 0 {
			cq.running = false
			delete(q.chats, chatID)
			q.mu.Unlock()
			return
		}
		item := cq.pending[0]
		cq.pending = cq.pending[1:]
		q.mu.Unlock()

		if err := item.ctx.Err(); err != nil {
			// Caller gave up while queued.
			item.done <- err
			continue
		}
		item.done <- item.fn(item.ctx)
	}
}

// Pending returns the queue depth for a chat, counting the in-flight item's
// successors only.
func (q *Queue) Pending(chatID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cq, ok := q.chats[chatID]; ok {
		return len(cq.pending)
	}
	return 0
}
