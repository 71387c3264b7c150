// Package session holds the live wallet-pairing state: an in-memory keyed
// store with temp-to-final topic remapping and expiry, plus the broker that
// drives the pairing handshake against the wallet bridge.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

const (
	// PendingTTL is how long an unapproved pairing stays alive.
	PendingTTL = 60 * time.Second
	// ConnectedTTL is how long an approved session stays alive without
	// activity.
	ConnectedTTL = 24 * time.Hour
)

// Store keeps every live session keyed by topic. A session inserted under a
// temporary topic gains a second key when the wallet approves; lookups by
// either id observe the same record. Expiry is enforced twice: a per-record
// timer, and a periodic sweep that catches records whose timer was lost.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	mapping  map[string]string // temp topic -> final topic
	timers   map[string]*time.Timer
	logger   *slog.Logger

	pendingTTL   time.Duration
	connectedTTL time.Duration
}

// NewStore creates an empty Store with the default TTLs.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		sessions:     make(map[string]*domain.Session),
		mapping:      make(map[string]string),
		timers:       make(map[string]*time.Timer),
		logger:       logger.With(slog.String("component", "session_store")),
		pendingTTL:   PendingTTL,
		connectedTTL: ConnectedTTL,
	}
}

// SetTTLs overrides the pending and connected TTLs. Must be called before the
// store is used; intended for tests.
func (s *Store) SetTTLs(pending, connected time.Duration) {
	s.pendingTTL = pending
	s.connectedTTL = connected
}

// Create inserts a pending session under its temporary topic and arms the
// short expiry timer. An existing record under the same topic is replaced.
func (s *Store) Create(tempTopic string, sess domain.Session) {
	now := time.Now().UTC()
	sess.TempTopic = tempTopic
	if sess.Status == "" {
		sess.Status = domain.SessionPending
	}
	sess.CreatedAt = now
	sess.LastActivityAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tempTopic] = &sess
	s.armTimerLocked(tempTopic, s.pendingTTL)
}

// Restore inserts an already connected session under its final topic and
// arms the long-lived timer. Used for startup recovery.
func (s *Store) Restore(sess domain.Session) {
	if sess.FinalTopic == "" {
		return
	}
	sess.LastActivityAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.FinalTopic] = &sess
	if sess.TempTopic != "" && sess.TempTopic != sess.FinalTopic {
		s.mapping[sess.TempTopic] = sess.FinalTopic
	}
	s.armTimerLocked(sess.FinalTopic, s.connectedTTL)
}

// Resolve records wallet approval: it cancels the pending timer, stores the
// connected record under the final topic, points the temporary topic at it,
// and arms the long-lived timer. Calling Resolve twice for the same temporary
// topic is a no-op after the first; duplicate approval callbacks happen.
func (s *Store) Resolve(tempTopic, finalTopic, address string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.mapping[tempTopic]; done {
		return
	}
	prev, ok := s.sessions[tempTopic]
	if !ok {
		// Pairing already expired; the approval arrived too late.
		s.logger.Warn("resolve for unknown temp topic", slog.String("topic", tempTopic))
		return
	}

	s.cancelTimerLocked(tempTopic)
	s.mapping[tempTopic] = finalTopic

	connected := *prev
	connected.FinalTopic = finalTopic
	connected.Address = address
	connected.Status = domain.SessionConnected
	connected.Error = ""
	connected.LastActivityAt = now

	s.sessions[finalTopic] = &connected
	s.sessions[tempTopic] = &connected
	s.armTimerLocked(finalTopic, s.connectedTTL)
}

// Lookup returns the session for a topic, following the temp-to-final mapping
// when needed. Unknown topics return nil.
func (s *Store) Lookup(topic string) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(topic)
}

func (s *Store) lookupLocked(topic string) *domain.Session {
	if sess, ok := s.sessions[topic]; ok {
		return sess
	}
	if final, ok := s.mapping[topic]; ok {
		return s.sessions[final]
	}
	return nil
}

// LookupByChat returns the live session for a chat, or nil.
func (s *Store) LookupByChat(chatID int64) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ChatID == chatID {
			return sess
		}
	}
	return nil
}

// Clear removes the record under the given topic and any mapped counterpart,
// cancelling their timers. Clearing an unknown topic is a no-op.
func (s *Store) Clear(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(topic)
}

func (s *Store) clearLocked(topic string) {
	final := topic
	if mapped, ok := s.mapping[topic]; ok {
		final = mapped
	}
	s.cancelTimerLocked(topic)
	s.cancelTimerLocked(final)
	delete(s.sessions, topic)
	delete(s.sessions, final)
	delete(s.mapping, topic)
	// The record may also be reachable through its original temp topic.
	if sess, ok := s.sessions[final]; ok && sess != nil {
		delete(s.sessions, sess.TempTopic)
		delete(s.mapping, sess.TempTopic)
	}
	for temp, f := range s.mapping {
		if f == final {
			delete(s.mapping, temp)
			delete(s.sessions, temp)
			s.cancelTimerLocked(temp)
		}
	}
}

// UpdateStatus sets the status (and optional error text) on the session
// reachable by topic. Unknown topics are ignored.
func (s *Store) UpdateStatus(topic string, status domain.SessionStatus, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(topic)
	if sess == nil {
		return
	}
	sess.Status = status
	sess.Error = errText
	sess.LastActivityAt = time.Now().UTC()
}

// Touch refreshes the activity timestamp used by the sweep.
func (s *Store) Touch(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.lookupLocked(topic); sess != nil {
		sess.LastActivityAt = time.Now().UTC()
	}
}

// Sweep removes every record whose last activity exceeds its TTL. It covers
// timer-delivery failures; a record reaped by both the timer and the sweep is
// removed once. Returns the number of sessions cleared.
func (s *Store) Sweep() int {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for topic, sess := range s.sessions {
		ttl := s.connectedTTL
		if sess.Status == domain.SessionPending {
			ttl = s.pendingTTL
		}
		if now.Sub(sess.LastActivityAt) > ttl {
			expired = append(expired, topic)
		}
	}
	for _, topic := range expired {
		// A shared record may already be gone via its other key.
		if _, ok := s.sessions[topic]; ok {
			s.logger.Info("session expired", slog.String("topic", topic))
			s.clearLocked(topic)
		}
	}
	return len(expired)
}

// Len returns the number of live records (temp and final keys counted once
// each).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// armTimerLocked schedules expiry for a topic, replacing any previous timer.
func (s *Store) armTimerLocked(topic string, ttl time.Duration) {
	s.cancelTimerLocked(topic)
	s.timers[topic] = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.sessions[topic]; ok {
			s.logger.Info("session timer expired", slog.String("topic", topic))
			s.clearLocked(topic)
		}
	})
}

func (s *Store) cancelTimerLocked(topic string) {
	if t, ok := s.timers[topic]; ok {
		t.Stop()
		delete(s.timers, topic)
	}
}

// RunSweeper runs Sweep on the given interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("sweep reclaimed sessions", slog.Int("count", n))
			}
		}
	}
}
