package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bvvvp009/avantisbot/internal/domain"
)

// SessionStore implements domain.SessionRecordStore using PostgreSQL. One
// row per chat; the in-memory session store is the live source of truth and
// writes through here for restart recovery.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionCols = `chat_id, temp_topic, final_topic, address, status, error,
	created_at, last_activity_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ChatID, &s.TempTopic, &s.FinalTopic, &s.Address,
		&s.Status, &s.Error, &s.CreatedAt, &s.LastActivityAt,
	)
	return s, err
}

// Upsert inserts or replaces the chat's session row.
func (s *SessionStore) Upsert(ctx context.Context, sess domain.Session) error {
	const query = `
		INSERT INTO wallet_sessions (
			chat_id, temp_topic, final_topic, address, status, error,
			created_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id) DO UPDATE SET
			temp_topic = EXCLUDED.temp_topic,
			final_topic = EXCLUDED.final_topic,
			address = EXCLUDED.address,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			last_activity_at = EXCLUDED.last_activity_at`

	_, err := s.pool.Exec(ctx, query,
		sess.ChatID, sess.TempTopic, sess.FinalTopic, sess.Address,
		sess.Status, sess.Error, sess.CreatedAt, sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session chat %d: %w", sess.ChatID, err)
	}
	return nil
}

// GetByChat returns the chat's session row, or domain.ErrNotFound.
func (s *SessionStore) GetByChat(ctx context.Context, chatID int64) (domain.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM wallet_sessions WHERE chat_id = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("postgres: get session chat %d: %w", chatID, err)
	}
	return sess, nil
}

// ListConnected returns all sessions still marked connected, for restart
// recovery.
func (s *SessionStore) ListConnected(ctx context.Context) ([]domain.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM wallet_sessions WHERE status = $1`
	rows, err := s.pool.Query(ctx, query, domain.SessionConnected)
	if err != nil {
		return nil, fmt.Errorf("postgres: list connected sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list connected sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus sets the chat's session status.
func (s *SessionStore) UpdateStatus(ctx context.Context, chatID int64, status domain.SessionStatus) error {
	const query = `
		UPDATE wallet_sessions
		SET status = $2, last_activity_at = NOW()
		WHERE chat_id = $1`
	tag, err := s.pool.Exec(ctx, query, chatID, status)
	if err != nil {
		return fmt.Errorf("postgres: update session status chat %d: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Touch bumps the chat's last-activity timestamp.
func (s *SessionStore) Touch(ctx context.Context, chatID int64) error {
	const query = `UPDATE wallet_sessions SET last_activity_at = NOW() WHERE chat_id = $1`
	if _, err := s.pool.Exec(ctx, query, chatID); err != nil {
		return fmt.Errorf("postgres: touch session chat %d: %w", chatID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SessionRecordStore = (*SessionStore)(nil)
