package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.LastActiveAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, owner_id, collection_id, name, status,
			 context_window_tokens, max_messages, message_count,
			 tokens_used, created_at, updated_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.CollectionID, sess.Name, sess.Status,
		sess.ContextWindowTokens, sess.MaxMessages,
		sess.CreatedAt, sess.UpdatedAt, sess.LastActiveAt)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

const sessionColumns = `id, owner_id, collection_id, name, status,
	context_window_tokens, max_messages, message_count, tokens_used,
	created_at, updated_at, last_active_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.CollectionID, &sess.Name,
		&sess.Status, &sess.ContextWindowTokens, &sess.MaxMessages,
		&sess.MessageCount, &sess.TokensUsed,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns a user's sessions, most recently active first.
// Deleted sessions are hidden.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE owner_id = ? AND status != 'deleted'
		 ORDER BY last_active_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SetSessionStatus transitions the session lifecycle state.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting session status: %w", err)
	}
	return requireRow(res)
}

// RenameSession updates the display name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	return requireRow(res)
}

// ExpireIdleSessions marks active sessions idle for longer than the cutoff
// as expired. Returns the number of sessions transitioned.
func (s *Store) ExpireIdleSessions(ctx context.Context, idleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE status = ? AND last_active_at < ?`,
		SessionExpired, time.Now().UTC(), SessionActive, idleBefore)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AppendMessage allocates the next ordinal and inserts the message in one
// transaction. The returned message carries its assigned ordinal.
func (s *Store) AppendMessage(ctx context.Context, m *Message) (*Message, error) {
	m.CreatedAt = time.Now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ordinal), 0) FROM messages WHERE session_id = ?`,
			m.SessionID)
		var maxOrdinal int
		if err := row.Scan(&maxOrdinal); err != nil {
			return fmt.Errorf("reading max ordinal: %w", err)
		}
		m.Ordinal = maxOrdinal + 1

		if m.Metadata == "" {
			m.Metadata = "{}"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages
				(session_id, ordinal, role, type, content, token_count,
				 metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SessionID, m.Ordinal, m.Role, m.Type, m.Content,
			m.TokenCount, m.Metadata, m.CreatedAt); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET message_count = message_count + 1,
			    tokens_used = tokens_used + ?,
			    last_active_at = ?, updated_at = ?
			WHERE id = ?`,
			m.TokenCount, m.CreatedAt, m.CreatedAt, m.SessionID)
		if err != nil {
			return fmt.Errorf("updating session counters: %w", err)
		}
		return requireRow(res)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a session's messages in ordinal order. A zero
// afterOrdinal returns all messages.
func (s *Store) ListMessages(ctx context.Context, sessionID string, afterOrdinal int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, ordinal, role, type, content, token_count,
		       metadata, created_at
		FROM messages
		WHERE session_id = ? AND ordinal > ?
		ORDER BY ordinal`, sessionID, afterOrdinal)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.Ordinal, &m.Role, &m.Type,
			&m.Content, &m.TokenCount, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateSummary inserts a summary and supersedes earlier summaries of the
// same strategy whose ranges it subsumes, in one transaction.
func (s *Store) CreateSummary(ctx context.Context, sum *Summary) error {
	sum.CreatedAt = time.Now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE summaries SET superseded = 1
			WHERE session_id = ? AND strategy = ? AND superseded = 0
			  AND first_ordinal >= ? AND last_ordinal <= ?`,
			sum.SessionID, sum.Strategy, sum.FirstOrdinal, sum.LastOrdinal); err != nil {
			return fmt.Errorf("superseding summaries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO summaries
				(id, session_id, strategy, first_ordinal, last_ordinal,
				 text, tokens_saved, superseded, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			sum.ID, sum.SessionID, sum.Strategy, sum.FirstOrdinal,
			sum.LastOrdinal, sum.Text, sum.TokensSaved, sum.CreatedAt); err != nil {
			return fmt.Errorf("inserting summary: %w", err)
		}
		return nil
	})
}

// LatestSummary returns the newest non-superseded summary for a session,
// or ErrNotFound.
func (s *Store) LatestSummary(ctx context.Context, sessionID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, strategy, first_ordinal, last_ordinal,
		       text, tokens_saved, superseded, created_at
		FROM summaries
		WHERE session_id = ? AND superseded = 0
		ORDER BY last_ordinal DESC, created_at DESC LIMIT 1`, sessionID)
	return scanSummary(row)
}

// ListSummaries returns all summaries for a session, oldest first.
func (s *Store) ListSummaries(ctx context.Context, sessionID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, strategy, first_ordinal, last_ordinal,
		       text, tokens_saved, superseded, created_at
		FROM summaries WHERE session_id = ?
		ORDER BY first_ordinal, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

func scanSummary(row interface{ Scan(...any) error }) (*Summary, error) {
	var sum Summary
	var superseded int
	err := row.Scan(&sum.ID, &sum.SessionID, &sum.Strategy,
		&sum.FirstOrdinal, &sum.LastOrdinal, &sum.Text,
		&sum.TokensSaved, &superseded, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning summary: %w", err)
	}
	sum.Superseded = superseded != 0
	return &sum, nil
}
