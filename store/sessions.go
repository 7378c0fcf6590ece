package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, chat_id, user_id, previous_session_id, order_index, accumulated_context,
	final_question, status, finished_at, created_at, updated_at, deleted_at`

// CreateSession opens a new orchestration round in a chat. The order index
// is the next monotone value; the previous session is linked, and when the
// caller passes an empty context the previous session's accumulated context
// is inherited. The partial unique index makes concurrent creation of a
// second active session fail instead of corrupting the invariant.
func (s *Store) CreateSession(ctx context.Context, chatID, userID, accumulated string) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback()

	var maxOrder sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(order_index) FROM sessions WHERE chat_id = ? AND deleted_at IS NULL`, chatID).Scan(&maxOrder); err != nil {
		return nil, fmt.Errorf("order index lookup failed: %w", err)
	}

	var prevID, prevContext sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, accumulated_context FROM sessions
		 WHERE chat_id = ? AND deleted_at IS NULL ORDER BY order_index DESC LIMIT 1`, chatID).
		Scan(&prevID, &prevContext)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("previous session lookup failed: %w", err)
	}

	if accumulated == "" && prevContext.Valid {
		accumulated = prevContext.String
	}

	now := time.Now()
	sess := &Session{
		ID:                 newID(),
		ChatID:             chatID,
		UserID:             userID,
		PreviousSessionID:  prevID.String,
		OrderIndex:         int(maxOrder.Int64) + 1,
		AccumulatedContext: accumulated,
		Status:             SessionActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, chat_id, user_id, previous_session_id, order_index, accumulated_context, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ChatID, sess.UserID, nullable(sess.PreviousSessionID), sess.OrderIndex,
		sess.AccumulatedContext, string(sess.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("chat %s already has an active session: %w", chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by id, or nil when missing or deleted.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND deleted_at IS NULL`, sessionID)
	return scanSession(row)
}

// GetActiveSession returns the single active session of a chat, or nil.
func (s *Store) GetActiveSession(ctx context.Context, chatID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE chat_id = ? AND status = 'active' AND deleted_at IS NULL`, chatID)
	return scanSession(row)
}

// UpdateSessionContext replaces the accumulated context.
func (s *Store) UpdateSessionContext(ctx context.Context, sessionID, accumulated string) (*Session, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET accumulated_context = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		accumulated, fmtTime(time.Now()), sessionID)
	if err != nil {
		return nil, fmt.Errorf("update failed: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// UpdateSessionStatus transitions a session. Completing stamps
// finished_at; the final question is recorded when supplied.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus, finalQuestion string) (*Session, error) {
	now := time.Now()
	var finished any
	if status == SessionCompleted {
		finished = fmtTime(now)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?,
			final_question = CASE WHEN ? != '' THEN ? ELSE final_question END,
			finished_at = COALESCE(?, finished_at),
			updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		string(status), finalQuestion, finalQuestion, finished, fmtTime(now), sessionID)
	if err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// synthesisSectionFormat is the fixed section appended to the accumulated
// context when a session completes with a moderated synthesis.
const synthesisSectionFormat = "\n\n## 🔬 Síntesis del Moderador\n\n%s\n\n---\n"

// FinalizeSessionWithSynthesis persists the synthesis, appends it to the
// accumulated context under the fixed header and completes the session.
func (s *Store) FinalizeSessionWithSynthesis(ctx context.Context, sessionID, synthesisText, originalQuery string) (*Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	now := time.Now()
	synth := &ModeratedSynthesis{
		ID:            newID(),
		SessionID:     sessionID,
		SynthesisText: synthesisText,
		CreatedAt:     now,
	}
	if err := s.execInsert(ctx,
		`INSERT INTO moderated_syntheses (id, session_id, synthesis_text, created_at) VALUES (?, ?, ?, ?)`,
		synth.ID, synth.SessionID, synth.SynthesisText, fmtTime(now)); err != nil {
		return nil, err
	}

	accumulated := sess.AccumulatedContext + fmt.Sprintf(synthesisSectionFormat, synthesisText)
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET accumulated_context = ?, final_question = ?, status = 'completed', finished_at = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		accumulated, originalQuery, fmtTime(now), fmtTime(now), sessionID)
	if err != nil {
		return nil, fmt.Errorf("finalize failed: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// GetModeratedSynthesis returns the synthesis recorded for a session,
// or nil when the session never completed a round.
func (s *Store) GetModeratedSynthesis(ctx context.Context, sessionID string) (*ModeratedSynthesis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, synthesis_text, created_at FROM moderated_syntheses
		 WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	var synth ModeratedSynthesis
	var createdAt string
	err := row.Scan(&synth.ID, &synth.SessionID, &synth.SynthesisText, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	synth.CreatedAt = parseTime(createdAt)
	return &synth, nil
}

// GetSessionWithContextChain walks previous_session_id backwards and
// returns the chain ordered oldest → newest, ending at the given session.
func (s *Store) GetSessionWithContextChain(ctx context.Context, sessionID string) ([]Session, error) {
	var chain []Session
	id := sessionID
	for id != "" {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			break
		}
		chain = append([]Session{*sess}, chain...)
		id = sess.PreviousSessionID
	}
	return chain, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var prev, finishedAt, deletedAt sql.NullString
	var status, createdAt, updatedAt string
	err := r.Scan(&sess.ID, &sess.ChatID, &sess.UserID, &prev, &sess.OrderIndex,
		&sess.AccumulatedContext, &sess.FinalQuestion, &status, &finishedAt,
		&createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	sess.PreviousSessionID = prev.String
	sess.Status = SessionStatus(status)
	sess.FinishedAt = parseNullTime(finishedAt)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	sess.DeletedAt = parseNullTime(deletedAt)
	return &sess, nil
}
