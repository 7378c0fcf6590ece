package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func newID() string { return uuid.Must(uuid.NewV7()).String() }

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, email string) (*User, error) {
	now := time.Now()
	u := &User{ID: newID(), Email: email, CreatedAt: now, UpdatedAt: now}
	err := s.execInsert(ctx,
		`INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateProject inserts a project with its moderator personality
// parameters. Projects are immutable after creation except soft-delete.
func (s *Store) CreateProject(ctx context.Context, userID, name, personality string, temperature, lengthPenalty float64) (*Project, error) {
	now := time.Now()
	p := &Project{
		ID:            newID(),
		UserID:        userID,
		Name:          name,
		Personality:   personality,
		Temperature:   temperature,
		LengthPenalty: lengthPenalty,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.execInsert(ctx,
		`INSERT INTO projects (id, user_id, name, personality, temperature, length_penalty, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Personality, p.Temperature, p.LengthPenalty, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateChat appends a new chat to a project.
func (s *Store) CreateChat(ctx context.Context, projectID, userID, title string) (*Chat, error) {
	now := time.Now()
	c := &Chat{
		ID:        newID(),
		ProjectID: projectID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.execInsert(ctx,
		`INSERT INTO chats (id, project_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.UserID, c.Title, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat returns a chat by id, or nil when it does not exist or is
// deleted.
func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, title, archived, created_at, updated_at, deleted_at
		 FROM chats WHERE id = ? AND deleted_at IS NULL`, chatID)
	return scanChat(row)
}

// ListChats returns the live chats of a project ordered by creation time.
func (s *Store) ListChats(ctx context.Context, projectID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, title, archived, created_at, updated_at, deleted_at
		 FROM chats WHERE project_id = ? AND deleted_at IS NULL ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ArchiveChat flips the archived flag.
func (s *Store) ArchiveChat(ctx context.Context, chatID string, archived bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET archived = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		archived, fmtTime(time.Now()), chatID)
	return err
}

// DeleteChat soft-deletes a chat, its sessions and their events in one
// transaction. All three levels get the identical deletion timestamp.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback()

	at := fmtTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, at, at, chatID); err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE interaction_events SET deleted_at = ?
		 WHERE deleted_at IS NULL AND session_id IN (SELECT id FROM sessions WHERE chat_id = ?)`, at, chatID); err != nil {
		return fmt.Errorf("delete events failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET deleted_at = ?, updated_at = ? WHERE chat_id = ? AND deleted_at IS NULL`, at, at, chatID); err != nil {
		return fmt.Errorf("delete sessions failed: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (*Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	err := r.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Title, &c.Archived, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.DeletedAt = parseNullTime(deletedAt)
	return &c, nil
}
