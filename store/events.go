package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// CreateTimelineEvent appends an immutable event to a session timeline.
// Updates to event content are rejected by a database trigger.
func (s *Store) CreateTimelineEvent(ctx context.Context, sessionID string, eventType EventType, content string, eventData map[string]any) (*InteractionEvent, error) {
	now := time.Now()
	e := &InteractionEvent{
		ID:        newID(),
		SessionID: sessionID,
		EventType: eventType,
		Content:   content,
		EventData: eventData,
		CreatedAt: now,
	}

	var blob any
	if eventData != nil {
		b, err := json.Marshal(eventData)
		if err != nil {
			return nil, fmt.Errorf("event data marshal failed: %w", err)
		}
		blob = string(b)
	}

	err := s.execInsert(ctx,
		`INSERT INTO interaction_events (id, session_id, event_type, content, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.EventType), e.Content, blob, fmtTime(now))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetSessionTimeline returns a page of live events ordered ascending by
// creation time. Identifiers are time-ordered, so they break creation-time
// ties deterministically.
func (s *Store) GetSessionTimeline(ctx context.Context, sessionID string, skip, limit int) ([]InteractionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, content, event_data, created_at, deleted_at
		 FROM interaction_events
		 WHERE session_id = ? AND deleted_at IS NULL
		 ORDER BY created_at, id LIMIT ? OFFSET ?`, sessionID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []InteractionEvent
	for rows.Next() {
		var e InteractionEvent
		var eventType, createdAt string
		var data, deletedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.Content, &data, &createdAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.EventType = EventType(eventType)
		e.CreatedAt = parseTime(createdAt)
		e.DeletedAt = parseNullTime(deletedAt)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.EventData); err != nil {
				return nil, fmt.Errorf("event data unmarshal failed: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveIAPrompt persists a generated prompt artifact.
func (s *Store) SaveIAPrompt(ctx context.Context, projectID, contextSessionID, originalQuery, generatedPrompt string) (*IAPrompt, error) {
	now := time.Now()
	p := &IAPrompt{
		ID:               newID(),
		ProjectID:        projectID,
		ContextSessionID: contextSessionID,
		OriginalQuery:    originalQuery,
		GeneratedPrompt:  generatedPrompt,
		Status:           PromptGenerated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.execInsert(ctx,
		`INSERT INTO ia_prompts (id, project_id, context_session_id, original_query, generated_prompt, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.ContextSessionID, p.OriginalQuery, p.GeneratedPrompt, string(p.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EditIAPrompt stores a user-edited prompt variant.
func (s *Store) EditIAPrompt(ctx context.Context, promptID, editedPrompt string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ia_prompts SET edited_prompt = ?, is_edited = 1, status = 'edited', updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		editedPrompt, fmtTime(time.Now()), promptID)
	return err
}

// MarkIAPromptStatus advances a prompt's lifecycle.
func (s *Store) MarkIAPromptStatus(ctx context.Context, promptID string, status PromptStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ia_prompts SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		string(status), fmtTime(time.Now()), promptID)
	return err
}

// SaveIAResponse persists one raw provider output for a prompt.
func (s *Store) SaveIAResponse(ctx context.Context, promptID, providerName, rawText string, latencyMS int64, errorMessage string) (*IAResponse, error) {
	now := time.Now()
	r := &IAResponse{
		ID:              newID(),
		PromptID:        promptID,
		ProviderName:    providerName,
		RawResponseText: rawText,
		LatencyMS:       latencyMS,
		ErrorMessage:    errorMessage,
		ReceivedAt:      now,
	}
	err := s.execInsert(ctx,
		`INSERT INTO ia_responses (id, prompt_id, provider_name, raw_response_text, latency_ms, error_message, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PromptID, r.ProviderName, r.RawResponseText, r.LatencyMS, r.ErrorMessage, fmtTime(now))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SaveContextChunk persists a retrieval fragment on behalf of the external
// retrieval collaborator.
func (s *Store) SaveContextChunk(ctx context.Context, projectID, sourceType, content string, relevance float64, embedding []byte) (*ContextChunk, error) {
	now := time.Now()
	c := &ContextChunk{
		ID:         newID(),
		ProjectID:  projectID,
		SourceType: sourceType,
		Content:    content,
		Relevance:  relevance,
		Embedding:  embedding,
		CreatedAt:  now,
	}
	err := s.execInsert(ctx,
		`INSERT INTO context_chunks (id, project_id, source_type, content, relevance, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.SourceType, c.Content, c.Relevance, c.Embedding, fmtTime(now))
	if err != nil {
		return nil, err
	}
	return c, nil
}
