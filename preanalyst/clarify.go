package preanalyst

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
)

// IdleExpiration is the advisory window after which a clarification session
// can no longer be continued.
const IdleExpiration = 30 * time.Minute

// Turn is one entry of a clarification conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state of one clarification exchange. It lives only in
// process memory; a multi-process deployment would shard the manager's map
// by session id onto a shared store.
type Session struct {
	ID                 string
	ProjectID          string
	UserID             string
	History            []Turn
	CurrentAnalysis    Analysis
	IsComplete         bool
	FinalRefinedPrompt string

	lastActivity time.Time
	mu           sync.Mutex
}

// Manager drives clarification sessions keyed by session id.
type Manager struct {
	analyst  *Analyst
	sessions *haxmap.Map[string, *Session]
	now      func() time.Time
}

// NewManager builds a clarification manager over the given analyst.
func NewManager(analyst *Analyst) *Manager {
	return &Manager{
		analyst:  analyst,
		sessions: haxmap.New[string, *Session](),
		now:      time.Now,
	}
}

// Start runs the analyst on the initial prompt and opens a session. When
// the analyst found nothing to clarify, the session completes immediately.
func (m *Manager) Start(ctx context.Context, projectID, userID, initialPrompt string) *Session {
	analysis := m.analyst.Analyze(ctx, initialPrompt)
	now := m.now()

	s := &Session{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ProjectID:       projectID,
		UserID:          userID,
		CurrentAnalysis: analysis,
		lastActivity:    now,
	}
	s.History = append(s.History, Turn{Role: "user", Content: initialPrompt, Timestamp: now})

	if len(analysis.ClarificationQuestions) == 0 {
		s.IsComplete = true
		s.FinalRefinedPrompt = analysis.RefinedPromptCandidate
		s.History = append(s.History, Turn{
			Role:      "assistant",
			Content:   "Tu pregunta es suficientemente específica. Procedo con: " + analysis.RefinedPromptCandidate,
			Timestamp: now,
		})
	} else {
		s.History = append(s.History, Turn{
			Role:      "assistant",
			Content:   "Antes de continuar necesito aclarar:\n- " + strings.Join(analysis.ClarificationQuestions, "\n- "),
			Timestamp: now,
		})
	}

	m.sessions.Set(s.ID, s)
	return s
}

// Continue appends the user's answer, reruns the analyst over the joined
// user turns and updates the session. Completed or expired sessions reject
// continuation.
func (m *Manager) Continue(ctx context.Context, sessionID, userResponse string) (*Session, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("clarification session %s not found", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if now.Sub(s.lastActivity) > IdleExpiration {
		m.sessions.Del(sessionID)
		return nil, fmt.Errorf("clarification session %s expired", sessionID)
	}
	// A completed session never regresses to incomplete.
	if s.IsComplete {
		return nil, fmt.Errorf("clarification session %s already completed", sessionID)
	}

	s.History = append(s.History, Turn{Role: "user", Content: userResponse, Timestamp: now})
	s.lastActivity = now

	var userTurns []string
	for _, t := range s.History {
		if t.Role == "user" {
			userTurns = append(userTurns, t.Content)
		}
	}

	analysis := m.analyst.Analyze(ctx, strings.Join(userTurns, "\n"))
	s.CurrentAnalysis = analysis

	if len(analysis.ClarificationQuestions) == 0 {
		s.IsComplete = true
		s.FinalRefinedPrompt = analysis.RefinedPromptCandidate
		s.History = append(s.History, Turn{
			Role:      "assistant",
			Content:   "Gracias, con esto es suficiente. Procedo con: " + analysis.RefinedPromptCandidate,
			Timestamp: now,
		})
	} else {
		s.History = append(s.History, Turn{
			Role:      "assistant",
			Content:   "Todavía necesito saber:\n- " + strings.Join(analysis.ClarificationQuestions, "\n- "),
			Timestamp: now,
		})
	}
	return s, nil
}

// ForceProceed completes a session regardless of outstanding questions.
func (m *Manager) ForceProceed(sessionID string) (*Session, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("clarification session %s not found", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.IsComplete = true
	if s.FinalRefinedPrompt == "" {
		s.FinalRefinedPrompt = s.CurrentAnalysis.RefinedPromptCandidate
	}
	s.lastActivity = m.now()
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	return m.sessions.Get(sessionID)
}
