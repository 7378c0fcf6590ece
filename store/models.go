package store

import "time"

// SessionStatus is the lifecycle state of an orchestration round.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// EventType labels a timeline entry.
type EventType string

const (
	EventUserMessage        EventType = "user_message"
	EventAIResponse         EventType = "ai_response"
	EventContextUpdate      EventType = "context_update"
	EventModeratorSynthesis EventType = "moderator_synthesis"
	EventSessionComplete    EventType = "session_complete"
)

// PromptStatus is the lifecycle state of an IAPrompt artifact.
type PromptStatus string

const (
	PromptGenerated          PromptStatus = "generated"
	PromptEdited             PromptStatus = "edited"
	PromptExecuted           PromptStatus = "executed"
	PromptModeratorSynthesis PromptStatus = "moderator_synthesis"
)

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Project is the owning container for chats. Moderator personality
// parameters are immutable after creation.
type Project struct {
	ID            string
	UserID        string
	Name          string
	Personality   string
	Temperature   float64
	LengthPenalty float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type Chat struct {
	ID        string
	ProjectID string
	UserID    string
	Title     string
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Session is one orchestration round in a chat. Sessions form a linear
// chain through PreviousSessionID.
type Session struct {
	ID                 string
	ChatID             string
	UserID             string
	PreviousSessionID  string
	OrderIndex         int
	AccumulatedContext string
	FinalQuestion      string
	Status             SessionStatus
	FinishedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// InteractionEvent is an append-only entry of a session timeline.
type InteractionEvent struct {
	ID        string
	SessionID string
	EventType EventType
	Content   string
	EventData map[string]any
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IAPrompt is a prompt artifact produced for orchestration.
type IAPrompt struct {
	ID               string
	ProjectID        string
	ContextSessionID string
	OriginalQuery    string
	GeneratedPrompt  string
	EditedPrompt     string
	IsEdited         bool
	Status           PromptStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// IAResponse is one raw provider output bound to an IAPrompt.
type IAResponse struct {
	ID              string
	PromptID        string
	ProviderName    string
	RawResponseText string
	LatencyMS       int64
	ErrorMessage    string
	ReceivedAt      time.Time
}

// ModeratedSynthesis is the immutable synthesis text of a completed round.
type ModeratedSynthesis struct {
	ID            string
	SessionID     string
	SynthesisText string
	CreatedAt     time.Time
}

// ContextChunk is a retrieval fragment owned by the external retrieval
// collaborator; the store only persists it.
type ContextChunk struct {
	ID         string
	ProjectID  string
	SourceType string
	Content    string
	Relevance  float64
	Embedding  []byte
	CreatedAt  time.Time
}
