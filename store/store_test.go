package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "consejo_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixture creates user → project → chat and returns all three ids.
func fixture(t *testing.T, s *Store) (userID, projectID, chatID string) {
	t.Helper()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana@example.com")
	require.NoError(t, err)
	p, err := s.CreateProject(ctx, u.ID, "investigación", "neutral", 0.3, 1.0)
	require.NoError(t, err)
	c, err := s.CreateChat(ctx, p.ID, u.ID, "charla inicial")
	require.NoError(t, err)
	return u.ID, p.ID, c.ID
}

func TestChats_CreateGetList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, projectID, chatID := fixture(t, s)

	got, err := s.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "charla inicial", got.Title)
	assert.False(t, got.Archived)

	_, err = s.CreateChat(ctx, projectID, userID, "segunda charla")
	require.NoError(t, err)

	chats, err := s.ListChats(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "charla inicial", chats[0].Title)

	missing, err := s.GetChat(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChats_Archive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, _, chatID := fixture(t, s)

	require.NoError(t, s.ArchiveChat(ctx, chatID, true))
	got, err := s.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
}

func TestSessions_OneActivePerChat(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	first, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.OrderIndex)
	assert.Empty(t, first.PreviousSessionID)

	_, err = s.CreateSession(ctx, chatID, userID, "")
	require.Error(t, err, "second active session violates the partial unique index")
	assert.Contains(t, err.Error(), "already has an active session")

	// completing the first unblocks creation
	_, err = s.UpdateSessionStatus(ctx, first.ID, SessionCompleted, "")
	require.NoError(t, err)

	second, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.OrderIndex)
	assert.Equal(t, first.ID, second.PreviousSessionID)
}

func TestSessions_ContextInheritance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	first, err := s.CreateSession(ctx, chatID, userID, "contexto acumulado de la primera ronda.")
	require.NoError(t, err)
	_, err = s.UpdateSessionStatus(ctx, first.ID, SessionCompleted, "")
	require.NoError(t, err)

	inherited, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	assert.Equal(t, "contexto acumulado de la primera ronda.", inherited.AccumulatedContext)

	// explicit context wins over inheritance
	_, err = s.UpdateSessionStatus(ctx, inherited.ID, SessionCompleted, "")
	require.NoError(t, err)
	fresh, err := s.CreateSession(ctx, chatID, userID, "contexto nuevo.")
	require.NoError(t, err)
	assert.Equal(t, "contexto nuevo.", fresh.AccumulatedContext)
}

func TestSessions_GetActive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	none, err := s.GetActiveSession(ctx, chatID)
	require.NoError(t, err)
	assert.Nil(t, none)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)

	active, err := s.GetActiveSession(ctx, chatID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sess.ID, active.ID)
}

func TestSessions_StatusTransitions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	assert.Nil(t, sess.FinishedAt)

	sess, err = s.UpdateSessionStatus(ctx, sess.ID, SessionCompleted, "¿pregunta final?")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, sess.Status)
	assert.Equal(t, "¿pregunta final?", sess.FinalQuestion)
	require.NotNil(t, sess.FinishedAt)
}

func TestSessions_FinalizeWithSynthesis(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "contexto previo.")
	require.NoError(t, err)

	done, err := s.FinalizeSessionWithSynthesis(ctx, sess.ID, "texto de la síntesis", "¿pregunta?")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, done.Status)
	assert.Contains(t, done.AccumulatedContext, "contexto previo.")
	assert.Contains(t, done.AccumulatedContext, "## 🔬 Síntesis del Moderador")
	assert.Contains(t, done.AccumulatedContext, "texto de la síntesis")
	assert.Equal(t, "¿pregunta?", done.FinalQuestion)

	synth, err := s.GetModeratedSynthesis(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, synth)
	assert.Equal(t, "texto de la síntesis", synth.SynthesisText)

	none, err := s.GetModeratedSynthesis(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSessions_ContextChain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	var last string
	for i := 0; i < 3; i++ {
		sess, err := s.CreateSession(ctx, chatID, userID, "")
		require.NoError(t, err)
		_, err = s.UpdateSessionStatus(ctx, sess.ID, SessionCompleted, "")
		require.NoError(t, err)
		last = sess.ID
	}

	chain, err := s.GetSessionWithContextChain(ctx, last)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, 1, chain[0].OrderIndex, "chain runs oldest to newest")
	assert.Equal(t, 3, chain[2].OrderIndex)
	assert.Equal(t, last, chain[2].ID)
}

func TestDeleteChat_CascadesWithSharedTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	_, err = s.CreateTimelineEvent(ctx, sess.ID, EventUserMessage, "hola", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteChat(ctx, chatID))

	gone, err := s.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	goneSess, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, goneSess)

	timeline, err := s.GetSessionTimeline(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	// all three levels carry the identical deletion timestamp
	var chatAt, sessAt, eventAt string
	require.NoError(t, s.db.QueryRow(`SELECT deleted_at FROM chats WHERE id = ?`, chatID).Scan(&chatAt))
	require.NoError(t, s.db.QueryRow(`SELECT deleted_at FROM sessions WHERE id = ?`, sess.ID).Scan(&sessAt))
	require.NoError(t, s.db.QueryRow(`SELECT deleted_at FROM interaction_events WHERE session_id = ?`, sess.ID).Scan(&eventAt))
	assert.Equal(t, chatAt, sessAt)
	assert.Equal(t, sessAt, eventAt)
}

func TestTimeline_AppendOnlyTrigger(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)
	event, err := s.CreateTimelineEvent(ctx, sess.ID, EventUserMessage, "original", nil)
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE interaction_events SET content = 'alterado' WHERE id = ?`, event.ID)
	require.Error(t, err, "content mutation is rejected by trigger")

	// soft-delete updates are still allowed
	_, err = s.db.Exec(`UPDATE interaction_events SET deleted_at = '2026-01-01T00:00:00Z' WHERE id = ?`, event.ID)
	assert.NoError(t, err)
}

func TestTimeline_OrderingAndPaging(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, _, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)

	contents := []string{"uno", "dos", "tres", "cuatro"}
	for _, c := range contents {
		_, err := s.CreateTimelineEvent(ctx, sess.ID, EventUserMessage, c, map[string]any{"n": c})
		require.NoError(t, err)
	}

	all, err := s.GetSessionTimeline(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, c := range contents {
		assert.Equal(t, c, all[i].Content)
		assert.Equal(t, c, all[i].EventData["n"])
	}

	page, err := s.GetSessionTimeline(ctx, sess.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "tres", page[0].Content)
}

func TestIAPrompts_Lifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	userID, projectID, chatID := fixture(t, s)

	sess, err := s.CreateSession(ctx, chatID, userID, "")
	require.NoError(t, err)

	p, err := s.SaveIAPrompt(ctx, projectID, sess.ID, "¿pregunta?", "prompt renderizado")
	require.NoError(t, err)
	assert.Equal(t, PromptGenerated, p.Status)

	require.NoError(t, s.EditIAPrompt(ctx, p.ID, "prompt corregido"))
	require.NoError(t, s.MarkIAPromptStatus(ctx, p.ID, PromptExecuted))

	var status string
	var isEdited bool
	require.NoError(t, s.db.QueryRow(`SELECT status, is_edited FROM ia_prompts WHERE id = ?`, p.ID).Scan(&status, &isEdited))
	assert.Equal(t, "executed", status)
	assert.True(t, isEdited)

	r, err := s.SaveIAResponse(ctx, p.ID, "openai", "texto crudo", 1200, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", r.ProviderName)
}

func TestContextChunks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, projectID, _ := fixture(t, s)

	c, err := s.SaveContextChunk(ctx, projectID, "wiki", "fragmento", 0.87, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.87, c.Relevance)
}
