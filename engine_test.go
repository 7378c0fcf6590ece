package consejo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-ai/consejo/contextbuilder"
	"github.com/consejo-ai/consejo/events"
	"github.com/consejo-ai/consejo/moderator"
	"github.com/consejo-ai/consejo/orchestrator"
	"github.com/consejo-ai/consejo/prompt"
	"github.com/consejo-ai/consejo/provider"
	"github.com/consejo-ai/consejo/provider/anthropic"
	"github.com/consejo-ai/consejo/provider/openai"
	"github.com/consejo-ai/consejo/store"
)

func openaiServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"content":[{"type":"text","text":%q}],"usage":{"input_tokens":10,"output_tokens":20}}`, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunks(contents ...string) []prompt.Chunk {
	out := make([]prompt.Chunk, 0, len(contents))
	for _, c := range contents {
		out = append(out, prompt.Chunk{SourceType: "wiki", Relevance: 0.9, Content: c})
	}
	return out
}

// twoProviderEngine wires openai and anthropic clients against canned
// servers, with a degraded moderator so rounds stay offline.
func twoProviderEngine(t *testing.T) *Engine {
	t.Helper()
	oa := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(openaiServer(t, "respuesta de openai con bastante más detalle").URL)),
		provider.WithMaxAttempts(1))
	an := provider.NewClient(
		anthropic.New("test-key", anthropic.WithBaseURL(anthropicServer(t, "respuesta de anthropic").URL)),
		provider.WithMaxAttempts(1))

	e, err := New(orchestrator.New(oa, an), moderator.New(nil))
	require.NoError(t, err)
	return e
}

func engineWithStore(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "consejo_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	oa := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(openaiServer(t, "respuesta de openai con bastante más detalle").URL)),
		provider.WithMaxAttempts(1))
	an := provider.NewClient(
		anthropic.New("test-key", anthropic.WithBaseURL(anthropicServer(t, "respuesta de anthropic").URL)),
		provider.WithMaxAttempts(1))

	e, err := New(orchestrator.New(oa, an), moderator.New(nil), WithStore(s))
	require.NoError(t, err)
	return e, s
}

func sessionFixture(t *testing.T, s *store.Store, accumulated string) (projectID string, sess *store.Session) {
	t.Helper()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana@example.com")
	require.NoError(t, err)
	p, err := s.CreateProject(ctx, u.ID, "investigación", "neutral", 0.3, 1.0)
	require.NoError(t, err)
	c, err := s.CreateChat(ctx, p.ID, u.ID, "charla")
	require.NoError(t, err)
	sess, err = s.CreateSession(ctx, c.ID, u.ID, accumulated)
	require.NoError(t, err)
	return p.ID, sess
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")

	_, err = New(orchestrator.New(), nil)
	assert.Error(t, err)
}

func TestProcessQuery_RequiresQuestion(t *testing.T) {
	e := twoProviderEngine(t)
	_, err := e.ProcessQuery(context.Background(), QueryInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question is required")
}

func TestProcessQuery_EndToEnd(t *testing.T) {
	e := twoProviderEngine(t)

	res, err := e.ProcessQuery(context.Background(), QueryInput{Question: "¿Cómo escalar el equipo?"})
	require.NoError(t, err)

	_, uuidErr := uuid.Parse(res.RunID)
	assert.NoError(t, uuidErr)
	assert.Equal(t, "sin contexto", res.ContextInfo)

	require.Len(t, res.IndividualResponses, 2)
	assert.Equal(t, "openai", res.IndividualResponses[0].Provider)
	assert.Equal(t, "anthropic", res.IndividualResponses[1].Provider)
	for _, r := range res.IndividualResponses {
		assert.True(t, r.Success())
	}

	// degraded moderator selects the best raw answer
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, moderator.QualityLow, res.Quality)
	assert.Contains(t, res.SynthesisText, "**Respuesta seleccionada de OPENAI:**")
	assert.Contains(t, res.SynthesisText, "respuesta de openai con bastante más detalle")
}

func TestProcessQuery_ChunksDescribeContext(t *testing.T) {
	e := twoProviderEngine(t)

	res, err := e.ProcessQuery(context.Background(), QueryInput{
		Question: "¿qué dicen los documentos?",
		Chunks:   chunks("dato uno", "dato dos"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2 fragmentos recuperados", res.ContextInfo)
}

func TestProcessQuery_SingleStrategy(t *testing.T) {
	e := twoProviderEngine(t)

	res, err := e.ProcessQuery(context.Background(), QueryInput{
		Question: "¿pregunta?",
		Strategy: orchestrator.StrategySingle,
	})
	require.NoError(t, err)
	require.Len(t, res.IndividualResponses, 1)
	assert.Equal(t, "openai", res.IndividualResponses[0].Provider)
}

// hookRecorder captures lifecycle events behind a mutex; ProcessQuery may
// invoke it from orchestration goroutines.
type hookRecorder struct {
	events.NoopHook
	mu        sync.Mutex
	received  []events.QueryReceived
	results   []events.ProviderResult
	syntheses []events.SynthesisReady
	failures  []events.OrchestrationFailed
}

func (h *hookRecorder) OnQueryReceived(_ context.Context, e events.QueryReceived) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, e)
}

func (h *hookRecorder) OnProviderResult(_ context.Context, e events.ProviderResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, e)
}

func (h *hookRecorder) OnSynthesisReady(_ context.Context, e events.SynthesisReady) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syntheses = append(h.syntheses, e)
}

func (h *hookRecorder) OnOrchestrationFailed(_ context.Context, e events.OrchestrationFailed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, e)
}

func TestProcessQuery_EmitsLifecycleEvents(t *testing.T) {
	oa := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(openaiServer(t, "respuesta").URL)),
		provider.WithMaxAttempts(1))

	rec := &hookRecorder{}
	e, err := New(orchestrator.New(oa), moderator.New(nil), WithHook(rec))
	require.NoError(t, err)

	_, err = e.ProcessQuery(context.Background(), QueryInput{Question: "¿pregunta?", UserID: "user-1"})
	require.NoError(t, err)

	require.Len(t, rec.received, 1)
	assert.Equal(t, "¿pregunta?", rec.received[0].Question)
	assert.Equal(t, "user-1", rec.received[0].UserID)

	require.Len(t, rec.results, 1)
	assert.Equal(t, "openai", rec.results[0].Provider)
	assert.Equal(t, string(provider.StatusSuccess), rec.results[0].Status)

	require.Len(t, rec.syntheses, 1)
	assert.Equal(t, rec.received[0].RunID, rec.syntheses[0].RunID)
	assert.Empty(t, rec.failures)
}

func TestProcessQuery_AllProvidersFailedEvent(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"caído"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	oa := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(broken.URL)),
		provider.WithMaxAttempts(1))

	rec := &hookRecorder{}
	e, err := New(orchestrator.New(oa), moderator.New(nil), WithHook(rec))
	require.NoError(t, err)

	res, err := e.ProcessQuery(context.Background(), QueryInput{Question: "¿pregunta?"})
	require.NoError(t, err, "provider failures fold into the result, not the error")
	assert.Equal(t, moderator.QualityLow, res.Quality)
	assert.True(t, res.FallbackUsed)

	require.Len(t, rec.failures, 1)
	assert.Equal(t, "all providers failed", rec.failures[0].Err)
}

func TestProcessQuery_PersistsRound(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	projectID, sess := sessionFixture(t, s, "La empresa tiene 40 empleados.")

	res, err := e.ProcessQuery(ctx, QueryInput{
		Question:  "¿Cómo escalar el equipo?",
		ProjectID: projectID,
		SessionID: sess.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("contexto de sesión (%d caracteres)", len(sess.AccumulatedContext)), res.ContextInfo)

	timeline, err := s.GetSessionTimeline(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, store.EventModeratorSynthesis, timeline[0].EventType)
	assert.Equal(t, res.SynthesisText, timeline[0].Content)
	assert.Equal(t, string(res.Quality), timeline[0].EventData["quality"])

	// the round alone does not complete the session
	after, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, after.Status)
}

func TestContextChat_BuildsContextAndDetectsReady(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ana@example.com")
	require.NoError(t, err)
	p, err := s.CreateProject(ctx, u.ID, "investigación", "neutral", 0.3, 1.0)
	require.NoError(t, err)
	c, err := s.CreateChat(ctx, p.ID, u.ID, "charla")
	require.NoError(t, err)

	// long informative turn, classified and extracted by heuristics
	msg := "Nuestra empresa de software tiene 40 empleados y factura dos millones al año con un producto de análisis de datos"
	first, err := e.ContextChat(ctx, c.ID, u.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, contextbuilder.TypeInformation, first.MessageType)
	assert.NotEmpty(t, first.AccumulatedContext)
	assert.NotEmpty(t, first.Suggestions)

	// the session was created on demand and carries the new context
	sess, err := s.GetActiveSession(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, first.SessionID, sess.ID)
	assert.Equal(t, first.AccumulatedContext, sess.AccumulatedContext)

	timeline, err := s.GetSessionTimeline(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	kinds := make(map[store.EventType]int)
	for _, ev := range timeline {
		kinds[ev.EventType]++
	}
	assert.Equal(t, 1, kinds[store.EventContextUpdate])
	assert.Equal(t, 1, kinds[store.EventUserMessage])
	assert.Equal(t, 1, kinds[store.EventAIResponse])

	// a ready keyword on a non-empty context short-circuits the builder
	ready, err := e.ContextChat(ctx, c.ID, u.ID, "Listo, procede con la orquestación")
	require.NoError(t, err)
	assert.Equal(t, contextbuilder.TypeReady, ready.MessageType)
	assert.Equal(t, readyReply, ready.Reply)
	assert.Equal(t, first.AccumulatedContext, ready.AccumulatedContext)
}

func TestContextChat_RequiresStore(t *testing.T) {
	e := twoProviderEngine(t)
	_, err := e.ContextChat(context.Background(), "chat", "user", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a store")
}

func TestFinalize(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	_, sess := sessionFixture(t, s, "contexto acumulado.")

	res, err := e.Finalize(ctx, sess.ID, "¿Cuál es la mejor estrategia?")
	require.NoError(t, err)
	assert.True(t, res.ReadyForOrchestration)
	assert.Equal(t, "¿Cuál es la mejor estrategia?", res.Session.FinalQuestion)
	assert.Equal(t, store.SessionActive, res.Session.Status, "finalize records the question without completing")

	_, err = e.Finalize(ctx, "no-such-session", "¿pregunta?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSynthesize_CompletesSession(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	projectID, sess := sessionFixture(t, s, "La empresa tiene 40 empleados.")

	res, err := e.Synthesize(ctx, sess.ID, "¿Cómo escalar el equipo?", QueryInput{ProjectID: projectID})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SynthesisText)

	after, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, after.Status)
	assert.Contains(t, after.AccumulatedContext, "## 🔬 Síntesis del Moderador")
	assert.Equal(t, "¿Cómo escalar el equipo?", after.FinalQuestion)

	synth, err := s.GetModeratedSynthesis(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, synth)
	assert.Equal(t, res.SynthesisText, synth.SynthesisText)

	// a second synthesize round finds no active session
	_, err = e.Synthesize(ctx, sess.ID, "¿otra?", QueryInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestSynthesize_FallsBackToStoredQuestion(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	_, sess := sessionFixture(t, s, "contexto.")

	_, err := e.Synthesize(ctx, sess.ID, "", QueryInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no final question")

	_, err = e.Finalize(ctx, sess.ID, "¿pregunta registrada?")
	require.NoError(t, err)

	res, err := e.Synthesize(ctx, sess.ID, "", QueryInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SynthesisText)
}

func TestIncludeSynthesis_Idempotent(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	_, sess := sessionFixture(t, s, "contexto base.")

	synth := moderator.Response{
		SynthesisText: "síntesis del moderador",
		Components: moderator.Components{
			KeyThemes:       []string{"escalado", "contratación"},
			Recommendations: []string{"contratar dos personas"},
		},
	}
	enriched, err := e.IncludeSynthesis(ctx, sess.ID, synth)
	require.NoError(t, err)
	assert.Contains(t, enriched.AccumulatedContext, "contexto base.")
	assert.Contains(t, enriched.AccumulatedContext, "## 🔬 Análisis del Moderador IA")

	again, err := e.IncludeSynthesis(ctx, sess.ID, synth)
	require.NoError(t, err)
	assert.Equal(t, enriched.AccumulatedContext, again.AccumulatedContext)
}

func TestGeneratePrompt(t *testing.T) {
	e, s := engineWithStore(t)
	ctx := context.Background()
	projectID, sess := sessionFixture(t, s, "La empresa tiene 40 empleados.")

	p, err := e.GeneratePrompt(ctx, projectID, sess.ID, "¿Cómo escalar el equipo?")
	require.NoError(t, err)
	assert.Equal(t, store.PromptGenerated, p.Status)
	assert.Contains(t, p.GeneratedPrompt, "¿Cómo escalar el equipo?")
	assert.Contains(t, p.GeneratedPrompt, "La empresa tiene 40 empleados.")
}

func TestSystemHealth(t *testing.T) {
	e := twoProviderEngine(t)
	h := e.SystemHealth()
	assert.Equal(t, "healthy", h.OverallStatus)
	require.Len(t, h.Providers, 2)
	assert.Equal(t, "openai", h.Providers[0].Provider)
}

func TestHealthChecks(t *testing.T) {
	e := twoProviderEngine(t)
	checks := e.HealthChecks(context.Background())
	assert.Equal(t, map[string]bool{"openai": true, "anthropic": true}, checks)
}

// scalingReport is a fully sectioned synthesis the moderator accepts
// without fallback, so every extracted collection reaches the result.
const scalingReport = `## 0. Nota de relevancia de las entradas
Ambas respuestas abordan el escalado del equipo.

## 1. Resumen Conciso General y Recomendación Clave
Los modelos coinciden en crecer por etapas. **Contrata primero un responsable técnico y después duplica el equipo de producto.**

## 2a. Afirmaciones Clave por IA
**[AI_Modelo_OPENAI] dice:**
- Escalar sin procesos definidos multiplica la deuda organizativa.
- Un responsable técnico reduce la carga del fundador.

**[AI_Modelo_ANTHROPIC] dice:**
- El ritmo de contratación debe seguir al flujo de caja.

## 2b. Puntos de Consenso Directo
- Conviene contratar por etapas y no de golpe (Apoyado por: OPENAI, ANTHROPIC)

## 2c. Contradicciones Factuales
- OPENAI afirma que primero va el área técnica / ANTHROPIC afirma que primero va ventas

## 2d. Mapeo de Énfasis y Omisiones Notables
- OPENAI enfatiza la estructura organizativa
- ANTHROPIC enfatiza la caja y el ritmo

## 3a. Preguntas Sugeridas
- ¿Qué margen de caja exige duplicar la plantilla?

## 3b. Áreas Potenciales de Investigación
- Procesos de onboarding en equipos distribuidos

## 3c. Conexiones Implícitas
- Ambos conectan el escalado con la madurez de los procesos internos

## 4. Auto-Validación Interna
- Resumen cubierto
- Afirmaciones cubiertas
- Consenso cubierto
- Contradicciones cubiertas
- Énfasis cubierto
- Exploración cubierta
`

func TestProcessQuery_MapsSynthesisCollections(t *testing.T) {
	oa := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(openaiServer(t, "respuesta de openai con bastante más detalle").URL)),
		provider.WithMaxAttempts(1))
	an := provider.NewClient(
		anthropic.New("test-key", anthropic.WithBaseURL(anthropicServer(t, "respuesta de anthropic").URL)),
		provider.WithMaxAttempts(1))
	synth := provider.NewClient(
		openai.New("test-key", openai.WithBaseURL(openaiServer(t, scalingReport).URL), openai.WithModel(openai.CheapModel)),
		provider.WithMaxAttempts(1))

	e, err := New(orchestrator.New(oa, an), moderator.New(synth))
	require.NoError(t, err)

	res, err := e.ProcessQuery(context.Background(), QueryInput{Question: "¿Cómo escalar el equipo?"})
	require.NoError(t, err)

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, moderator.QualityHigh, res.Quality)
	assert.Equal(t, []string{"Procesos de onboarding en equipos distribuidos"}, res.ResearchAreas)
	assert.Equal(t, []string{"¿Qué margen de caja exige duplicar la plantilla?"}, res.SuggestedQuestions)
	assert.Equal(t, []string{"Conviene contratar por etapas y no de golpe (Apoyado por: OPENAI, ANTHROPIC)"}, res.ConsensusAreas)
	assert.NotEmpty(t, res.Contradictions)
	assert.NotEmpty(t, res.Recommendations)
}
