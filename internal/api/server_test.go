package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnswer = "Откройте BIOS клавишей Del."

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	engine, st := testutil.NewTestEngine(testutil.NewStubProducer(testAnswer))
	opts = append([]Option{WithFeedbackRepo(st), WithConversationCounter(st.ConversationCount)}, opts...)
	return NewServer(engine, opts...), st
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var env envelope
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func TestMessages_AnswersAndStoresContinuation(t *testing.T) {
	s, st := newTestServer(t)

	rr, env := do(t, s, http.MethodPost, "/messages", MessageRequest{ConversationID: "c1", Text: "настройка BIOS"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", env.Status)

	var result MessageResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, "c1", result.ConversationID)
	assert.Equal(t, testAnswer, result.Reply.Text)
	assert.Equal(t, flow.FeedbackOptions, result.Reply.Options)

	state, err := st.GetState(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateContinuation, state.Kind)
}

func TestMessages_GeneratesConversationID(t *testing.T) {
	s, _ := newTestServer(t)
	rr, env := do(t, s, http.MethodPost, "/messages", MessageRequest{Text: "установка"})
	require.Equal(t, http.StatusOK, rr.Code)

	var result MessageResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	_, err := uuid.Parse(result.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Windows", "Linux", "Astra"}, result.Reply.Options)
}

func TestMessages_AnswerUnavailable(t *testing.T) {
	p := testutil.NewStubProducer(testAnswer)
	p.Err = errors.New("model timeout")
	engine, st := testutil.NewTestEngine(p)
	s := NewServer(engine)

	rr, env := do(t, s, http.MethodPost, "/messages", MessageRequest{ConversationID: "c9", Text: "настройка BIOS"})
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "POST /messages with the producer down")
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, models.ErrAnswerUnavailable.Error())

	var result MessageResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, flow.DefaultMessages().Apology, result.Reply.Text)
	assert.Equal(t, 0, st.ConversationCount())
}

func TestMessages_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, s, http.MethodGet, "/messages", nil)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /messages")
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestConversation_GetAndReset(t *testing.T) {
	var resets []string
	s, st := newTestServer(t, WithResetHook(func(id string) { resets = append(resets, id) }))
	do(t, s, http.MethodPost, "/messages", MessageRequest{ConversationID: "c2", Text: "raid"})

	rr, env := do(t, s, http.MethodGet, "/conversations/c2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var state models.ConversationState
	require.NoError(t, json.Unmarshal(env.Result, &state))
	assert.Equal(t, models.StateAwaitingClarification, state.Kind)
	assert.Equal(t, "raid", state.Question)

	rr, _ = do(t, s, http.MethodDelete, "/conversations/c2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, st.ConversationCount())
	assert.Equal(t, []string{"c2"}, resets)

	rr, env = do(t, s, http.MethodGet, "/conversations/c2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Result, &state))
	assert.Equal(t, models.StateIdle, state.Kind)
}

func TestFeedback_RecordAndList(t *testing.T) {
	s, _ := newTestServer(t)

	rr, _ := do(t, s, http.MethodPost, "/feedback", FeedbackRequest{ConversationID: "c3", Verdict: "helpful"})
	assert.Equal(t, http.StatusConflict, rr.Code, "nothing answered yet")

	do(t, s, http.MethodPost, "/messages", MessageRequest{ConversationID: "c3", Text: "настройка BIOS"})

	rr, env := do(t, s, http.MethodPost, "/feedback", FeedbackRequest{ConversationID: "c3", Verdict: "helpful"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /feedback")
	assert.Equal(t, "recorded", env.Status)

	rr, _ = do(t, s, http.MethodPost, "/feedback", FeedbackRequest{ConversationID: "c3", Verdict: "meh"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = do(t, s, http.MethodGet, "/feedback?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []models.Feedback
	require.NoError(t, json.Unmarshal(env.Result, &records))
	require.Len(t, records, 1)
	assert.Equal(t, models.VerdictHelpful, records[0].Verdict)
	assert.Equal(t, "настройка BIOS", records[0].Question)
	assert.Equal(t, testAnswer, records[0].Answer)

	rr, _ = do(t, s, http.MethodGet, "/feedback?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/messages", MessageRequest{ConversationID: "c4", Text: "raid"})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(1), health["conversations"])
}

func TestTwilioWebhook_Mounted(t *testing.T) {
	called := false
	s, _ := newTestServer(t, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/twilio/webhook", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)

	s, _ = newTestServer(t)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/twilio/webhook", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
