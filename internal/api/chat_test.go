package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/internal/files"
	"odprt-chatbot/gateway/internal/identity"
	"odprt-chatbot/gateway/internal/session"
	"odprt-chatbot/gateway/internal/upstream"
	apperrors "odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/timer"
	"odprt-chatbot/gateway/shared/redis"
)

// stubBackend satisfies both the session backend and identity directory
// surfaces with canned responses.
type stubBackend struct {
	conversations map[string]upstream.Conversation
	messages      map[string][]upstream.Message
	nextID        int
	knownUsers    map[string]bool
	insertConvErr error
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		conversations: make(map[string]upstream.Conversation),
		messages:      make(map[string][]upstream.Message),
		knownUsers:    make(map[string]bool),
	}
}

func (s *stubBackend) ListConversations(_ context.Context, userID string) ([]upstream.Conversation, error) {
	var out []upstream.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubBackend) ListMessages(_ context.Context, conversationID string) ([]upstream.Message, error) {
	return s.messages[conversationID], nil
}

func (s *stubBackend) InsertConversation(_ context.Context, conv upstream.Conversation) error {
	if s.insertConvErr != nil {
		return s.insertConvErr
	}
	s.conversations[conv.ID] = conv
	return nil
}

func (s *stubBackend) DeleteConversation(_ context.Context, conversationID string) error {
	delete(s.conversations, conversationID)
	return nil
}

func (s *stubBackend) InsertMessage(_ context.Context, msg upstream.Message) (upstream.Message, error) {
	s.nextID++
	msg.ID = "m-" + strconv.Itoa(s.nextID)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *stubBackend) SetMessageUseful(_ context.Context, _ string, _ bool) error { return nil }

func (s *stubBackend) Query(_ context.Context, _ upstream.QueryRequest) (string, error) {
	return "the deadline is March 31st", nil
}

func (s *stubBackend) MapTopics(_ context.Context, _ []string) (string, error) {
	return "Deadlines", nil
}

func (s *stubBackend) UpdateTopic(_ context.Context, _, _ string) error { return nil }

func (s *stubBackend) UpdateFeedback(_ context.Context, _ string, _ *int, _ string) error {
	return nil
}

func (s *stubBackend) MarkIntervention(_ context.Context, _ string) error { return nil }

func (s *stubBackend) EmailEscalation(_ context.Context, _ string) (upstream.EmailEscalation, error) {
	return upstream.EmailEscalation{
		Subject:    "Escalated enquiry",
		Body:       "Transcript attached.",
		Recipients: []string{"odprt@example.edu"},
	}, nil
}

func (s *stubBackend) VerifyUser(_ context.Context, userID string) (bool, error) {
	return s.knownUsers[userID], nil
}

func (s *stubBackend) CreateUser(_ context.Context, userID, _ string) error {
	s.knownUsers[userID] = true
	return nil
}

type memStore struct{ data map[string]string }

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

type nullBucket struct{}

func (nullBucket) ProcessUpload(_ context.Context, _ string, _ io.Reader) ([]string, error) {
	return []string{"extracted text"}, nil
}
func (nullBucket) IngestFiles(_ context.Context, _ map[string]io.Reader) error    { return nil }
func (nullBucket) UploadToBucket(_ context.Context, _ map[string]io.Reader) error { return nil }
func (nullBucket) FetchFiles(_ context.Context) ([]upstream.StoredFile, error) {
	return nil, nil
}
func (nullBucket) DeleteFiles(_ context.Context, _ []string) error { return nil }
func (nullBucket) DownloadFile(_ context.Context, _ string) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader("")), "", nil
}

func newTestEngine(t *testing.T) (*gin.Engine, *stubBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	backend := newStubBackend()

	sessions := session.NewManager(backend, timer.NewManual(), session.Config{
		IdleWindow:    5 * time.Minute,
		TopicDebounce: time.Minute,
	}, time.Hour, nil, log)
	t.Cleanup(sessions.Stop)

	ident := identity.NewService(backend, &memStore{data: make(map[string]string)}, 0, log)
	fileSvc := files.NewService(nullBucket{}, nil, []string{".pdf", ".txt"}, 1<<20, log)

	engine := gin.New()
	engine.Use(logger.Middleware(log))
	engine.Use(apperrors.ErrorHandler())

	v1 := engine.Group("/api/v1")
	NewChatHandler(sessions, ident, fileSvc, 5, log).RegisterRoutes(v1)
	NewPreferencesHandler(ident, log).RegisterRoutes(v1)

	return engine, backend
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestStartSessionMintsIdentity(t *testing.T) {
	engine, backend := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/session/start", "", gin.H{"faculty": "Medicine"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Identity identity.Identity `json:"identity"`
		Session  session.Snapshot  `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Identity.Created)
	_, err := uuid.Parse(resp.Identity.UserID)
	assert.NoError(t, err)
	assert.True(t, backend.knownUsers[resp.Identity.UserID])
	assert.Empty(t, resp.Session.ActiveConversationID)
}

func TestChatRoutesRequireUserHeader(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/api/v1/chat/state", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/v1/chat/state", "not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendAndState(t *testing.T) {
	engine, _ := newTestEngine(t)
	userID := uuid.NewString()

	form := url.Values{"text": {"what is the deadline"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(UserHeader, userID)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var sendResp struct {
		Messages []upstream.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sendResp))
	require.Len(t, sendResp.Messages, 2)
	assert.Equal(t, "the deadline is March 31st", sendResp.Messages[1].Text)

	w = doJSON(t, engine, http.MethodGet, "/api/v1/chat/state", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.ActiveConversationID)
	assert.Len(t, snap.Messages, 2)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	engine, _ := newTestEngine(t)

	form := url.Values{"text": {"   "}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(UserHeader, uuid.NewString())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendConversationCreateFailureIsUpstreamError(t *testing.T) {
	engine, backend := newTestEngine(t)
	backend.insertConvErr = errors.New("backend down")

	form := url.Values{"text": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(UserHeader, uuid.NewString())
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	// A valid message failing on the backend is not the caller's fault.
	require.Equal(t, http.StatusBadGateway, w.Code)
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "UPSTREAM_ERROR", resp.Error.Code)
}

func TestConversationFeedbackValidatesRating(t *testing.T) {
	engine, _ := newTestEngine(t)
	userID := uuid.NewString()

	w := doJSON(t, engine, http.MethodPost, "/api/v1/chat/feedback", userID,
		gin.H{"rating": 9, "submitted": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/api/v1/chat/feedback", userID,
		gin.H{"rating": 4, "feedback": "helpful", "submitted": true})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestExportChatReturnsMailto(t *testing.T) {
	engine, backend := newTestEngine(t)
	userID := uuid.NewString()

	backend.messages["c-9"] = []upstream.Message{
		{ID: "m-1", ConversationID: "c-9", Sender: upstream.SenderUser, Text: "help"},
	}

	w := doJSON(t, engine, http.MethodPost, "/api/v1/chat/c-9/export", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mailto string `json:"mailto"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Mailto, "mailto:odprt@example.edu?"))
}

func TestPreferencesRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t)
	userID := uuid.NewString()

	w := doJSON(t, engine, http.MethodGet, "/api/v1/preferences", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var prefs identity.Preferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.True(t, prefs.HistoryVisible)

	prefs.Faculty = "Engineering"
	prefs.HistoryVisible = false
	w = doJSON(t, engine, http.MethodPut, "/api/v1/preferences", userID, prefs)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/api/v1/preferences", userID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got identity.Preferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, prefs, got)
}
