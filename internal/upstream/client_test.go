package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Output: io.Discard})
}

func TestListConversationsUnwrapsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u-1/conversations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data": [
			{"conversation_id": "c-1", "user_id": "u-1", "conversation_title": "Grants",
			 "created_at": "2025-03-15T08:29:53.163697", "updated_at": "2025-03-15T08:31:00",
			 "topic": "Funding", "rating": 4, "intervention_required": false}
		]}`)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	conversations, err := client.ListConversations(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	conv := conversations[0]
	assert.Equal(t, "c-1", conv.ID)
	assert.True(t, conv.HasTopic())
	require.NotNil(t, conv.Rating)
	assert.Equal(t, 4, *conv.Rating)

	// Backend timestamps carry no zone suffix and decode as UTC.
	want := time.Date(2025, 3, 15, 8, 29, 53, 163697000, time.UTC)
	assert.Equal(t, want, conv.CreatedAt.Time)
}

func TestListMessagesNormalizesUnknownSender(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data": [
			{"message_id": "m-1", "sender": "user", "text": "hi"},
			{"message_id": "m-2", "sender": "assistant", "text": "hello"}
		]}`)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	messages, err := client.ListMessages(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, SenderUser, messages[0].Sender)
	assert.Equal(t, SenderBot, messages[1].Sender, "unknown senders render as the bot")
}

func TestInsertMessageReturnsStoredCopy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		msg.ID = "m-77"
		json.NewEncoder(w).Encode(map[string]Message{"data": msg})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	stored, err := client.InsertMessage(context.Background(), Message{
		ConversationID: "c-1", Sender: SenderUser, Text: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "m-77", stored.ID)
	assert.Equal(t, "hello", stored.Text)
}

func TestUpdateTopicSendsQueryParam(t *testing.T) {
	var gotTopic string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTopic = r.URL.Query().Get("topic")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	require.NoError(t, client.UpdateTopic(context.Background(), "c-1", "Grant applications"))
	assert.Equal(t, "Grant applications", gotTopic)
}

func TestSetMessageUsefulSendsQueryParam(t *testing.T) {
	var gotUseful string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUseful = r.URL.Query().Get("is_useful")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	require.NoError(t, client.SetMessageUseful(context.Background(), "m-1", false))
	assert.Equal(t, "false", gotUseful)
}

func TestErrorIncludesStatusAndSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail": "validation error"}`)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	err := client.DeleteConversation(context.Background(), "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "validation error")
}

func TestAuthorizationHeaderSent(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"exists": true}`)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	client.SetAPIKey("secret-token")

	exists, err := client.VerifyUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestQueryReturnsAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is the deadline", req.UserQuery)
		io.WriteString(w, `{"answer": "March 31st"}`)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, testLogger())
	answer, err := client.Query(context.Background(), QueryRequest{UserQuery: "what is the deadline"})
	require.NoError(t, err)
	assert.Equal(t, "March 31st", answer)
}
