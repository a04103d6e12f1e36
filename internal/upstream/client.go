package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"odprt-chatbot/gateway/pkg/config"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/resilience"
)

// Client is a typed HTTP client for the remote chatbot backend. Every
// business operation of the gateway goes through here; the backend owns all
// persistence and inference.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	maxBody int64
	log     *logger.Logger
	cb      *resilience.CircuitBreaker
}

// NewClient creates a Client from the application config.
func NewClient(log *logger.Logger) *Client {
	cfg := config.Get()
	return &Client{
		http:    &http.Client{Timeout: cfg.Upstream.Timeout},
		baseURL: cfg.Upstream.BaseURL,
		apiKey:  cfg.Upstream.APIKey,
		maxBody: cfg.Upstream.MaxBodySize,
		log:     log,
		cb:      resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("upstream"), log),
	}
}

// NewClientWithBaseURL creates a Client against an explicit base URL,
// bypassing the config singleton. Used by tests.
func NewClientWithBaseURL(baseURL string, log *logger.Logger) *Client {
	return &Client{
		http:    http.DefaultClient,
		baseURL: baseURL,
		maxBody: 10 << 20,
		log:     log,
		cb:      resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("upstream"), log),
	}
}

// SetAPIKey overrides the bearer token sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

// Ping checks backend reachability for health reporting. It bypasses the
// circuit breaker so the health page can still observe a tripped backend.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out (when out is non-nil). Non-2xx statuses are errors.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return c.cb.Execute(func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal %s %s: %w", method, path, err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build %s %s: %w", method, path, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(snippet))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBody)).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	})
}

// envelope is the {"data": ...} wrapper the chat-history routes respond with.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) getData(ctx context.Context, path string, out any) error {
	var env envelope
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// VerifyUser checks whether the user id is registered.
func (c *Client) VerifyUser(ctx context.Context, userID string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// CreateUser registers a new user identity.
func (c *Client) CreateUser(ctx context.Context, userID, faculty string) error {
	body := map[string]string{"uuid": userID, "faculty": faculty}
	return c.doJSON(ctx, http.MethodPost, "/users/create", body, nil)
}

// ListConversations returns the user's chat history, newest first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var conversations []Conversation
	err := c.getData(ctx, "/users/"+url.PathEscape(userID)+"/conversations", &conversations)
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// ListMessages returns the ordered message log of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var messages []Message
	err := c.getData(ctx, "/conversations/"+url.PathEscape(conversationID)+"/messages", &messages)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].normalize()
	}
	return messages, nil
}

// InsertConversation persists a newly created conversation.
func (c *Client) InsertConversation(ctx context.Context, conv Conversation) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/insert", conv, nil)
}

// UpdateTopic stores the inferred topic for a conversation.
func (c *Client) UpdateTopic(ctx context.Context, conversationID, topic string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/topic?topic=" + url.QueryEscape(topic)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

// UpdateFeedback stores the conversation rating and free-text feedback.
// Either field may be absent.
func (c *Client) UpdateFeedback(ctx context.Context, conversationID string, rating *int, text string) error {
	body := map[string]any{}
	if rating != nil {
		body["rating"] = *rating
	}
	if text != "" {
		body["text"] = text
	}
	return c.doJSON(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/feedback", body, nil)
}

// MarkIntervention flags the conversation as escalated to a human.
func (c *Client) MarkIntervention(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/intervention", nil, nil)
}

// DeleteConversation deletes a conversation and, by cascade, its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil, nil)
}

// InsertMessage persists a message and returns the stored copy carrying the
// backend-assigned message id.
func (c *Client) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	var env envelope
	if err := c.doJSON(ctx, http.MethodPost, "/messages/insert", msg, &env); err != nil {
		return Message{}, err
	}
	stored := msg
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &stored); err != nil {
			return Message{}, fmt.Errorf("decode inserted message: %w", err)
		}
	}
	stored.normalize()
	return stored, nil
}

// SetMessageUseful stores the thumbs up / thumbs down vote for a message.
func (c *Client) SetMessageUseful(ctx context.Context, messageID string, useful bool) error {
	path := fmt.Sprintf("/messages/%s/useful?is_useful=%t", url.PathEscape(messageID), useful)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil)
}

// Query submits the user query with transcript context and returns the bot
// answer.
func (c *Client) Query(ctx context.Context, req QueryRequest) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/query/", req, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// MapTopics infers a topic label from the conversation's message texts.
func (c *Client) MapTopics(ctx context.Context, qaPairs []string) (string, error) {
	body := map[string][]string{"qa_pairs": qaPairs}
	var resp struct {
		Topic string `json:"topic"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/topic-model/map-topics/", body, &resp); err != nil {
		return "", err
	}
	return resp.Topic, nil
}

// EmailEscalation asks the backend to draft an escalation email for the given
// transcript.
func (c *Client) EmailEscalation(ctx context.Context, transcript string) (EmailEscalation, error) {
	body := map[string]string{"chat_history": transcript}
	var resp EmailEscalation
	if err := c.doJSON(ctx, http.MethodPost, "/chat/email-escalation/", body, &resp); err != nil {
		return EmailEscalation{}, err
	}
	return resp, nil
}

// FetchDashboard returns aggregate analytics for the date range.
func (c *Client) FetchDashboard(ctx context.Context, startDate, endDate string) (DashboardStats, error) {
	body := map[string]string{"start_date": startDate, "end_date": endDate}
	var stats DashboardStats
	if err := c.doJSON(ctx, http.MethodPost, "/dashboard/fetch", body, &stats); err != nil {
		return DashboardStats{}, err
	}
	stats.normalize()
	return stats, nil
}

// doMultipart posts one or more files as a multipart form and decodes the
// JSON response into out (when non-nil).
func (c *Client) doMultipart(ctx context.Context, path, field string, files map[string]io.Reader, out any) error {
	return c.cb.Execute(func() error {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for name, r := range files {
			part, err := writer.CreateFormFile(field, name)
			if err != nil {
				return fmt.Errorf("multipart %s: %w", path, err)
			}
			if _, err := io.Copy(part, r); err != nil {
				return fmt.Errorf("multipart %s: %w", path, err)
			}
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("multipart %s: %w", path, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
		if err != nil {
			return fmt.Errorf("build POST %s: %w", path, err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("POST %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, string(snippet))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBody)).Decode(out); err != nil {
			return fmt.Errorf("decode POST %s: %w", path, err)
		}
		return nil
	})
}

// ProcessUpload sends a chat attachment through the document parser and
// returns its extracted text chunks.
func (c *Client) ProcessUpload(ctx context.Context, filename string, r io.Reader) ([]string, error) {
	var resp struct {
		TextChunks []string `json:"text_chunks"`
	}
	files := map[string]io.Reader{filename: r}
	if err := c.doMultipart(ctx, "/document-parser/process-upload/", "file", files, &resp); err != nil {
		return nil, err
	}
	return resp.TextChunks, nil
}

// IngestFiles pushes knowledge files into the retrieval index.
func (c *Client) IngestFiles(ctx context.Context, files map[string]io.Reader) error {
	return c.doMultipart(ctx, "/ingestion/ingest-files/", "files", files, nil)
}

// UploadToBucket stores knowledge files in the document bucket.
func (c *Client) UploadToBucket(ctx context.Context, files map[string]io.Reader) error {
	return c.doMultipart(ctx, "/buckets/upload/", "files", files, nil)
}

// FetchFiles lists the files currently in the document bucket.
func (c *Client) FetchFiles(ctx context.Context) ([]StoredFile, error) {
	var files []StoredFile
	if err := c.doJSON(ctx, http.MethodGet, "/buckets/fetch-files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFiles removes the named files from the document bucket.
func (c *Client) DeleteFiles(ctx context.Context, fileNames []string) error {
	body := map[string][]string{"file_names": fileNames}
	return c.doJSON(ctx, http.MethodDelete, "/buckets/delete", body, nil)
}

// DownloadFile streams a bucket file. The caller must close the returned
// reader.
func (c *Client) DownloadFile(ctx context.Context, filePath string) (io.ReadCloser, string, error) {
	reqURL := c.baseURL + "/buckets/download-file?file_path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", filePath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download %s: status %d", filePath, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
