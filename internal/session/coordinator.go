package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"odprt-chatbot/gateway/internal/upstream"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/timer"
)

// UnableToAnswerPrefix is the canned apology the bot produces when it cannot
// answer. Conversations whose first reply starts with it are not worth a
// topic-inference call.
const UnableToAnswerPrefix = "I am sorry, but I am unable to provide a response to your query at the moment"

// failureReplyText is the synthetic bot message appended when the query or
// its persistence fails, so the log never ends on a pending user message.
const failureReplyText = "Something went wrong"

// maxProvisionalTitle bounds the conversation title synthesized from the
// first message.
const maxProvisionalTitle = 80

// Backend is the slice of the upstream client the coordinator needs.
type Backend interface {
	ListConversations(ctx context.Context, userID string) ([]upstream.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]upstream.Message, error)
	InsertConversation(ctx context.Context, conv upstream.Conversation) error
	DeleteConversation(ctx context.Context, conversationID string) error
	InsertMessage(ctx context.Context, msg upstream.Message) (upstream.Message, error)
	SetMessageUseful(ctx context.Context, messageID string, useful bool) error
	Query(ctx context.Context, req upstream.QueryRequest) (string, error)
	MapTopics(ctx context.Context, qaPairs []string) (string, error)
	UpdateTopic(ctx context.Context, conversationID, topic string) error
	UpdateFeedback(ctx context.Context, conversationID string, rating *int, text string) error
	MarkIntervention(ctx context.Context, conversationID string) error
	EmailEscalation(ctx context.Context, transcript string) (upstream.EmailEscalation, error)
}

// Attachment is a chat attachment after document-parser extraction.
type Attachment struct {
	Name string
	Text string
}

// Config carries the coordinator timer windows.
type Config struct {
	IdleWindow    time.Duration
	TopicDebounce time.Duration
}

// Coordinator owns one user's active conversation: the message log, the
// idle-to-feedback timer and the debounced topic evaluation. All state is
// process local; the backend owns persistence. Backend failures degrade the
// affected feature and never roll local state back.
type Coordinator struct {
	userID  string
	backend Backend
	log     *logger.Logger
	notify  Notifier

	idleTimer  *timer.Debouncer
	topicTimer *timer.Debouncer

	// sendMu serializes SendMessage so the user message always precedes the
	// bot reply in the log.
	sendMu sync.Mutex

	mu              sync.Mutex
	activeID        string
	messages        []upstream.Message
	history         []upstream.Conversation
	feedbackVisible bool
	historyVisible  bool
	lastActivity    time.Time
}

// NewCoordinator creates a coordinator for one user and arms its idle timer.
func NewCoordinator(userID string, backend Backend, sched timer.Scheduler, cfg Config, notify Notifier, log *logger.Logger) *Coordinator {
	c := &Coordinator{
		userID:         userID,
		backend:        backend,
		log:            log.WithUserID(userID),
		notify:         notify,
		idleTimer:      timer.NewDebouncer(sched, cfg.IdleWindow),
		topicTimer:     timer.NewDebouncer(sched, cfg.TopicDebounce),
		historyVisible: true,
		lastActivity:   time.Now(),
	}
	c.ResetIdleTimer()
	return c
}

// Snapshot is a copy of the coordinator state for the render layer.
type Snapshot struct {
	ActiveConversationID string                  `json:"active_conversation_id"`
	Messages             []upstream.Message      `json:"messages"`
	History              []upstream.Conversation `json:"history"`
	FeedbackVisible      bool                    `json:"feedback_visible"`
	HistoryVisible       bool                    `json:"history_visible"`
}

// Snapshot returns a consistent copy of the coordinator state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ActiveConversationID: c.activeID,
		Messages:             append([]upstream.Message(nil), c.messages...),
		History:              append([]upstream.Conversation(nil), c.history...),
		FeedbackVisible:      c.feedbackVisible,
		HistoryVisible:       c.historyVisible,
	}
}

// LastActivity reports when the coordinator last saw a user action. The
// manager uses it to reap abandoned sessions.
func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Coordinator) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// publish delivers an event when a notifier is attached.
func (c *Coordinator) publish(ev Event) {
	if c.notify != nil {
		c.notify.Publish(c.userID, ev)
	}
}

// StartNewChat clears the active conversation and empties the message log.
// No backend call happens; the next outgoing message creates the
// conversation. Any pending topic evaluation for the old conversation is
// cancelled.
func (c *Coordinator) StartNewChat() {
	c.topicTimer.Stop()
	c.mu.Lock()
	c.activeID = ""
	c.messages = nil
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LoadChat makes conversationID active and replaces the log with its
// messages. Fails soft: a fetch error leaves the log empty rather than
// surfacing to the UI.
func (c *Coordinator) LoadChat(ctx context.Context, conversationID string) {
	c.topicTimer.Stop()

	messages, err := c.backend.ListMessages(ctx, conversationID)
	if err != nil {
		c.log.LogError(err, "load chat failed, showing empty log", "conversation_id", conversationID)
		messages = nil
	}

	// The topic gate reads the conversation's record from the history
	// list; without it an already-labeled conversation would be
	// re-inferred on the next message.
	c.mu.Lock()
	known := false
	for _, conv := range c.history {
		if conv.ID == conversationID {
			known = true
			break
		}
	}
	c.mu.Unlock()
	if !known {
		c.RefreshHistory(ctx)
	}

	c.mu.Lock()
	c.activeID = conversationID
	c.messages = messages
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// RefreshHistory replaces the visible history list from the backend and
// returns a copy of it. Fails soft to the previous list. The copy matters:
// DeleteChat compacts the stored slice in place, so handing out the backing
// array would let a later delete rewrite a snapshot already given to a
// caller.
func (c *Coordinator) RefreshHistory(ctx context.Context) []upstream.Conversation {
	conversations, err := c.backend.ListConversations(ctx, c.userID)
	if err != nil {
		c.log.LogError(err, "history refresh failed")
		c.mu.Lock()
		defer c.mu.Unlock()
		return append([]upstream.Conversation(nil), c.history...)
	}
	c.mu.Lock()
	c.history = conversations
	c.mu.Unlock()
	return append([]upstream.Conversation(nil), conversations...)
}

// ToggleHistory flips the history panel flag and returns the new value.
func (c *Coordinator) ToggleHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyVisible = !c.historyVisible
	return c.historyVisible
}

// SendMessage persists the outgoing user message, queries the bot and
// appends both to the log in order. An empty message with no attachments is
// a (nil, nil) no-op. Conversation creation is the one upstream call that
// cannot degrade, since every later insert needs the id, so its failure is
// returned. A query or message-insert failure still appends a single
// synthetic bot message instead of leaving the log pending.
func (c *Coordinator) SendMessage(ctx context.Context, text string, attachments []Attachment) ([]upstream.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return nil, nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.touch()

	conversationID, err := c.ensureConversation(ctx, text)
	if err != nil {
		c.log.LogError(err, "conversation create failed")
		return nil, err
	}

	var appended []upstream.Message

	fileNames := make([]string, 0, len(attachments))
	var extracted []string
	for _, a := range attachments {
		fileNames = append(fileNames, a.Name)
		if a.Text != "" {
			extracted = append(extracted, a.Text)
		}
	}

	userMsg := c.persistAndAppend(ctx, upstream.Message{
		ConversationID:    conversationID,
		Sender:            upstream.SenderUser,
		Text:              text,
		AttachedFileNames: fileNames,
		CreatedAt:         upstream.NewTimestamp(time.Now()),
	})
	appended = append(appended, userMsg)

	answer, err := c.backend.Query(ctx, upstream.QueryRequest{
		UserQuery:       text,
		ChatHistory:     c.transcript(),
		UploadedContent: strings.Join(extracted, " "),
	})
	if err != nil {
		c.log.LogError(err, "query failed", "conversation_id", conversationID)
		answer = failureReplyText
	}

	botMsg := c.persistAndAppend(ctx, upstream.Message{
		ConversationID: conversationID,
		Sender:         upstream.SenderBot,
		Text:           answer,
		CreatedAt:      upstream.NewTimestamp(time.Now()),
	})
	appended = append(appended, botMsg)

	return appended, nil
}

// ensureConversation returns the active conversation id, creating and
// registering a new conversation first when none is active. Creation happens
// before any message insert so no message can be orphaned.
func (c *Coordinator) ensureConversation(ctx context.Context, firstText string) (string, error) {
	c.mu.Lock()
	active := c.activeID
	c.mu.Unlock()
	if active != "" {
		return active, nil
	}

	conv := upstream.Conversation{
		ID:        uuid.NewString(),
		UserID:    c.userID,
		Title:     provisionalTitle(firstText),
		CreatedAt: upstream.NewTimestamp(time.Now()),
		UpdatedAt: upstream.NewTimestamp(time.Now()),
	}
	if err := c.backend.InsertConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	c.mu.Lock()
	c.activeID = conv.ID
	c.messages = nil
	c.history = append([]upstream.Conversation{conv}, c.history...)
	c.mu.Unlock()

	c.publish(Event{Type: EventConversationCreated, ConversationID: conv.ID, Conversation: &conv})
	return conv.ID, nil
}

// persistAndAppend inserts the message and appends the backend-confirmed
// copy, which carries the assigned message id the feedback flow needs. When
// the insert fails the message is still shown locally under a synthesized id
// (persisted-but-locally-shown degradation).
func (c *Coordinator) persistAndAppend(ctx context.Context, msg upstream.Message) upstream.Message {
	stored, err := c.backend.InsertMessage(ctx, msg)
	if err != nil {
		c.log.LogError(err, "message insert failed", "conversation_id", msg.ConversationID)
		stored = msg
		stored.ID = uuid.NewString()
	}

	c.mu.Lock()
	c.messages = append(c.messages, stored)
	conversationID := c.activeID
	c.mu.Unlock()

	c.publish(Event{Type: EventMessage, ConversationID: msg.ConversationID, Message: &stored})
	c.scheduleTopicEvaluation(conversationID)
	return stored
}

// transcript renders the current log as sender-prefixed lines, chronological,
// newest last. It feeds the query endpoint as chat context.
func (c *Coordinator) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		lines = append(lines, m.Sender+":"+m.Text)
	}
	return strings.Join(lines, "\n\n")
}

// SetMessageFeedback updates the matching message's usefulness flag in place
// and fires a best-effort backend update. The local flag is authoritative for
// display; a backend failure is logged and never rolled back.
func (c *Coordinator) SetMessageFeedback(ctx context.Context, messageID string, useful bool) {
	c.touch()

	c.mu.Lock()
	var found bool
	for i := range c.messages {
		if c.messages[i].ID != messageID {
			continue
		}
		found = true
		if c.messages[i].IsUseful != nil && *c.messages[i].IsUseful == useful {
			c.mu.Unlock()
			return
		}
		v := useful
		c.messages[i].IsUseful = &v
		break
	}
	c.mu.Unlock()

	if !found {
		return
	}
	if err := c.backend.SetMessageUseful(ctx, messageID, useful); err != nil {
		c.log.LogError(err, "message feedback update failed", "message_id", messageID)
	}
}

// DeleteChat requests backend deletion and removes the conversation from the
// visible history regardless of the outcome. Deleting the active conversation
// clears the log.
func (c *Coordinator) DeleteChat(ctx context.Context, conversationID string) {
	c.touch()

	if err := c.backend.DeleteConversation(ctx, conversationID); err != nil {
		c.log.LogError(err, "conversation delete failed", "conversation_id", conversationID)
	}

	c.mu.Lock()
	kept := c.history[:0]
	for _, conv := range c.history {
		if conv.ID != conversationID {
			kept = append(kept, conv)
		}
	}
	c.history = kept
	wasActive := c.activeID == conversationID
	if wasActive {
		c.activeID = ""
		c.messages = nil
	}
	c.mu.Unlock()

	if wasActive {
		c.topicTimer.Stop()
	}
	c.publish(Event{Type: EventConversationDeleted, ConversationID: conversationID})
}

// scheduleTopicEvaluation rearms the debounced topic evaluation against the
// given conversation. Each new message restarts the quiet window.
func (c *Coordinator) scheduleTopicEvaluation(conversationID string) {
	if conversationID == "" {
		return
	}
	c.topicTimer.Reset(func() {
		c.MaybeGenerateTopic(context.Background(), conversationID)
	})
}

// MaybeGenerateTopic runs topic inference when the quiet window elapsed and
// all policy gates pass: the conversation still has no topic, the log has at
// least two messages, the second is a bot reply and that reply is not the
// canned apology. A stale evaluation (the user switched chats while inference
// ran) is dropped rather than applied.
func (c *Coordinator) MaybeGenerateTopic(ctx context.Context, conversationID string) {
	c.mu.Lock()
	if c.activeID != conversationID || !c.topicPolicyLocked(conversationID) {
		c.mu.Unlock()
		return
	}
	texts := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		texts = append(texts, m.Text)
	}
	c.mu.Unlock()

	topic, err := c.backend.MapTopics(ctx, texts)
	if err != nil || topic == "" {
		if err != nil {
			c.log.LogError(err, "topic inference failed", "conversation_id", conversationID)
		}
		return
	}

	c.mu.Lock()
	if c.activeID != conversationID {
		// Inference outlasted the conversation switch; drop the result.
		c.mu.Unlock()
		return
	}
	for i := range c.history {
		if c.history[i].ID == conversationID {
			t := topic
			c.history[i].Topic = &t
			break
		}
	}
	c.mu.Unlock()

	if err := c.backend.UpdateTopic(ctx, conversationID, topic); err != nil {
		c.log.LogError(err, "topic update failed", "conversation_id", conversationID)
	}
	c.publish(Event{Type: EventTopicUpdated, ConversationID: conversationID, Topic: topic})
}

// topicPolicyLocked evaluates the inference gates. Caller holds c.mu.
func (c *Coordinator) topicPolicyLocked(conversationID string) bool {
	for _, conv := range c.history {
		if conv.ID == conversationID && conv.HasTopic() {
			return false
		}
	}
	if len(c.messages) < 2 {
		return false
	}
	second := c.messages[1]
	if second.Sender != upstream.SenderBot {
		return false
	}
	if strings.HasPrefix(second.Text, UnableToAnswerPrefix) {
		return false
	}
	return true
}

// ResetIdleTimer restarts the idle countdown. Any user activity and every
// feedback-form close call it; only a full uninterrupted window raises the
// feedback prompt, exactly once per idle period.
func (c *Coordinator) ResetIdleTimer() {
	c.touch()
	c.idleTimer.Reset(func() {
		c.mu.Lock()
		c.feedbackVisible = true
		conversationID := c.activeID
		c.mu.Unlock()
		c.publish(Event{Type: EventFeedbackPrompt, ConversationID: conversationID})
	})
}

// FeedbackVisible reports whether the feedback prompt is currently raised.
func (c *Coordinator) FeedbackVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedbackVisible
}

// CloseFeedback dismisses the feedback prompt. When submitted with a rating
// or text and a conversation is active, the feedback is stored best-effort.
// Closing always restarts the idle countdown so the user is re-prompted only
// after another full idle window.
func (c *Coordinator) CloseFeedback(ctx context.Context, rating *int, text string, submitted bool) {
	c.mu.Lock()
	c.feedbackVisible = false
	conversationID := c.activeID
	c.mu.Unlock()

	if submitted && conversationID != "" && (rating != nil || text != "") {
		if err := c.backend.UpdateFeedback(ctx, conversationID, rating, text); err != nil {
			c.log.LogError(err, "conversation feedback update failed", "conversation_id", conversationID)
		}
	}
	c.ResetIdleTimer()
}

// ExportChat drafts an escalation email from the conversation transcript,
// flags the conversation for human intervention and returns a mailto: link
// for the browser to open.
func (c *Coordinator) ExportChat(ctx context.Context, conversationID string) (string, error) {
	c.touch()

	messages, err := c.backend.ListMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("export chat: %w", err)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("export chat: conversation %s has no messages", conversationID)
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, "Sender: "+m.Sender+"\nMessage: "+m.Text)
	}
	transcript := strings.Join(lines, "\n\n")

	email, err := c.backend.EmailEscalation(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("export chat: %w", err)
	}
	if err := c.backend.MarkIntervention(ctx, conversationID); err != nil {
		c.log.LogError(err, "intervention flag update failed", "conversation_id", conversationID)
	}

	link := "mailto:" + strings.Join(email.Recipients, ",") +
		"?subject=" + url.QueryEscape(email.Subject) +
		"&body=" + url.QueryEscape(email.Body)
	return link, nil
}

// Close cancels both timers. Called when the manager reaps the session.
func (c *Coordinator) Close() {
	c.idleTimer.Stop()
	c.topicTimer.Stop()
}

// provisionalTitle derives the initial conversation title from the first
// message, truncated on a rune boundary.
func provisionalTitle(text string) string {
	if text == "" {
		return "New conversation"
	}
	runes := []rune(text)
	if len(runes) <= maxProvisionalTitle {
		return text
	}
	return string(runes[:maxProvisionalTitle])
}
