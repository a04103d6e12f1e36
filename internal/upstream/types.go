package upstream

// Sender values accepted by the backend message store.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Conversation mirrors the backend conversations table. Optional columns are
// pointers; absent JSON fields decode to nil rather than zero values so the
// render layer can distinguish "no rating yet" from "rated zero".
type Conversation struct {
	ID                   string    `json:"conversation_id"`
	UserID               string    `json:"user_id"`
	Title                string    `json:"conversation_title"`
	CreatedAt            Timestamp `json:"created_at"`
	UpdatedAt            Timestamp `json:"updated_at"`
	Topic                *string   `json:"topic,omitempty"`
	Rating               *int      `json:"rating,omitempty"`
	Feedback             *string   `json:"feedback,omitempty"`
	InterventionRequired bool      `json:"intervention_required"`
}

// HasTopic reports whether a topic has been inferred for the conversation.
func (c *Conversation) HasTopic() bool {
	return c.Topic != nil && *c.Topic != ""
}

// Message mirrors the backend messages table. IsUseful stays nil until the
// user votes; AttachedFileNames is informational and only ever set on user
// messages.
type Message struct {
	ID                string    `json:"message_id"`
	ConversationID    string    `json:"conversation_id"`
	Sender            string    `json:"sender"`
	Text              string    `json:"text"`
	IsUseful          *bool     `json:"is_useful,omitempty"`
	AttachedFileNames []string  `json:"attached_file_names,omitempty"`
	CreatedAt         Timestamp `json:"created_at"`
}

// normalize applies the documented defaults for fields older backend rows may
// omit: an unknown sender is treated as the bot so stray rows never render as
// the user's own words.
func (m *Message) normalize() {
	if m.Sender != SenderUser && m.Sender != SenderBot {
		m.Sender = SenderBot
	}
}

// QueryRequest is the payload for the chat query endpoint.
type QueryRequest struct {
	UserQuery       string `json:"user_query"`
	ChatHistory     string `json:"chat_history"`
	UploadedContent string `json:"uploaded_content"`
}

// EmailEscalation is the backend-drafted escalation email. The caller turns
// it into a mailto: link; the gateway never sends mail itself.
type EmailEscalation struct {
	Subject    string   `json:"email_subject"`
	Body       string   `json:"email_body"`
	Recipients []string `json:"email_recipients"`
}

// TopicCount is one row of the dashboard topic breakdown.
type TopicCount struct {
	Topic     string `json:"topic"`
	Frequency int    `json:"frequency"`
}

// UnresolvedTopic is one row of the escalated-topic breakdown.
type UnresolvedTopic struct {
	Faculty         string `json:"faculty"`
	Topic           string `json:"topic"`
	UnresolvedCount int    `json:"unresolved_count"`
}

// CountPoint is a dated total in a dashboard time series.
type CountPoint struct {
	Date  Timestamp `json:"date"`
	Total int       `json:"total"`
}

// RatingPoint is a dated average rating in a dashboard time series.
type RatingPoint struct {
	Date      Timestamp `json:"date"`
	AvgRating float64   `json:"avg_rating"`
}

// FeedbackSample is one of the most recent free-text feedback entries.
type FeedbackSample struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Feedback       string    `json:"feedback"`
	CreatedAt      Timestamp `json:"created_at"`
}

// MessageSample is one of the most recent thumbed messages.
type MessageSample struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      Timestamp `json:"created_at"`
}

// DashboardStats is the aggregate analytics payload for a date range. Every
// list defaults to empty and every average to zero when the backend reports
// no data for the range.
type DashboardStats struct {
	TotalConversations       int               `json:"total_conversations"`
	AvgMessagesPerConv       float64           `json:"avg_messages_per_conversation"`
	TotalUsers               int               `json:"total_users"`
	InterventionCount        int               `json:"intervention_count"`
	AvgTimeSpentSeconds      float64           `json:"avg_time_spent_per_conversation_seconds"`
	AvgRating                float64           `json:"avg_rating"`
	NewUsersSinceStart       int               `json:"new_users_since_start"`
	TopTopics                []TopicCount      `json:"top_topics"`
	UserQueriesOverTime      []CountPoint      `json:"user_queries_over_time"`
	TopUnresolvedTopics      []UnresolvedTopic `json:"top_unresolved_topics"`
	UserExperienceOverTime   []RatingPoint     `json:"user_experience_over_time"`
	TotalFeedbacks           int               `json:"total_feedbacks"`
	TotalThumbsUp            int               `json:"total_thumbs_up"`
	TotalThumbsDown          int               `json:"total_thumbs_down"`
	RecentFeedbacks          []FeedbackSample  `json:"recent_feedbacks"`
	RecentThumbsUpMessages   []MessageSample   `json:"recent_thumbs_up_messages"`
	RecentThumbsDownMessages []MessageSample   `json:"recent_thumbs_down_messages"`
}

// normalize replaces nil slices with empty ones so chart code never has to
// nil-check.
func (s *DashboardStats) normalize() {
	if s.TopTopics == nil {
		s.TopTopics = []TopicCount{}
	}
	if s.UserQueriesOverTime == nil {
		s.UserQueriesOverTime = []CountPoint{}
	}
	if s.TopUnresolvedTopics == nil {
		s.TopUnresolvedTopics = []UnresolvedTopic{}
	}
	if s.UserExperienceOverTime == nil {
		s.UserExperienceOverTime = []RatingPoint{}
	}
	if s.RecentFeedbacks == nil {
		s.RecentFeedbacks = []FeedbackSample{}
	}
	if s.RecentThumbsUpMessages == nil {
		s.RecentThumbsUpMessages = []MessageSample{}
	}
	if s.RecentThumbsDownMessages == nil {
		s.RecentThumbsDownMessages = []MessageSample{}
	}
}

// StoredFile is one entry of the knowledge bucket listing.
type StoredFile struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt Timestamp `json:"uploaded_at"`
}
