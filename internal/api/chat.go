package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"odprt-chatbot/gateway/internal/files"
	"odprt-chatbot/gateway/internal/identity"
	"odprt-chatbot/gateway/internal/session"
	apperrors "odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
)

// ChatHandler exposes the session coordinator over HTTP. Every route is
// scoped to the caller's uuid; the coordinator holds the actual state.
type ChatHandler struct {
	sessions       *session.Manager
	identity       *identity.Service
	files          *files.Service
	maxAttachments int
	log            *logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(sessions *session.Manager, ident *identity.Service, fs *files.Service, maxAttachments int, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions:       sessions,
		identity:       ident,
		files:          fs,
		maxAttachments: maxAttachments,
		log:            log,
	}
}

// RegisterRoutes mounts the chat routes on the given group.
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/session/start", h.StartSession)

	chat := rg.Group("/chat", RequireUser())
	{
		chat.GET("/state", h.State)
		chat.GET("/history", h.History)
		chat.POST("/history/toggle", h.ToggleHistory)
		chat.POST("/new", h.NewChat)
		chat.POST("/load", h.LoadChat)
		chat.POST("/send", h.Send)
		chat.POST("/activity", h.Activity)
		chat.POST("/messages/:id/feedback", h.MessageFeedback)
		chat.POST("/feedback", h.ConversationFeedback)
		chat.DELETE("/:id", h.DeleteChat)
		chat.POST("/:id/export", h.ExportChat)
	}
}

type startSessionRequest struct {
	UserID  string `json:"user_id"`
	Faculty string `json:"faculty"`
}

// StartSession bootstraps the caller's identity and returns the session
// snapshot with the fresh history. New visitors omit user_id and receive a
// minted one to persist client side.
func (h *ChatHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "request body must be JSON"))
		return
	}

	ident, err := h.identity.Bootstrap(c.Request.Context(), req.UserID, req.Faculty)
	if err != nil {
		c.Error(apperrors.FromError(err))
		return
	}

	coord := h.sessions.Get(ident.UserID)
	history := coord.RefreshHistory(c.Request.Context())

	snap := coord.Snapshot()
	snap.History = history
	c.JSON(http.StatusOK, gin.H{
		"identity": ident,
		"session":  snap,
	})
}

// State returns the current coordinator snapshot.
func (h *ChatHandler) State(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	c.JSON(http.StatusOK, coord.Snapshot())
}

// History refreshes and returns the conversation list.
func (h *ChatHandler) History(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	c.JSON(http.StatusOK, gin.H{"history": coord.RefreshHistory(c.Request.Context())})
}

// ToggleHistory flips the history panel preference.
func (h *ChatHandler) ToggleHistory(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	c.JSON(http.StatusOK, gin.H{"history_visible": coord.ToggleHistory()})
}

// NewChat clears the active conversation.
func (h *ChatHandler) NewChat(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	coord.StartNewChat()
	c.JSON(http.StatusOK, coord.Snapshot())
}

type loadChatRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// LoadChat switches the active conversation and returns the refreshed
// snapshot.
func (h *ChatHandler) LoadChat(c *gin.Context) {
	var req loadChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "conversation_id is required"))
		return
	}
	coord := h.sessions.Get(CurrentUser(c))
	coord.LoadChat(c.Request.Context(), req.ConversationID)
	c.JSON(http.StatusOK, coord.Snapshot())
}

// Send accepts a multipart form with a text field and optional attachment
// files. Attachments are parsed into text before the message goes to the
// coordinator, so a parse failure surfaces before anything is persisted.
func (h *ChatHandler) Send(c *gin.Context) {
	text := c.PostForm("text")

	form, err := c.MultipartForm()
	if err != nil && err != http.ErrNotMultipart {
		c.Error(apperrors.NewBadRequestError("INVALID_FORM", "request must be multipart form data"))
		return
	}

	var attachments []session.Attachment
	if form != nil {
		uploads := form.File["attachments"]
		if len(uploads) > h.maxAttachments {
			c.Error(apperrors.NewBadRequestError("TOO_MANY_ATTACHMENTS", "attachment limit exceeded"))
			return
		}
		for _, header := range uploads {
			f, err := header.Open()
			if err != nil {
				c.Error(apperrors.NewBadRequestError("UNREADABLE_ATTACHMENT", "could not read "+header.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.Error(apperrors.NewBadRequestError("UNREADABLE_ATTACHMENT", "could not read "+header.Filename))
				return
			}

			extracted, err := h.files.ParseAttachment(c.Request.Context(), header.Filename, data)
			if err != nil {
				c.Error(toAppError(err))
				return
			}
			attachments = append(attachments, session.Attachment{Name: header.Filename, Text: extracted})
		}
	}

	coord := h.sessions.Get(CurrentUser(c))
	appended, err := coord.SendMessage(c.Request.Context(), text, attachments)
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	if appended == nil {
		c.Error(apperrors.NewBadRequestError("EMPTY_MESSAGE", "a message needs text or an attachment"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": appended})
}

// Activity restarts the idle feedback countdown.
func (h *ChatHandler) Activity(c *gin.Context) {
	h.sessions.Activity(CurrentUser(c))
	c.Status(http.StatusNoContent)
}

type messageFeedbackRequest struct {
	Useful *bool `json:"useful" binding:"required"`
}

// MessageFeedback records a thumbs vote on a single message.
func (h *ChatHandler) MessageFeedback(c *gin.Context) {
	var req messageFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "useful is required"))
		return
	}
	coord := h.sessions.Get(CurrentUser(c))
	coord.SetMessageFeedback(c.Request.Context(), c.Param("id"), *req.Useful)
	c.Status(http.StatusNoContent)
}

type conversationFeedbackRequest struct {
	Rating    *int   `json:"rating"`
	Feedback  string `json:"feedback"`
	Submitted bool   `json:"submitted"`
}

// ConversationFeedback closes the idle feedback prompt, storing the rating
// when the user submitted rather than dismissed.
func (h *ChatHandler) ConversationFeedback(c *gin.Context) {
	var req conversationFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "request body must be JSON"))
		return
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		c.Error(apperrors.NewBadRequestError("INVALID_RATING", "rating must be between 1 and 5"))
		return
	}
	coord := h.sessions.Get(CurrentUser(c))
	coord.CloseFeedback(c.Request.Context(), req.Rating, req.Feedback, req.Submitted)
	c.Status(http.StatusNoContent)
}

// DeleteChat removes a conversation.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	coord.DeleteChat(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

// ExportChat drafts the escalation email and returns the mailto link.
func (h *ChatHandler) ExportChat(c *gin.Context) {
	coord := h.sessions.Get(CurrentUser(c))
	link, err := coord.ExportChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(apperrors.FromError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mailto": link})
}
