package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"odprt-chatbot/gateway/internal/identity"
	apperrors "odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
)

// PreferencesHandler persists per-user display settings so a returning
// browser restores its last view.
type PreferencesHandler struct {
	identity *identity.Service
	log      *logger.Logger
}

// NewPreferencesHandler creates a preferences handler.
func NewPreferencesHandler(svc *identity.Service, log *logger.Logger) *PreferencesHandler {
	return &PreferencesHandler{identity: svc, log: log}
}

// RegisterRoutes mounts the preference routes on the given group.
func (h *PreferencesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	prefs := rg.Group("/preferences", RequireUser())
	{
		prefs.GET("", h.Get)
		prefs.PUT("", h.Put)
	}
}

// Get returns the stored preferences, defaults when none exist.
func (h *PreferencesHandler) Get(c *gin.Context) {
	prefs, err := h.identity.GetPreferences(c.Request.Context(), CurrentUser(c))
	if err != nil {
		c.Error(apperrors.FromError(err))
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// Put replaces the stored preferences.
func (h *PreferencesHandler) Put(c *gin.Context) {
	var prefs identity.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_BODY", "request body must be JSON preferences"))
		return
	}
	if err := h.identity.SetPreferences(c.Request.Context(), CurrentUser(c), prefs); err != nil {
		c.Error(apperrors.FromError(err))
		return
	}
	c.JSON(http.StatusOK, prefs)
}
