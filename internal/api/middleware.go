package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "odprt-chatbot/gateway/pkg/errors"
)

// userIDKey is the gin context key the identity middleware stores the
// caller's uuid under. The logger middleware reads the same key.
const userIDKey = "userId"

// UserHeader carries the browser-held identity on every session request.
const UserHeader = "X-User-UUID"

// RequireUser extracts and validates the caller's uuid. Session-scoped
// routes refuse requests that carry none; identity creation happens on the
// start-session route, not here.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(UserHeader)
		if id == "" {
			c.Error(apperrors.NewBadRequestError("MISSING_USER", "the "+UserHeader+" header is required"))
			c.Abort()
			return
		}
		if _, err := uuid.Parse(id); err != nil {
			c.Error(apperrors.NewBadRequestError("INVALID_USER", "the "+UserHeader+" header must be a uuid"))
			c.Abort()
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// CurrentUser returns the uuid stored by RequireUser.
func CurrentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
