package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"odprt-chatbot/gateway/internal/api"
	"odprt-chatbot/gateway/internal/ws"
	"odprt-chatbot/gateway/pkg/config"
	"odprt-chatbot/gateway/pkg/di"
	"odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/middleware"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Hub       *ws.Hub
	Config    *config.Config
}

// New creates a new router around the dependency container and hub.
func New(container *di.Container, hub *ws.Hub) *Router {
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Logger middleware first so every later middleware sees the
	// request-scoped logger.
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.RequestIDMiddleware())

	rlOpts := middleware.DefaultRateLimiterOptions()
	rlOpts.Limit = rate.Limit(cfg.Security.RateLimit)
	rlOpts.Burst = cfg.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, rlOpts)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Hub:       hub,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	chatHandler := api.NewChatHandler(
		r.Container.Sessions,
		r.Container.Identity,
		r.Container.Files,
		r.Config.Features.MaxAttachmentsPerSend,
		r.Logger,
	)
	prefsHandler := api.NewPreferencesHandler(r.Container.Identity, r.Logger)

	v1 := r.Engine.Group("/api/v1")
	chatHandler.RegisterRoutes(v1)
	prefsHandler.RegisterRoutes(v1)

	if r.Config.Features.EnableAnalytics {
		api.NewDashboardHandler(r.Container.Analytics, r.Logger).RegisterRoutes(v1)
	}
	if r.Config.Features.EnableFileManagement {
		api.NewFilesHandler(r.Container.Files, r.Logger).RegisterRoutes(v1)
	}

	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.Config.Features.EnableWebSockets {
		r.Engine.GET("/ws", api.RequireUser(), func(c *gin.Context) {
			r.Hub.Serve(c, api.CurrentUser(c))
		})
	}
}

// corsMiddleware reflects allowed origins and handles preflight. The uuid
// header must be listed or the browser strips it.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Vary", "Origin")
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept", "Accept-Encoding",
			"Origin", "Upgrade", "Connection", "Cache-Control", api.UserHeader,
		}, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
