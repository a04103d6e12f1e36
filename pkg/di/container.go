package di

import (
	"context"
	"time"

	"odprt-chatbot/gateway/internal/analytics"
	"odprt-chatbot/gateway/internal/files"
	"odprt-chatbot/gateway/internal/identity"
	"odprt-chatbot/gateway/internal/session"
	"odprt-chatbot/gateway/internal/upstream"
	"odprt-chatbot/gateway/pkg/cache"
	"odprt-chatbot/gateway/pkg/config"
	"odprt-chatbot/gateway/pkg/health"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/secrets"
	"odprt-chatbot/gateway/pkg/timer"
	"odprt-chatbot/gateway/shared/redis"
)

// Container holds all the dependencies for the application
type Container struct {
	Config    *config.Config
	Logger    *logger.Logger
	Redis     *redis.Client
	Upstream  *upstream.Client
	Sessions  *session.Manager
	Identity  *identity.Service
	Analytics *analytics.Service
	Files     *files.Service
	Health    *health.Checker
}

// New wires the gateway's dependency graph. The session manager's notifier
// is attached later because the websocket hub needs the manager first.
func New(cfg *config.Config, log *logger.Logger, notify session.Notifier) (*Container, error) {
	logger.SetGlobal(log)

	if err := secrets.Init(log); err != nil {
		log.LogError(err, "secrets manager unavailable, falling back to environment")
	}

	client := upstream.NewClient(log)
	if cfg.Upstream.APIKey == "" {
		key := secrets.GetSecretWithDefault(context.Background(), "UPSTREAM_API_KEY", "")
		client.SetAPIKey(key)
	}

	redisClient := redis.NewClient(cfg.Redis)

	sessions := session.NewManager(client, timer.NewScheduler(), session.Config{
		IdleWindow:    cfg.Session.IdleWindow,
		TopicDebounce: cfg.Session.TopicDebounce,
	}, cfg.Session.ReapAfter, notify, log)

	var sharedCache *cache.Cache
	if cfg.Cache.Enabled {
		sharedCache = cache.NewCache()
	}

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterRedisCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return redisClient.Ping(ctx)
	})
	checker.RegisterUpstreamCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx)
	})

	return &Container{
		Config:    cfg,
		Logger:    log,
		Redis:     redisClient,
		Upstream:  client,
		Sessions:  sessions,
		Identity:  identity.NewService(client, redisClient, cfg.Redis.PrefsTTL, log),
		Analytics: analytics.NewService(client, sharedCache, log),
		Files:     files.NewService(client, sharedCache, cfg.Security.AllowedUploads, cfg.Security.MaxUploadSize, log),
		Health:    checker,
	}, nil
}

// Close releases held resources.
func (c *Container) Close() {
	c.Sessions.Stop()
	if err := c.Redis.Close(); err != nil {
		c.Logger.LogError(err, "redis close failed")
	}
}
