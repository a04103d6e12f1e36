package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/shared/redis"
)

// Directory is the slice of the upstream client the identity service needs.
type Directory interface {
	VerifyUser(ctx context.Context, userID string) (bool, error)
	CreateUser(ctx context.Context, userID, faculty string) error
}

// Store is the key-value surface the service persists markers and
// preferences through. The redis client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Preferences are the client-side settings the gateway keeps per user so a
// returning browser gets the same view it left.
type Preferences struct {
	Faculty        string `json:"faculty"`
	HistoryVisible bool   `json:"history_visible"`
}

func defaultPreferences() Preferences {
	return Preferences{HistoryVisible: true}
}

// Identity is the result of a bootstrap: the effective user id and whether
// the backend had seen it before.
type Identity struct {
	UserID  string `json:"user_id"`
	Faculty string `json:"faculty"`
	Created bool   `json:"created"`
}

// Service registers first-time visitors with the backend and stores their
// preferences in redis. Registration is guarded per user so a burst of
// parallel first requests produces exactly one create call.
type Service struct {
	directory Directory
	store     Store
	prefsTTL  time.Duration
	log       *logger.Logger

	mu       sync.Mutex
	creating map[string]*sync.Once
}

// NewService creates an identity service. prefsTTL of zero keeps
// preferences forever.
func NewService(directory Directory, store Store, prefsTTL time.Duration, log *logger.Logger) *Service {
	return &Service{
		directory: directory,
		store:     store,
		prefsTTL:  prefsTTL,
		log:       log,
		creating:  make(map[string]*sync.Once),
	}
}

// NewUserID mints a fresh identity for a visitor that presents none.
func NewUserID() string {
	return uuid.NewString()
}

// Bootstrap ensures userID is registered with the backend. A blank userID
// gets a fresh uuid. Known users short-circuit on a redis marker; otherwise
// the backend is consulted and the user created when missing. Concurrent
// bootstraps for the same user collapse into a single create.
func (s *Service) Bootstrap(ctx context.Context, userID, faculty string) (Identity, error) {
	if userID == "" {
		userID = NewUserID()
	}
	if _, err := uuid.Parse(userID); err != nil {
		return Identity{}, fmt.Errorf("bootstrap: invalid user id: %w", err)
	}

	marker := "identity:" + userID
	if _, err := s.store.Get(ctx, marker); err == nil {
		return Identity{UserID: userID, Faculty: faculty}, nil
	}

	exists, err := s.directory.VerifyUser(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("bootstrap: verify user: %w", err)
	}

	created := false
	if !exists {
		once := s.onceFor(userID)
		var createErr error
		once.Do(func() {
			createErr = s.directory.CreateUser(ctx, userID, faculty)
			if createErr == nil {
				created = true
			}
		})
		s.forget(userID)
		if createErr != nil {
			return Identity{}, fmt.Errorf("bootstrap: create user: %w", createErr)
		}
	}

	if err := s.store.Set(ctx, marker, "1", s.prefsTTL); err != nil {
		s.log.LogError(err, "identity marker write failed", "user_id", userID)
	}
	if created && faculty != "" {
		prefs := defaultPreferences()
		prefs.Faculty = faculty
		if err := s.SetPreferences(ctx, userID, prefs); err != nil {
			s.log.LogError(err, "initial preferences write failed", "user_id", userID)
		}
	}

	return Identity{UserID: userID, Faculty: faculty, Created: created}, nil
}

func (s *Service) onceFor(userID string) *sync.Once {
	s.mu.Lock()
	defer s.mu.Unlock()
	once, ok := s.creating[userID]
	if !ok {
		once = &sync.Once{}
		s.creating[userID] = once
	}
	return once
}

func (s *Service) forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creating, userID)
}

// GetPreferences returns the stored preferences, or the defaults when none
// are stored yet.
func (s *Service) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	raw, err := s.store.Get(ctx, "prefs:"+userID)
	if errors.Is(err, redis.ErrNotFound) {
		return defaultPreferences(), nil
	}
	if err != nil {
		return defaultPreferences(), err
	}
	var prefs Preferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return defaultPreferences(), fmt.Errorf("preferences for %s corrupt: %w", userID, err)
	}
	return prefs, nil
}

// SetPreferences stores the preferences verbatim.
func (s *Service) SetPreferences(ctx context.Context, userID string, prefs Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, "prefs:"+userID, string(raw), s.prefsTTL)
}
