package state

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrStateNotFound   = errors.New("conversation not found")
	ErrNilConversation = errors.New("conversation is nil")
	ErrInvalidSession  = errors.New("session id is empty")
)

// Store is the persistence contract used by the orchestrator.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, sessionID string) error
}

// InMemoryStore keeps conversations for the life of the process.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*Conversation)}
}

func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*Conversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[sessionID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.SessionID] = c.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sessionID)
	return nil
}

type Config struct {
	Backend    string `envconfig:"BACKEND" split_words:"true" default:"memory"`
	UpstashURL string `envconfig:"UPSTASH_URL" split_words:"true"`
	UpstashTok string `envconfig:"UPSTASH_TOKEN" split_words:"true"`
}

// Open returns the configured store. Backends: memory, upstash.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "upstash":
		return NewUpstashRedisStore(UpstashRedisConfig{URL: cfg.UpstashURL, Token: cfg.UpstashTok})
	default:
		return nil, errors.New("unknown session store backend: " + cfg.Backend)
	}
}
