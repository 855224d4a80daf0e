package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Conversation is the rolling history of one session.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Turns     []Turn    `json:"turns,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one completed user/assistant exchange.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Route     string    `json:"route"`
	At        time.Time `json:"at"`
}

func NewConversation(sessionID string, now time.Time) *Conversation {
	return &Conversation{
		SessionID: sessionID,
		Version:   1,
		UpdatedAt: now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// Append records a turn and keeps at most maxTurns of the newest ones (0 keeps all).
func (c *Conversation) Append(t Turn, maxTurns int) {
	c.Turns = append(c.Turns, t)
	if maxTurns > 0 && len(c.Turns) > maxTurns {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-maxTurns:]...)
	}
	c.Version++
	c.Touch(t.At)
}

// Recent returns up to n of the newest turns, oldest first.
func (c *Conversation) Recent(n int) []Turn {
	if c == nil || n <= 0 || len(c.Turns) == 0 {
		return nil
	}
	if n > len(c.Turns) {
		n = len(c.Turns)
	}
	return c.Turns[len(c.Turns)-n:]
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	return &out
}

func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return ErrInvalidSession
	}
	for i, t := range c.Turns {
		if strings.TrimSpace(t.User) == "" {
			return fmt.Errorf("turn %d: %w", i, errEmptyTurn)
		}
	}
	return nil
}

var errEmptyTurn = errors.New("user text is empty")
