package events

import (
	"sync"
	"time"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const (
	KindStatus   = "status"
	KindReminder = "reminder"
)

type Event struct {
	Timestamp time.Time      `json:"ts"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events instead of
// stalling the publisher. A nil *Bus is a valid no-op publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

var _ contractx.StatusPublisher = (*Bus)(nil)

func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) PublishStatus(sessionID string, status string) {
	b.Publish(Event{Kind: KindStatus, SessionID: sessionID, Status: status})
}

func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes ch. Calling it twice is harmless.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}
