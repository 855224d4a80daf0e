package server

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/events"
)

// Frame types written to socket clients.
const (
	FrameResponse = "response"
	FrameStatus   = "status"
	FrameReminder = "reminder"
	FrameError    = "error"
)

type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Status    string `json:"status,omitempty"`
}

// socket serializes writes; websocket connections allow one writer at a time.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) send(ctx context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, f)
}

func (s *Server) serveSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sock := &socket{conn: conn}
	if s.deps.Events != nil {
		sub := s.deps.Events.Subscribe(32)
		defer s.deps.Events.Unsubscribe(sub)
		go forwardEvents(ctx, sock, sessionID, sub)
		s.deps.Events.PublishStatus(sessionID, contractx.StatusListening)
	}
	log.Info().Str("session_id", sessionID).Msg("socket connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("socket read ended")
				}
			}
			log.Info().Str("session_id", sessionID).Msg("socket disconnected")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}

		reply, err := s.deps.Turns.HandleMessage(ctx, sessionID, text)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_, msg := statusFor(err)
			if !errors.Is(err, contractx.ErrValidation) {
				log.Error().Err(err).Str("session_id", sessionID).Msg("socket turn failed")
			}
			if err := sock.send(ctx, Frame{Type: FrameError, SessionID: sessionID, Text: msg}); err != nil {
				return
			}
			continue
		}
		if err := sock.send(ctx, Frame{Type: FrameResponse, SessionID: sessionID, Text: reply}); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("socket write failed")
			return
		}
	}
}

// forwardEvents relays this session's status changes and every reminder.
func forwardEvents(ctx context.Context, sock *socket, sessionID string, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			var f Frame
			switch {
			case e.Kind == events.KindStatus && e.SessionID == sessionID:
				f = Frame{Type: FrameStatus, SessionID: sessionID, Status: e.Status}
			case e.Kind == events.KindReminder:
				msg, _ := e.Data["message"].(string)
				f = Frame{Type: FrameReminder, Text: msg}
			default:
				continue
			}
			if err := sock.send(ctx, f); err != nil {
				return
			}
		}
	}
}
