// Package server exposes the orchestrator over HTTP and a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/events"
	"github.com/tanpawarit/echobot/agent/plugins/reminders"
	qstashx "github.com/tanpawarit/echobot/pkg/qstash"
)

const maxCallbackBody = 64 << 10

type Config struct {
	Addr            string        `default:":8000"`
	Debug           bool          `default:"false"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	// AllowedOrigins are host patterns accepted on the websocket besides same-origin.
	AllowedOrigins []string `split_words:"true"`
}

type TurnHandler interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (string, error)
}

type PluginLister interface {
	ListPlugins() []contractx.PluginInfo
}

type EventSource interface {
	Subscribe(bufSize int) <-chan events.Event
	Unsubscribe(ch <-chan events.Event)
	PublishStatus(sessionID string, status string)
}

type ReminderFirer interface {
	Fire(ctx context.Context, id int64) error
}

type SignatureVerifier interface {
	Verify(signature string, body []byte, destination string) error
}

// Deps wires the server. Events, Reminders and Metrics are optional; the reminder callback
// is only mounted when Reminders, Verifier and CallbackURL are all set.
type Deps struct {
	Turns       TurnHandler
	Plugins     PluginLister
	Events      EventSource
	Reminders   ReminderFirer
	Verifier    SignatureVerifier
	CallbackURL string
	Metrics     http.Handler
}

type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Turns == nil {
		return nil, errors.New("turn handler is required")
	}
	if deps.Plugins == nil {
		return nil, errors.New("plugin lister is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, deps: deps, engine: gin.New()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	g := s.engine
	g.Use(gin.Recovery(), requestLogger())

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	g.GET("/ws", s.serveSocket)

	api := g.Group("/api")
	{
		api.GET("/plugins", s.listPlugins)
		api.POST("/chat", s.chat)
		if s.deps.Reminders != nil && s.deps.Verifier != nil && s.deps.CallbackURL != "" {
			api.POST("/reminders/fire", s.fireReminder)
		}
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Plugins.ListPlugins())
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, err := s.deps.Turns.HandleMessage(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("session_id", sessionID).Msg("chat turn failed")
		}
		c.JSON(status, errorResponse{Error: msg})
		return
	}
	c.JSON(http.StatusOK, chatResponse{SessionID: sessionID, Response: reply})
}

func (s *Server) fireReminder(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if err := s.deps.Verifier.Verify(c.GetHeader(qstashx.SignatureHeader), body, s.deps.CallbackURL); err != nil {
		log.Warn().Err(err).Msg("rejected reminder callback")
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var payload reminders.FirePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ReminderID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "reminder_id is required"})
		return
	}

	if err := s.deps.Reminders.Fire(c.Request.Context(), payload.ReminderID); err != nil {
		log.Error().Err(err).Int64("reminder_id", payload.ReminderID).Msg("reminder callback failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "fire failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "fired", "reminder_id": payload.ReminderID})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, contractx.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("http request")
	}
}
