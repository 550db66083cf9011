// Package diag serves a small local HTTP API for inspecting the running call.
package diag

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voiceroom/internal/session"
)

// Session is the part of the call manager exposed over HTTP.
type Session interface {
	State() session.State
	TestAudio() (session.AudioReport, error)
	ToggleMute(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MuteResponse reports the muted flag after a toggle.
type MuteResponse struct {
	Muted bool `json:"muted"`
}

// Handlers serves the diagnostics endpoints.
type Handlers struct {
	sess Session
	log  *zerolog.Logger
}

// NewHandlers creates diagnostics handlers for sess.
func NewHandlers(sess Session, logger *zerolog.Logger) *Handlers {
	return &Handlers{sess: sess, log: logger}
}

// NewServer builds the diagnostics HTTP server.
func NewServer(addr string, sess Session, logger *zerolog.Logger) *http.Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	h := NewHandlers(sess, logger)
	router.GET("/health", h.Health)

	s := router.Group("/session")
	{
		s.GET("", h.State)
		s.POST("/test-audio", h.TestAudio)
		s.POST("/mute", h.ToggleMute)
		s.POST("/leave", h.Leave)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Health reports liveness.
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// State returns the current session snapshot.
// GET /session
func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.State())
}

// TestAudio dumps the call's audio picture to the log and returns it.
// POST /session/test-audio
func (h *Handlers) TestAudio(c *gin.Context) {
	report, err := h.sess.TestAudio()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("audio test failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ToggleMute flips the local microphone.
// POST /session/mute
func (h *Handlers) ToggleMute(c *gin.Context) {
	if !h.sess.State().InCall() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: session.ErrNoSession.Error()})
		return
	}
	if err := h.sess.ToggleMute(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("toggle mute failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, MuteResponse{Muted: h.sess.State().Muted})
}

// Leave ends the call.
// POST /session/leave
func (h *Handlers) Leave(c *gin.Context) {
	if err := h.sess.Stop(c.Request.Context()); err != nil {
		h.log.Debug().Err(err).Msg("leave reported an error")
	}
	c.JSON(http.StatusOK, h.sess.State())
}
