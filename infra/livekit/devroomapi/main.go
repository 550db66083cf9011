// Dev room API for local LiveKit testing.
// Serves the rooms REST surface the rest provider expects and answers with
// LiveKit join URLs, so the client can run against a local livekit-server.
package main

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/rs/zerolog"

	lkclient "github.com/vovakirdan/voiceroom/internal/callengine/livekit"
	applog "github.com/vovakirdan/voiceroom/internal/log"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

type roomDescriptor struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	URL        string           `json:"url"`
	Properties rooms.Properties `json:"config"`
}

type createRoomRequest struct {
	Name       string           `json:"name" binding:"required"`
	Properties rooms.Properties `json:"properties"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type roomAPI struct {
	bearer    string
	serverURL string
	apiKey    string
	apiSecret string
	log       *zerolog.Logger

	mu    sync.Mutex
	rooms map[string]roomDescriptor
}

func newRoomAPI(bearer, serverURL, apiKey, apiSecret string, logger *zerolog.Logger) *roomAPI {
	return &roomAPI{
		bearer:    bearer,
		serverURL: serverURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		log:       logger,
		rooms:     make(map[string]roomDescriptor),
	}
}

func (a *roomAPI) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), a.authMiddleware())
	r.GET("/rooms/:name", a.getRoom)
	r.POST("/rooms", a.createRoom)
	return r
}

func (a *roomAPI) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" || (a.bearer != "" && token != a.bearer) {
			a.log.Debug().Str("path", c.Request.URL.Path).Msg("rejected request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "authorization-error"})
			return
		}
		c.Next()
	}
}

// getRoom handles GET /rooms/:name
func (a *roomAPI) getRoom(c *gin.Context) {
	name := c.Param("name")

	a.mu.Lock()
	room, ok := a.rooms[name]
	a.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not-found"})
		return
	}

	room, err := a.withToken(room)
	if err != nil {
		a.log.Error().Err(err).Str("room", name).Msg("failed to mint token")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// createRoom handles POST /rooms
func (a *roomAPI) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	a.mu.Lock()
	if _, exists := a.rooms[req.Name]; exists {
		a.mu.Unlock()
		c.JSON(http.StatusBadRequest, errorResponse{Error: "room already exists"})
		return
	}
	room := roomDescriptor{ID: uuid.NewString(), Name: req.Name, Properties: req.Properties}
	a.rooms[req.Name] = room
	a.mu.Unlock()

	a.log.Info().Str("room", req.Name).Msg("room created")
	room, err := a.withToken(room)
	if err != nil {
		a.log.Error().Err(err).Str("room", req.Name).Msg("failed to mint token")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// withToken fills URL with a join URL for a fresh guest identity.
func (a *roomAPI) withToken(room roomDescriptor) (roomDescriptor, error) {
	identity := "guest-" + uuid.NewString()[:8]
	at := auth.NewAccessToken(a.apiKey, a.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room.Name}).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return room, err
	}
	room.URL = lkclient.JoinURL(a.serverURL, token)
	return room, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := applog.New(envOr("LOG_LEVEL", "info"), os.Stderr)

	apiKey := os.Getenv("LIVEKIT_API_KEY")
	apiSecret := os.Getenv("LIVEKIT_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		logger.Fatal().Msg("LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set")
	}

	api := newRoomAPI(
		os.Getenv("ROOM_API_BEARER"),
		envOr("LIVEKIT_URL", "ws://localhost:7880"),
		apiKey,
		apiSecret,
		logger,
	)

	addr := envOr("ADDR", ":8082")
	logger.Info().Str("addr", addr).Msg("dev room api listening, point api_url at http://localhost" + addr)
	srv := &http.Server{Addr: addr, Handler: api.router(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("dev room api stopped")
	}
}
