package livekit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"
	"github.com/twitchtv/twirp"

	lkclient "github.com/vovakirdan/voiceroom/internal/callengine/livekit"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

// emptyTimeout keeps an idle room around long enough for a rejoin.
const emptyTimeout = 5 * 60 // seconds

// roomService is the subset of the LiveKit RoomService used here.
type roomService interface {
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
}

// Options configure a Provisioner.
type Options struct {
	URL       string // ws(s) URL of the LiveKit server
	APIKey    string
	APISecret string
	Identity  string // local participant identity, random when empty
	TokenTTL  time.Duration
}

// Provisioner implements rooms.Provisioner on top of a LiveKit deployment.
// The returned join URL embeds an access token for the local participant.
type Provisioner struct {
	opts    Options
	log     *zerolog.Logger
	service func(apiKey, apiSecret string) roomService
}

// New creates a LiveKit provisioner.
func New(opts Options, logger *zerolog.Logger) *Provisioner {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	host := httpHost(opts.URL)
	return &Provisioner{
		opts: opts,
		log:  logger,
		service: func(apiKey, apiSecret string) roomService {
			return lksdk.NewRoomServiceClient(host, apiKey, apiSecret)
		},
	}
}

// Resolve finds the room or creates it, then mints a join token.
// credential is "apiKey:apiSecret"; when empty the configured pair is used.
func (p *Provisioner) Resolve(ctx context.Context, credential, room string) (rooms.Reference, error) {
	if room == "" {
		return rooms.Reference{}, rooms.ErrEmptyRoomName
	}

	apiKey, apiSecret, err := p.keys(credential)
	if err != nil {
		return rooms.Reference{}, &rooms.AccessError{Room: room, Reason: rooms.ReasonAccess, Err: err}
	}
	svc := p.service(apiKey, apiSecret)

	resp, err := svc.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{room}})
	if err != nil {
		p.log.Warn().Err(err).Str("room", room).Msg("room lookup failed")
		return rooms.Reference{}, accessError(room, rooms.ReasonAccess, err)
	}

	if !containsRoom(resp.GetRooms(), room) {
		p.log.Info().Str("room", room).Msg("room not found, creating")
		created, createErr := svc.CreateRoom(ctx, &livekit.CreateRoomRequest{
			Name:         room,
			EmptyTimeout: emptyTimeout,
		})
		if createErr != nil {
			p.log.Warn().Err(createErr).Str("room", room).Msg("room creation failed")
			return rooms.Reference{}, accessError(room, rooms.ReasonCreate, createErr)
		}
		p.log.Info().Str("room", room).Str("sid", created.GetSid()).Msg("room created")
	}

	token, err := p.joinToken(apiKey, apiSecret, room)
	if err != nil {
		return rooms.Reference{}, &rooms.AccessError{Room: room, Reason: rooms.ReasonAccess, Err: err}
	}

	return rooms.Reference{Name: room, JoinURL: lkclient.JoinURL(p.opts.URL, token)}, nil
}

func (p *Provisioner) keys(credential string) (string, string, error) {
	if credential == "" {
		if p.opts.APIKey == "" || p.opts.APISecret == "" {
			return "", "", errors.New("livekit api key and secret are required")
		}
		return p.opts.APIKey, p.opts.APISecret, nil
	}
	key, secret, ok := strings.Cut(credential, ":")
	if !ok || key == "" || secret == "" {
		return "", "", errors.New(`livekit credential must be "apiKey:apiSecret"`)
	}
	return key, secret, nil
}

func (p *Provisioner) joinToken(apiKey, apiSecret, room string) (string, error) {
	identity := p.opts.Identity
	if identity == "" {
		identity = "guest-" + uuid.NewString()[:8]
	}

	at := auth.NewAccessToken(apiKey, apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(p.opts.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func containsRoom(list []*livekit.Room, name string) bool {
	for _, r := range list {
		if r.GetName() == name {
			return true
		}
	}
	return false
}

func accessError(room, reason string, err error) *rooms.AccessError {
	ae := &rooms.AccessError{Room: room, Reason: reason, Err: err}
	var terr twirp.Error
	if errors.As(err, &terr) {
		ae.Status = twirp.ServerHTTPStatusFromErrorCode(terr.Code())
	}
	return ae
}

func httpHost(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

// Ensure Provisioner implements rooms.Provisioner
var _ rooms.Provisioner = (*Provisioner)(nil)
