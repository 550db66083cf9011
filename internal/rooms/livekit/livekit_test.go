package livekit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/livekit"
	"github.com/twitchtv/twirp"

	lkclient "github.com/vovakirdan/voiceroom/internal/callengine/livekit"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

type fakeRoomService struct {
	existing  map[string]bool
	listErr   error
	createErr error
	creates   []*livekit.CreateRoomRequest
}

func (f *fakeRoomService) ListRooms(_ context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	resp := &livekit.ListRoomsResponse{}
	for _, name := range req.GetNames() {
		if f.existing[name] {
			resp.Rooms = append(resp.Rooms, &livekit.Room{Name: name, Sid: "RM_" + name})
		}
	}
	return resp, nil
}

func (f *fakeRoomService) CreateRoom(_ context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &livekit.Room{Name: req.GetName(), Sid: "RM_new"}, nil
}

const testCredential = "devkey:devsecret-devsecret-devsecret-0"

func newTestProvisioner(svc *fakeRoomService) (*Provisioner, *[]string) {
	var usedKeys []string
	p := New(Options{URL: "wss://media.example.com", Identity: "alice"}, nil)
	p.service = func(apiKey, apiSecret string) roomService {
		usedKeys = append(usedKeys, apiKey+":"+apiSecret)
		return svc
	}
	return p, &usedKeys
}

func TestResolveCreatesMissingRoomAndMintsToken(t *testing.T) {
	svc := &fakeRoomService{existing: map[string]bool{}}
	p, keys := newTestProvisioner(svc)

	ref, err := p.Resolve(context.Background(), testCredential, "debate-room")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(svc.creates) != 1 || svc.creates[0].GetName() != "debate-room" {
		t.Fatalf("expected one create for debate-room, got %+v", svc.creates)
	}
	if (*keys)[0] != testCredential {
		t.Fatalf("credential not split into key/secret: %v", *keys)
	}

	server, token, err := lkclient.SplitJoinURL(ref.JoinURL)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if server != "wss://media.example.com" {
		t.Fatalf("unexpected server url %q", server)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["sub"] != "alice" {
		t.Fatalf("expected identity alice, got %v", claims["sub"])
	}
	video, ok := claims["video"].(map[string]any)
	if !ok || video["room"] != "debate-room" || video["roomJoin"] != true {
		t.Fatalf("unexpected video grant %v", claims["video"])
	}
}

func TestResolveExistingRoomSkipsCreate(t *testing.T) {
	svc := &fakeRoomService{existing: map[string]bool{"lobby": true}}
	p, _ := newTestProvisioner(svc)

	if _, err := p.Resolve(context.Background(), testCredential, "lobby"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(svc.creates) != 0 {
		t.Fatalf("expected no create, got %d", len(svc.creates))
	}
}

func TestResolveMapsTwirpErrors(t *testing.T) {
	svc := &fakeRoomService{listErr: twirp.NewError(twirp.Unauthenticated, "bad key")}
	p, _ := newTestProvisioner(svc)

	_, err := p.Resolve(context.Background(), testCredential, "lobby")
	var accessErr *rooms.AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected AccessError, got %v", err)
	}
	if accessErr.Status != http.StatusUnauthorized || accessErr.Reason != rooms.ReasonAccess {
		t.Fatalf("unexpected error %+v", accessErr)
	}
}

func TestResolveCreateFailure(t *testing.T) {
	svc := &fakeRoomService{existing: map[string]bool{}, createErr: errors.New("boom")}
	p, _ := newTestProvisioner(svc)

	_, err := p.Resolve(context.Background(), testCredential, "lobby")
	var accessErr *rooms.AccessError
	if !errors.As(err, &accessErr) || accessErr.Reason != rooms.ReasonCreate {
		t.Fatalf("expected create AccessError, got %v", err)
	}
}

func TestResolveRejectsMalformedCredential(t *testing.T) {
	p, _ := newTestProvisioner(&fakeRoomService{})

	_, err := p.Resolve(context.Background(), "just-a-key", "lobby")
	var accessErr *rooms.AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected AccessError, got %v", err)
	}
}

func TestHTTPHost(t *testing.T) {
	cases := map[string]string{
		"wss://a.example":     "https://a.example",
		"ws://localhost:7880": "http://localhost:7880",
		"https://already":     "https://already",
	}
	for in, want := range cases {
		if got := httpHost(in); got != want {
			t.Errorf("httpHost(%q) = %q, want %q", in, got, want)
		}
	}
}
