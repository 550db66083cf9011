package livekit

import (
	"context"
	"fmt"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voiceroom/internal/callengine"
)

const eventBuffer = 64

// Client implements callengine.Client using the LiveKit Go SDK.
// Capture is not done here: the local participant joins without a
// microphone track unless one is published on Room().LocalParticipant.
type Client struct {
	opts callengine.Options
	log  *zerolog.Logger

	mu         sync.Mutex
	room       *lksdk.Room
	events     chan callengine.Event
	localAudio bool
	joined     bool
	destroyed  bool

	// audioTracks lists published microphone tracks; called with mu held.
	audioTracks func() []audioMuter
}

// audioMuter is the part of *lksdk.LocalTrackPublication SetLocalAudio uses.
type audioMuter interface {
	SetMuted(muted bool)
}

// New creates a client that is not connected yet.
func New(opts callengine.Options, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Client{
		opts:       opts,
		log:        logger,
		events:     make(chan callengine.Event, eventBuffer),
		localAudio: opts.AudioSource,
	}
	c.audioTracks = c.publishedAudio
	return c
}

// NewFactory returns a factory producing LiveKit clients.
func NewFactory(logger *zerolog.Logger) callengine.Factory {
	return callengine.FactoryFunc(func(opts callengine.Options) (callengine.Client, error) {
		return New(opts, logger), nil
	})
}

// Join connects with the access token embedded in joinURL.
func (c *Client) Join(ctx context.Context, joinURL string) error {
	serverURL, token, err := SplitJoinURL(joinURL)
	if err != nil {
		return err
	}
	claims, err := InspectToken(token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("join: client destroyed")
	}
	if c.room != nil {
		c.mu.Unlock()
		return fmt.Errorf("join: already joined")
	}
	room := lksdk.NewRoom(c.callback())
	c.room = room
	c.mu.Unlock()

	c.log.Info().Str("server", serverURL).Str("room", claims.Room).Str("identity", claims.Identity).Msg("joining room")

	done := make(chan error, 1)
	go func() {
		done <- room.JoinWithToken(serverURL, token, lksdk.WithAutoSubscribe(c.opts.AudioSource))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
	case <-ctx.Done():
		go func() {
			if <-done == nil {
				room.Disconnect()
			}
		}()
		return ctx.Err()
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()

	c.emit(callengine.JoinedMeeting{})
	return nil
}

// CheckURL rejects URLs that carry no usable LiveKit access token.
func (c *Client) CheckURL(joinURL string) error {
	_, token, err := SplitJoinURL(joinURL)
	if err != nil {
		return fmt.Errorf("not a LiveKit join url: %w", err)
	}
	if _, err := InspectToken(token); err != nil {
		return err
	}
	return nil
}

// Leave disconnects from the room and emits LeftMeeting.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	joined := c.joined
	c.joined = false
	c.mu.Unlock()

	if room == nil || !joined {
		return nil
	}

	done := make(chan struct{})
	go func() {
		room.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.emit(callengine.LeftMeeting{})
	return nil
}

// Destroy disconnects if needed and closes the event stream. Safe to call twice.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	room := c.room
	joined := c.joined
	c.joined = false
	close(c.events)
	c.mu.Unlock()

	if room != nil && joined {
		room.Disconnect()
	}
	c.log.Debug().Msg("call client destroyed")
}

// SetLocalAudio mutes or unmutes the published microphone track, if any.
// SetMuted fires OnTrackMuted synchronously, so it runs without mu.
func (c *Client) SetLocalAudio(_ context.Context, enabled bool) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("set local audio: client destroyed")
	}
	c.localAudio = enabled
	tracks := c.audioTracks()
	c.mu.Unlock()

	for _, t := range tracks {
		t.SetMuted(!enabled)
	}
	return nil
}

func (c *Client) publishedAudio() []audioMuter {
	if c.room == nil || c.room.LocalParticipant == nil {
		return nil
	}
	var out []audioMuter
	for _, pub := range c.room.LocalParticipant.TrackPublications() {
		if pub.Kind() != lksdk.TrackKindAudio {
			continue
		}
		if local, ok := pub.(*lksdk.LocalTrackPublication); ok {
			out = append(out, local)
		}
	}
	return out
}

// LocalAudio reports the requested microphone state.
func (c *Client) LocalAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAudio
}

// InputSettings reports the capture profile.
func (c *Client) InputSettings() callengine.InputSettings {
	c.mu.Lock()
	defer c.mu.Unlock()

	device := "none"
	if c.room != nil && c.room.LocalParticipant != nil && hasAudio(c.room.LocalParticipant.TrackPublications()) {
		device = "published"
	}
	return callengine.InputSettings{
		AudioEnabled: c.opts.AudioSource && c.localAudio,
		VideoEnabled: c.opts.VideoSource,
		Device:       device,
	}
}

// Participants returns local and remote participants keyed by session ID.
func (c *Client) Participants() map[string]callengine.Participant {
	c.mu.Lock()
	room := c.room
	localAudio := c.localAudio
	joined := c.joined
	c.mu.Unlock()

	out := make(map[string]callengine.Participant)
	if room == nil || !joined {
		return out
	}

	if lp := room.LocalParticipant; lp != nil {
		pubs := lp.TrackPublications()
		out[lp.SID()] = callengine.Participant{
			SessionID:  lp.SID(),
			UserName:   lp.Name(),
			Local:      true,
			Audio:      localAudio,
			AudioTrack: hasAudio(pubs),
		}
	}
	for _, rp := range room.GetRemoteParticipants() {
		p := remoteParticipant(rp)
		out[p.SessionID] = p
	}
	return out
}

// Events streams remote notifications until Destroy.
func (c *Client) Events() <-chan callengine.Event {
	return c.events
}

// Room exposes the underlying SDK room, nil before Join.
func (c *Client) Room() *lksdk.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			c.emit(callengine.ParticipantJoined{Participant: remoteParticipant(rp)})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			c.emit(callengine.ParticipantLeft{Participant: remoteParticipant(rp)})
		},
		OnDisconnected: func() {
			c.mu.Lock()
			wasJoined := c.joined
			c.joined = false
			c.mu.Unlock()
			if wasJoined {
				c.emit(callengine.LeftMeeting{})
			}
		},
		OnReconnecting: func() {
			c.emit(callengine.Error{Msg: "connection lost, reconnecting"})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.emit(callengine.ParticipantUpdated{Participant: remoteParticipant(rp)})
			},
			OnTrackUnsubscribed: func(_ *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.emit(callengine.ParticipantUpdated{Participant: remoteParticipant(rp)})
			},
			OnTrackSubscriptionFailed: func(sid string, rp *lksdk.RemoteParticipant) {
				c.emit(callengine.CameraError{Msg: fmt.Sprintf("failed to subscribe to track %s of %s", sid, rp.Identity())})
			},
			OnTrackMuted: func(_ lksdk.TrackPublication, p lksdk.Participant) {
				c.emitUpdated(p)
			},
			OnTrackUnmuted: func(_ lksdk.TrackPublication, p lksdk.Participant) {
				c.emitUpdated(p)
			},
		},
	}
}

func (c *Client) emitUpdated(p lksdk.Participant) {
	if rp, ok := p.(*lksdk.RemoteParticipant); ok {
		c.emit(callengine.ParticipantUpdated{Participant: remoteParticipant(rp)})
		return
	}
	c.emitLocalUpdated(p.SID(), p.Name())
}

func (c *Client) emitLocalUpdated(sid, name string) {
	c.emit(callengine.ParticipantUpdated{Participant: callengine.Participant{
		SessionID: sid,
		UserName:  name,
		Local:     true,
		Audio:     c.LocalAudio(),
	}})
}

// emit never blocks SDK goroutines; a full buffer drops the event since
// consumers rebuild state from Participants().
func (c *Client) emit(ev callengine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Str("event", ev.Kind().String()).Msg("event buffer full, dropping")
	}
}

func remoteParticipant(rp *lksdk.RemoteParticipant) callengine.Participant {
	p := callengine.Participant{
		SessionID: rp.SID(),
		UserName:  rp.Name(),
	}
	for _, pub := range rp.TrackPublications() {
		if pub.Kind() != lksdk.TrackKindAudio {
			continue
		}
		if !pub.IsMuted() {
			p.Audio = true
		}
		if pub.IsSubscribed() {
			p.AudioTrack = true
		}
	}
	return p
}

func hasAudio(pubs []lksdk.TrackPublication) bool {
	for _, pub := range pubs {
		if pub.Kind() == lksdk.TrackKindAudio {
			return true
		}
	}
	return false
}

// Ensure Client implements callengine.Client
var (
	_ callengine.Client     = (*Client)(nil)
	_ callengine.URLChecker = (*Client)(nil)
)
