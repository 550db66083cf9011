// Package callenginetest provides an in-memory call client for tests.
package callenginetest

import (
	"context"
	"sync"

	"github.com/vovakirdan/voiceroom/internal/callengine"
)

// LocalSessionID is the session ID of the fake's local participant.
const LocalSessionID = "local"

// Client is a scriptable callengine.Client.
type Client struct {
	mu           sync.Mutex
	opts         callengine.Options
	events       chan callengine.Event
	participants map[string]callengine.Participant
	localAudio   bool
	destroyed    bool

	JoinErr     error
	LeaveErr    error
	SetAudioErr error
	// URLErr is returned by CheckURL.
	URLErr error
	// LeaveBlock, when set, makes Leave wait for it or for ctx.
	LeaveBlock chan struct{}
	// EmitOnJoin controls whether Join emits JoinedMeeting.
	EmitOnJoin bool

	JoinedURL     string
	JoinCalls     int
	LeaveCalls    int
	DestroyCalls  int
	AudioSettings []bool
}

// New returns a fake client that emits JoinedMeeting on a successful join.
func New() *Client {
	return &Client{
		events:       make(chan callengine.Event, 64),
		participants: make(map[string]callengine.Participant),
		EmitOnJoin:   true,
	}
}

// Factory returns a factory that hands out the given clients in order and
// then fresh ones.
func Factory(clients ...*Client) (callengine.Factory, *[]*Client) {
	var mu sync.Mutex
	created := make([]*Client, 0, len(clients))
	f := callengine.FactoryFunc(func(opts callengine.Options) (callengine.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		var c *Client
		if len(clients) > 0 {
			c, clients = clients[0], clients[1:]
		} else {
			c = New()
		}
		c.mu.Lock()
		c.opts = opts
		c.mu.Unlock()
		created = append(created, c)
		return c, nil
	})
	return f, &created
}

// Join records the URL and, on success, adds the local participant.
func (c *Client) Join(_ context.Context, url string) error {
	c.mu.Lock()
	c.JoinCalls++
	c.JoinedURL = url
	if c.JoinErr != nil {
		err := c.JoinErr
		c.mu.Unlock()
		return err
	}
	c.participants[LocalSessionID] = callengine.Participant{
		SessionID: LocalSessionID,
		UserName:  "me",
		Local:     true,
		Audio:     c.localAudio,
	}
	emit := c.EmitOnJoin
	c.mu.Unlock()

	if emit {
		c.Emit(callengine.JoinedMeeting{})
	}
	return nil
}

// CheckURL returns URLErr.
func (c *Client) CheckURL(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.URLErr
}

// Leave emits LeftMeeting unless configured to fail or block.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.LeaveCalls++
	block := c.LeaveBlock
	err := c.LeaveErr
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	c.Emit(callengine.LeftMeeting{})
	return nil
}

// Destroy closes the event stream once.
func (c *Client) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DestroyCalls++
	if c.destroyed {
		return
	}
	c.destroyed = true
	close(c.events)
}

// SetLocalAudio records the requested state.
func (c *Client) SetLocalAudio(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AudioSettings = append(c.AudioSettings, enabled)
	if c.SetAudioErr != nil {
		return c.SetAudioErr
	}
	c.localAudio = enabled
	if p, ok := c.participants[LocalSessionID]; ok {
		p.Audio = enabled
		c.participants[LocalSessionID] = p
	}
	return nil
}

// LocalAudio reports the last successful SetLocalAudio value.
func (c *Client) LocalAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAudio
}

// InputSettings mirrors the options the client was created with.
func (c *Client) InputSettings() callengine.InputSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return callengine.InputSettings{
		AudioEnabled: c.opts.AudioSource && c.localAudio,
		VideoEnabled: c.opts.VideoSource,
		Device:       "fake",
	}
}

// Participants returns a copy of the participant map.
func (c *Client) Participants() map[string]callengine.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]callengine.Participant, len(c.participants))
	for id, p := range c.participants {
		out[id] = p
	}
	return out
}

// Events returns the event stream.
func (c *Client) Events() <-chan callengine.Event {
	return c.events
}

// Options returns the options the factory created the client with.
func (c *Client) Options() callengine.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Destroyed reports whether Destroy ran.
func (c *Client) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Calls returns how many times Join, Leave and Destroy ran.
func (c *Client) Calls() (join, leave, destroy int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.JoinCalls, c.LeaveCalls, c.DestroyCalls
}

// URL returns the URL passed to the last Join.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.JoinedURL
}

// AudioHistory returns every value passed to SetLocalAudio.
func (c *Client) AudioHistory() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.AudioSettings...)
}

// AddRemote adds a remote participant and emits ParticipantJoined.
func (c *Client) AddRemote(p callengine.Participant) {
	c.mu.Lock()
	c.participants[p.SessionID] = p
	c.mu.Unlock()
	c.Emit(callengine.ParticipantJoined{Participant: p})
}

// UpdateRemote replaces a participant and emits ParticipantUpdated.
func (c *Client) UpdateRemote(p callengine.Participant) {
	c.mu.Lock()
	c.participants[p.SessionID] = p
	c.mu.Unlock()
	c.Emit(callengine.ParticipantUpdated{Participant: p})
}

// RemoveRemote deletes a participant and emits ParticipantLeft.
func (c *Client) RemoveRemote(id string) {
	c.mu.Lock()
	p := c.participants[id]
	delete(c.participants, id)
	c.mu.Unlock()
	c.Emit(callengine.ParticipantLeft{Participant: p})
}

// SetParticipantSilently changes state without emitting, like a track
// attaching after the notification already fired.
func (c *Client) SetParticipantSilently(p callengine.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants[p.SessionID] = p
}

// Emit delivers an event unless the client was destroyed.
func (c *Client) Emit(ev callengine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// Ensure Client implements callengine.Client
var (
	_ callengine.Client     = (*Client)(nil)
	_ callengine.URLChecker = (*Client)(nil)
)
