package callengine

import (
	"context"
)

// Participant is the provider's view of one participant in the call.
type Participant struct {
	SessionID  string
	UserName   string
	Local      bool
	Audio      bool // microphone on and unmuted
	AudioTrack bool // an audio track is attached locally
}

// InputSettings describes the local capture configuration.
type InputSettings struct {
	AudioEnabled bool
	VideoEnabled bool
	Device       string
}

// Options select what a new client captures.
type Options struct {
	AudioSource bool
	VideoSource bool
}

// AudioOnly is the capture profile for voice rooms.
var AudioOnly = Options{AudioSource: true, VideoSource: false}

// Client is one participant's connection to a hosted room.
// Implementations must tolerate Destroy being called more than once
// and any method being called after Destroy.
type Client interface {
	// Join connects to the room behind url. It returns once the provider
	// accepted the participant; JoinedMeeting is also emitted on Events.
	Join(ctx context.Context, url string) error

	// Leave disconnects from the room. LeftMeeting is emitted on Events.
	Leave(ctx context.Context) error

	// Destroy releases every resource held by the client and closes Events.
	Destroy()

	// SetLocalAudio enables or mutes the local microphone.
	SetLocalAudio(ctx context.Context, enabled bool) error

	// LocalAudio reports whether the local microphone is enabled.
	LocalAudio() bool

	// InputSettings reports the local capture configuration.
	InputSettings() InputSettings

	// Participants returns the current participant map keyed by session ID.
	Participants() map[string]Participant

	// Events streams remote notifications until Destroy.
	Events() <-chan Event
}

// URLChecker is implemented by clients that can tell before Join whether
// a room URL is one they are able to connect to.
type URLChecker interface {
	CheckURL(url string) error
}

// Factory creates call clients.
type Factory interface {
	NewClient(opts Options) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(opts Options) (Client, error)

// NewClient calls f(opts).
func (f FactoryFunc) NewClient(opts Options) (Client, error) {
	return f(opts)
}
