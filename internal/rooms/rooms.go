package rooms

import (
	"context"
	"errors"
)

// Reference is a resolved, joinable room endpoint.
type Reference struct {
	Name    string
	JoinURL string
}

// Provisioner resolves a room name to a joinable URL, creating the room on first use.
type Provisioner interface {
	Resolve(ctx context.Context, credential, room string) (Reference, error)
}

// Properties are applied to rooms created by a provisioner.
type Properties struct {
	EnableChat        bool `json:"enable_chat"`
	EnableScreenshare bool `json:"enable_screenshare"`
	EnableRecording   bool `json:"enable_recording"`
	StartVideoOff     bool `json:"start_video_off"`
	StartAudioOff     bool `json:"start_audio_off"`
}

// VoiceOnly is the fixed property set for voice rooms.
var VoiceOnly = Properties{
	EnableChat:        false,
	EnableScreenshare: false,
	EnableRecording:   false,
	StartVideoOff:     true,
	StartAudioOff:     false,
}

// Reasons carried by AccessError.
const (
	ReasonAccess = "Failed to access room. Check your API key."
	ReasonCreate = "Failed to create room. Check your API key."
)

// ErrEmptyRoomName is returned when no room name is supplied.
var ErrEmptyRoomName = errors.New("room name is required")

// AccessError reports a failed lookup or creation.
type AccessError struct {
	Room   string
	Status int // HTTP status, 0 if the request never completed
	Reason string
	Err    error
}

func (e *AccessError) Error() string {
	return e.Reason
}

func (e *AccessError) Unwrap() error {
	return e.Err
}
