package session

import (
	"slices"
	"strings"

	"github.com/vovakirdan/voiceroom/internal/callengine"
)

// Status drives which screen the UI shows.
type Status int

const (
	StatusUnconfigured Status = iota
	StatusJoining
	StatusActive
	StatusLeaving
)

var statusNames = map[Status]string{
	StatusUnconfigured: "unconfigured",
	StatusJoining:      "joining",
	StatusActive:       "active",
	StatusLeaving:      "leaving",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AudioStatus tracks microphone permission and activation.
type AudioStatus int

const (
	AudioChecking AudioStatus = iota
	AudioGranted
	AudioDenied
	AudioActive
	AudioError
)

var audioNames = map[AudioStatus]string{
	AudioChecking: "checking",
	AudioGranted:  "granted",
	AudioDenied:   "denied",
	AudioActive:   "active",
	AudioError:    "error",
}

func (a AudioStatus) String() string {
	if name, ok := audioNames[a]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the audio status name in JSON.
func (a AudioStatus) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// DefaultDisplayName is shown for participants without a name.
const DefaultDisplayName = "Anonymous"

// Participant is one roster entry.
type Participant struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	AudioEnabled  bool   `json:"audio_enabled"`
	IsLocal       bool   `json:"is_local"`
	HasAudioTrack bool   `json:"has_audio_track"`
}

// State is a snapshot of everything the UI renders.
type State struct {
	Status    Status        `json:"status"`
	Audio     AudioStatus   `json:"audio"`
	Muted     bool          `json:"muted"`
	Room      string        `json:"room,omitempty"`
	Roster    []Participant `json:"roster"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
}

// InCall reports whether the call screen should be shown.
func (s State) InCall() bool {
	return s.Status == StatusActive || s.Status == StatusLeaving
}

func (s State) clone() State {
	s.Roster = slices.Clone(s.Roster)
	return s
}

// action is a state transition applied by reduce.
type action interface {
	isAction()
}

// actFailed ends a setup attempt; audio is left alone when nil.
type actFailed struct {
	err   *Error
	audio *AudioStatus
}

type (
	actStarting struct{ room string }
	actJoining  struct{}
	actJoined   struct{}
	actRoster   struct{ roster []Participant }
	actLeaving  struct{}
	actReset    struct{}
	actMuted    struct{ muted bool }
	actAudio    struct{ audio AudioStatus }
	actError    struct{ err *Error }
)

func (actStarting) isAction() {}
func (actFailed) isAction()   {}
func (actJoining) isAction()  {}
func (actJoined) isAction()   {}
func (actRoster) isAction()   {}
func (actLeaving) isAction()  {}
func (actReset) isAction()    {}
func (actMuted) isAction()    {}
func (actAudio) isAction()    {}
func (actError) isAction()    {}

// reduce returns the state after a. It never mutates s.Roster in place.
func reduce(s State, a action) State {
	switch a := a.(type) {
	case actStarting:
		s.Room = a.room
		s.Audio = AudioChecking
		s.Error, s.ErrorCode = "", ""
	case actFailed:
		s.Status = StatusUnconfigured
		s.Roster = nil
		s.Muted = false
		if a.audio != nil {
			s.Audio = *a.audio
		}
		s.Error, s.ErrorCode = a.err.Message, a.err.Code
	case actJoining:
		s.Status = StatusJoining
		s.Audio = AudioGranted
	case actJoined:
		if s.Status == StatusJoining {
			s.Status = StatusActive
		}
	case actRoster:
		s.Roster = a.roster
	case actLeaving:
		s.Status = StatusLeaving
	case actReset:
		s.Status = StatusUnconfigured
		s.Roster = nil
		s.Muted = false
	case actMuted:
		s.Muted = a.muted
	case actAudio:
		s.Audio = a.audio
		if a.audio == AudioActive {
			s.Muted = false
		}
	case actError:
		s.Error, s.ErrorCode = a.err.Message, a.err.Code
	}
	return s
}

// buildRoster maps the provider's participant map to roster entries.
// Entries are deduplicated by session ID; the local participant comes
// first and the rest are ordered by name then ID.
func buildRoster(participants map[string]callengine.Participant) []Participant {
	byID := make(map[string]Participant, len(participants))
	for key, p := range participants {
		id := p.SessionID
		if id == "" {
			id = key
		}
		// an entry keyed by its own ID wins over a stale alias
		if _, seen := byID[id]; seen && key != id {
			continue
		}
		name := p.UserName
		if strings.TrimSpace(name) == "" {
			name = DefaultDisplayName
		}
		byID[id] = Participant{
			ID:            id,
			DisplayName:   name,
			AudioEnabled:  p.Audio,
			IsLocal:       p.Local,
			HasAudioTrack: p.AudioTrack,
		}
	}

	roster := make([]Participant, 0, len(byID))
	for _, p := range byID {
		roster = append(roster, p)
	}
	slices.SortFunc(roster, func(a, b Participant) int {
		if a.IsLocal != b.IsLocal {
			if a.IsLocal {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return roster
}
