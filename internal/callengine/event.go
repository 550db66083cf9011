package callengine

// EventKind names a remote notification.
type EventKind int

const (
	// EventParticipantJoined notifies that a participant entered the room.
	EventParticipantJoined EventKind = iota
	// EventParticipantUpdated notifies about changed participant state (tracks, mute).
	EventParticipantUpdated
	// EventParticipantLeft notifies that a participant left the room.
	EventParticipantLeft
	// EventJoinedMeeting confirms the local participant joined.
	EventJoinedMeeting
	// EventLeftMeeting confirms the local participant left.
	EventLeftMeeting
	// EventError reports a call-level error.
	EventError
	// EventCameraError reports a capture device error.
	EventCameraError
)

var eventNames = map[EventKind]string{
	EventParticipantJoined:  "participant-joined",
	EventParticipantUpdated: "participant-updated",
	EventParticipantLeft:    "participant-left",
	EventJoinedMeeting:      "joined-meeting",
	EventLeftMeeting:        "left-meeting",
	EventError:              "error",
	EventCameraError:        "camera-error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is the closed set of notifications a Client emits.
type Event interface {
	Kind() EventKind
}

// ParticipantJoined is emitted when a remote participant connects.
type ParticipantJoined struct{ Participant Participant }

// ParticipantUpdated is emitted when tracks or mute state change.
type ParticipantUpdated struct{ Participant Participant }

// ParticipantLeft is emitted when a remote participant disconnects.
type ParticipantLeft struct{ Participant Participant }

// JoinedMeeting is emitted once the local participant is in the room.
type JoinedMeeting struct{}

// LeftMeeting is emitted once the local participant is out of the room.
type LeftMeeting struct{}

// Error carries a provider error message.
type Error struct{ Msg string }

// CameraError carries a capture device error message.
type CameraError struct{ Msg string }

func (ParticipantJoined) Kind() EventKind  { return EventParticipantJoined }
func (ParticipantUpdated) Kind() EventKind { return EventParticipantUpdated }
func (ParticipantLeft) Kind() EventKind    { return EventParticipantLeft }
func (JoinedMeeting) Kind() EventKind      { return EventJoinedMeeting }
func (LeftMeeting) Kind() EventKind        { return EventLeftMeeting }
func (Error) Kind() EventKind              { return EventError }
func (CameraError) Kind() EventKind        { return EventCameraError }
