package session

import "errors"

// Error codes surfaced to the UI.
const (
	CodeCredentialMissing = "credential_missing"
	CodeRoomAccess        = "room_access"
	CodePermissionDenied  = "permission_denied"
	CodeJoinError         = "join_error"
	CodeRuntimeCallError  = "runtime_call_error"
	CodeAlreadyStarted    = "already_started"
)

// User-facing messages.
const (
	msgCredentialMissing = "Please enter your API key"
	msgPermissionDenied  = "Microphone permission is required for voice chat"
	msgAlreadyStarted    = "A call is already in progress"
	prefixSetup          = "Failed to setup room: "
	prefixCall           = "Call error: "
	prefixDevice         = "Audio/video error: "
)

// ErrNoSession is returned by operations that need an active call.
var ErrNoSession = errors.New("no active call")

// ErrStartCancelled is returned by Start when Stop ran before the call was up.
var ErrStartCancelled = errors.New("start cancelled")

// Error wraps a code and a single-line, human-readable message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func sessionError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}
