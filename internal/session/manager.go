// Package session owns the lifecycle of one voice call and keeps the
// participant roster in sync with the call client's event stream.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/voiceroom/internal/callengine"
	"github.com/vovakirdan/voiceroom/internal/mic"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

// Config is supplied once before a call starts.
type Config struct {
	Credential string
	Room       string
}

// Options configure a Manager.
type Options struct {
	Provisioner rooms.Provisioner
	Factory     callengine.Factory
	Permission  mic.Permission

	// LeaveTimeout bounds the leave request during Stop.
	LeaveTimeout time.Duration
	// EnableAudioDelay is the wait before the post-join enable-audio call.
	EnableAudioDelay time.Duration
	// AutoEnableAudio turns the microphone on after join unless the user muted.
	AutoEnableAudio bool
	// CredentialOptional lets Start proceed without a credential, for
	// provisioners that carry their own keys.
	CredentialOptional bool
}

// AudioReport is the diagnostics dump produced by TestAudio.
type AudioReport struct {
	Participants map[string]callengine.Participant `json:"participants"`
	LocalAudio   bool                              `json:"local_audio"`
	Input        callengine.InputSettings          `json:"input_settings"`
}

// Manager runs at most one call at a time. All state changes go through
// reduce under mu; network calls never run under mu.
type Manager struct {
	opts Options
	log  *zerolog.Logger

	mu       sync.Mutex
	state    State
	client   callengine.Client
	rec      *reconciler
	gen      uint64
	starting bool
	// set by Stop while Start is still setting up
	stopRequested bool
	cancelStart   context.CancelFunc

	updates chan State
}

// NewManager creates a manager in the unconfigured state.
func NewManager(opts Options, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Permission == nil {
		opts.Permission = mic.Static(true)
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = 3 * time.Second
	}
	if opts.EnableAudioDelay < 0 {
		opts.EnableAudioDelay = 0
	}
	return &Manager{
		opts:    opts,
		log:     logger,
		updates: make(chan State, 1),
	}
}

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Updates delivers the latest state after every change. Slow readers
// only miss intermediate snapshots.
func (m *Manager) Updates() <-chan State {
	return m.updates
}

// Start resolves the room, asks for the microphone and joins the call.
// Every failure is also recorded in State as a single-line message.
func (m *Manager) Start(ctx context.Context, cfg Config) error {
	cfg.Credential = strings.TrimSpace(cfg.Credential)
	cfg.Room = strings.TrimSpace(cfg.Room)

	m.mu.Lock()
	if m.starting || m.state.Status != StatusUnconfigured {
		m.mu.Unlock()
		return sessionError(CodeAlreadyStarted, msgAlreadyStarted, nil)
	}
	if cfg.Credential == "" && !m.opts.CredentialOptional {
		err := sessionError(CodeCredentialMissing, msgCredentialMissing, nil)
		m.apply(actFailed{err: err})
		m.mu.Unlock()
		return err
	}
	startCtx, cancel := context.WithCancel(ctx)
	m.starting = true
	m.stopRequested = false
	m.cancelStart = cancel
	m.apply(actStarting{room: cfg.Room})
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = false
		m.cancelStart = nil
		m.mu.Unlock()
		cancel()
	}()

	m.log.Info().Str("room", cfg.Room).Msg("setting up room")
	ref, err := m.opts.Provisioner.Resolve(startCtx, cfg.Credential, cfg.Room)
	if m.abandoned() {
		return m.cancelled(nil)
	}
	if err != nil {
		m.log.Warn().Err(err).Str("room", cfg.Room).Msg("room setup failed")
		return m.fail(sessionError(CodeRoomAccess, prefixSetup+err.Error(), err), nil)
	}

	client, err := m.opts.Factory.NewClient(callengine.AudioOnly)
	if err != nil {
		return m.fail(sessionError(CodeJoinError, prefixSetup+err.Error(), err), nil)
	}
	if checker, ok := client.(callengine.URLChecker); ok {
		if err := checker.CheckURL(ref.JoinURL); err != nil {
			client.Destroy()
			m.log.Warn().Err(err).Str("room", cfg.Room).Msg("room url cannot be joined")
			return m.fail(sessionError(CodeRoomAccess, prefixSetup+err.Error(), err), nil)
		}
	}

	err = m.opts.Permission.Request(startCtx)
	if m.abandoned() {
		return m.cancelled(client)
	}
	if err != nil {
		client.Destroy()
		m.log.Warn().Err(err).Msg("microphone permission denied")
		denied := AudioDenied
		return m.fail(sessionError(CodePermissionDenied, msgPermissionDenied, err), &denied)
	}

	m.mu.Lock()
	if m.stopRequested {
		m.mu.Unlock()
		return m.cancelled(client)
	}
	m.gen++
	gen := m.gen
	rec := newReconciler()
	m.client = client
	m.rec = rec
	m.apply(actJoining{})
	m.mu.Unlock()

	go m.pump(gen, client)

	if err := client.Join(startCtx, ref.JoinURL); err != nil {
		// Stop below marks the start abandoned too, so read it first.
		abandoned := m.abandoned()
		if stopErr := m.Stop(ctx); stopErr != nil {
			m.log.Debug().Err(stopErr).Msg("leave after failed join")
		}
		if abandoned {
			m.log.Info().Str("room", cfg.Room).Msg("join cancelled")
			return ErrStartCancelled
		}
		m.log.Warn().Err(err).Str("room", cfg.Room).Msg("join failed")
		return m.fail(sessionError(CodeJoinError, prefixSetup+err.Error(), err), nil)
	}
	m.log.Info().Str("room", cfg.Room).Msg("joined room")

	if m.opts.AutoEnableAudio {
		rec.once(m.opts.EnableAudioDelay, func() { m.enableAudio(gen, client) })
	}
	return nil
}

// Stop leaves the call and releases the client. It is safe to call at any
// time and more than once; the client is destroyed even if leave fails.
// While Start is still setting up, Stop cancels it and Start returns
// ErrStartCancelled.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.starting {
		m.stopRequested = true
		if m.cancelStart != nil {
			m.cancelStart()
		}
	}
	client := m.client
	if client == nil {
		m.mu.Unlock()
		return nil
	}
	rec := m.rec
	m.client = nil
	m.rec = nil
	m.gen++
	m.apply(actLeaving{})
	m.mu.Unlock()

	rec.stop()

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LeaveTimeout)
	leaveErr := client.Leave(leaveCtx)
	cancel()
	if leaveErr != nil {
		m.log.Warn().Err(leaveErr).Msg("leave failed, destroying client anyway")
	}
	client.Destroy()

	m.mu.Lock()
	m.apply(actReset{})
	m.mu.Unlock()
	m.log.Info().Msg("left call")
	return leaveErr
}

// ToggleMute flips the muted flag and pushes the inverse to the client.
// Without a call it does nothing.
func (m *Manager) ToggleMute(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	if client == nil {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	muted := !m.state.Muted
	m.apply(actMuted{muted: muted})
	m.mu.Unlock()

	if err := client.SetLocalAudio(ctx, !muted); err != nil {
		m.log.Warn().Err(err).Bool("muted", muted).Msg("set local audio failed")
		m.mu.Lock()
		if m.gen == gen {
			m.apply(actMuted{muted: !muted})
		}
		m.mu.Unlock()
		return err
	}
	m.log.Debug().Bool("muted", muted).Msg("mute toggled")
	return nil
}

// RefreshRoster rebuilds the roster from the client's participant map.
// Without a call it returns nil and leaves state untouched.
func (m *Manager) RefreshRoster() []Participant {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.refresh(gen)
}

// TestAudio logs and returns the client's current audio picture.
func (m *Manager) TestAudio() (AudioReport, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return AudioReport{}, ErrNoSession
	}

	report := AudioReport{
		Participants: client.Participants(),
		LocalAudio:   client.LocalAudio(),
		Input:        client.InputSettings(),
	}
	m.log.Info().
		Interface("participants", report.Participants).
		Bool("local_audio", report.LocalAudio).
		Interface("input_settings", report.Input).
		Msg("audio test")
	return report, nil
}

func (m *Manager) refresh(gen uint64) []Participant {
	m.mu.Lock()
	client := m.client
	if client == nil || m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	roster := buildRoster(client.Participants())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.client == nil {
		return nil
	}
	m.apply(actRoster{roster: roster})
	return roster
}

func (m *Manager) pump(gen uint64, client callengine.Client) {
	for ev := range client.Events() {
		m.handle(gen, ev)
	}
}

func (m *Manager) handle(gen uint64, ev callengine.Event) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	rec := m.rec
	m.mu.Unlock()

	m.log.Debug().Stringer("event", ev.Kind()).Msg("call event")
	refreshLater := func(delays []time.Duration) {
		m.refresh(gen)
		if rec != nil {
			rec.schedule(func() { m.refresh(gen) }, delays...)
		}
	}

	switch ev := ev.(type) {
	case callengine.ParticipantJoined:
		refreshLater(refreshSchedule.joined)
	case callengine.ParticipantUpdated, callengine.ParticipantLeft:
		refreshLater(refreshSchedule.changed)
	case callengine.JoinedMeeting:
		m.update(gen, actJoined{})
		refreshLater(refreshSchedule.meeting)
	case callengine.LeftMeeting:
		m.log.Info().Msg("call ended by provider")
		if err := m.Stop(context.Background()); err != nil {
			m.log.Debug().Err(err).Msg("leave after remote end")
		}
	case callengine.Error:
		m.log.Warn().Str("error", ev.Msg).Msg("call error")
		m.update(gen, actError{err: sessionError(CodeRuntimeCallError, prefixCall+ev.Msg, errors.New(ev.Msg))})
	case callengine.CameraError:
		m.log.Warn().Str("error", ev.Msg).Msg("device error")
		m.update(gen, actError{err: sessionError(CodeRuntimeCallError, prefixDevice+ev.Msg, errors.New(ev.Msg))})
	}
}

func (m *Manager) enableAudio(gen uint64, client callengine.Client) {
	m.mu.Lock()
	if m.gen != gen || m.state.Muted {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.LeaveTimeout)
	defer cancel()
	if err := client.SetLocalAudio(ctx, true); err != nil {
		m.log.Warn().Err(err).Msg("enable audio failed")
		m.update(gen, actAudio{audio: AudioError})
		return
	}
	m.log.Debug().Msg("local audio enabled")
	m.update(gen, actAudio{audio: AudioActive})
}

func (m *Manager) abandoned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// cancelled releases a client built by an abandoned Start.
func (m *Manager) cancelled(client callengine.Client) error {
	if client != nil {
		client.Destroy()
	}
	m.log.Info().Msg("start cancelled")
	m.mu.Lock()
	m.apply(actReset{})
	m.mu.Unlock()
	return ErrStartCancelled
}

// update applies a only if the call that produced it is still current.
func (m *Manager) update(gen uint64, a action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.apply(a)
}

func (m *Manager) fail(err *Error, audio *AudioStatus) error {
	m.mu.Lock()
	m.apply(actFailed{err: err, audio: audio})
	m.mu.Unlock()
	return err
}

// apply must be called with mu held.
func (m *Manager) apply(a action) {
	m.state = reduce(m.state, a)
	snapshot := m.state.clone()
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- snapshot:
	default:
	}
}
