// Package tui is the terminal front end: a join form gating a call screen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bspinner "github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voiceroom/internal/mic"
	"github.com/vovakirdan/voiceroom/internal/session"
)

// Controller is the call surface the UI drives.
type Controller interface {
	Start(ctx context.Context, cfg session.Config) error
	Stop(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	TestAudio() (session.AudioReport, error)
	State() session.State
	Updates() <-chan session.State
}

// Defaults prefill the join form.
type Defaults struct {
	Credential string
	Room       string
	// CredentialOptional hides the "required" check on the key field.
	CredentialOptional bool
}

type (
	stateMsg     session.State
	startDoneMsg struct{ err error }
	muteDoneMsg  struct{ err error }
	leftMsg      struct{}
	testAudioMsg struct {
		report session.AudioReport
		err    error
	}
)

// fields is shared by pointer so huh bindings survive model copies.
type fields struct {
	credential string
	room       string
	allowMic   bool
}

// Model is the root bubbletea model.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	perms    <-chan mic.Request
	log      *zerolog.Logger
	defaults Defaults

	vals     *fields
	form     *huh.Form
	spinner  bspinner.Model
	state    session.State
	starting bool
	note     string

	permReq  *mic.Request
	permForm *huh.Form
}

// New builds the root model. perms may be nil when permission is not
// asked through the UI.
func New(ctx context.Context, ctrl Controller, perms <-chan mic.Request, defaults Defaults, logger *zerolog.Logger) Model {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	sp := bspinner.New()
	sp.Spinner = bspinner.Dot
	sp.Style = headerStyle

	vals := &fields{credential: defaults.Credential, room: defaults.Room}
	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		perms:    perms,
		log:      logger,
		defaults: defaults,
		vals:     vals,
		form:     newJoinForm(vals, defaults.CredentialOptional),
		spinner:  sp,
		state:    ctrl.State(),
	}
}

func newJoinForm(vals *fields, credentialOptional bool) *huh.Form {
	key := huh.NewInput().
		Title("API key").
		EchoMode(huh.EchoModePassword).
		Value(&vals.credential)
	if !credentialOptional {
		key = key.Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("Please enter your API key")
			}
			return nil
		})
	}
	room := huh.NewInput().
		Title("Room").
		Placeholder("debate-room").
		Value(&vals.room)
	return huh.NewForm(huh.NewGroup(key, room)).WithShowHelp(false)
}

func newPermissionForm(vals *fields) *huh.Form {
	vals.allowMic = true
	return huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Allow microphone access for voice chat?").
			Affirmative("Allow").
			Negative("Deny").
			Value(&vals.allowMic),
	)).WithShowHelp(false)
}

func waitForState(ch <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func waitForPermission(ch <-chan mic.Request) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		req, ok := <-ch
		if !ok {
			return nil
		}
		return req
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.form.Init(), m.spinner.Tick, waitForState(m.ctrl.Updates()), waitForPermission(m.perms))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case stateMsg:
		m.state = session.State(msg)
		wait := waitForState(m.ctrl.Updates())
		if m.onFormScreen() && m.form.State != huh.StateNormal {
			// the call ended on its own; offer the form again
			m.form = newJoinForm(m.vals, m.defaults.CredentialOptional)
			return m, tea.Batch(wait, m.form.Init())
		}
		return m, wait
	case mic.Request:
		req := msg
		m.permReq = &req
		m.permForm = newPermissionForm(m.vals)
		return m, m.permForm.Init()
	case startDoneMsg:
		m.starting = false
		m.state = m.ctrl.State()
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Msg("start failed")
		}
		if m.state.Status == session.StatusUnconfigured {
			m.form = newJoinForm(m.vals, m.defaults.CredentialOptional)
			return m, m.form.Init()
		}
		return m, nil
	case muteDoneMsg:
		m.state = m.ctrl.State()
		if msg.err != nil {
			m.note = "Mute failed: " + msg.err.Error()
		}
		return m, nil
	case testAudioMsg:
		m.note = formatReport(msg.report, msg.err)
		return m, nil
	case leftMsg:
		m.note = ""
		m.state = m.ctrl.State()
		m.form = newJoinForm(m.vals, m.defaults.CredentialOptional)
		return m, m.form.Init()
	case bspinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.permForm != nil {
		return m.updatePermission(msg)
	}
	if m.onCallScreen() {
		return m.updateCall(msg)
	}
	if m.onFormScreen() {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m Model) updatePermission(msg tea.Msg) (tea.Model, tea.Cmd) {
	fm, cmd := m.permForm.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.permForm = f
	}
	switch m.permForm.State {
	case huh.StateCompleted:
		m.permReq.Answer(m.vals.allowMic)
	case huh.StateAborted:
		m.permReq.Answer(false)
	default:
		return m, cmd
	}
	m.permForm = nil
	m.permReq = nil
	return m, tea.Batch(cmd, waitForPermission(m.perms))
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	fm, cmd := m.form.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		m.starting = true
		m.note = ""
		return m, tea.Batch(cmd, m.startCmd())
	case huh.StateAborted:
		return m, tea.Quit
	}
	return m, cmd
}

func (m Model) updateCall(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || m.state.Status == session.StatusLeaving {
		return m, nil
	}
	switch key.String() {
	case "m":
		return m, m.muteCmd()
	case "t":
		return m, m.testAudioCmd()
	case "l", "q", "esc":
		return m, m.leaveCmd()
	}
	return m, nil
}

func (m Model) startCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	cfg := session.Config{Credential: m.vals.credential, Room: m.vals.room}
	if strings.TrimSpace(cfg.Room) == "" {
		cfg.Room = m.defaults.Room
	}
	return func() tea.Msg {
		return startDoneMsg{err: ctrl.Start(ctx, cfg)}
	}
}

func (m Model) muteCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return muteDoneMsg{err: ctrl.ToggleMute(ctx)}
	}
}

func (m Model) testAudioCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		report, err := ctrl.TestAudio()
		return testAudioMsg{report: report, err: err}
	}
}

func (m Model) leaveCmd() tea.Cmd {
	ctx, ctrl, log := m.ctx, m.ctrl, m.log
	return func() tea.Msg {
		if err := ctrl.Stop(ctx); err != nil {
			log.Debug().Err(err).Msg("leave reported an error")
		}
		return leftMsg{}
	}
}

func (m Model) onCallScreen() bool {
	return m.state.InCall()
}

func (m Model) onFormScreen() bool {
	return !m.starting && m.state.Status == session.StatusUnconfigured
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Voice Room"))
	b.WriteString("\n\n")

	if m.state.Error != "" {
		b.WriteString(errorStyle.Render(m.state.Error))
		b.WriteString("\n\n")
	}

	switch {
	case m.permForm != nil:
		b.WriteString(m.permForm.View())
	case m.onCallScreen():
		b.WriteString(m.callView())
	case m.starting || m.state.Status == session.StatusJoining:
		fmt.Fprintf(&b, "%s Joining %s...", m.spinner.View(), m.vals.room)
	default:
		b.WriteString(m.form.View())
	}
	return b.String()
}

// localTrack reports whether the local participant publishes audio.
func localTrack(roster []session.Participant) bool {
	for _, p := range roster {
		if p.IsLocal {
			return p.HasAudioTrack
		}
	}
	return false
}

func (m Model) callView() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("Room"), m.state.Room)

	micLine := "Microphone on"
	if m.state.Muted {
		micLine = "Microphone muted"
	}
	if !localTrack(m.state.Roster) {
		micLine += " " + listenOnlyNote
	}
	fmt.Fprintf(&b, "%s  audio: %s\n\n", micLine, m.state.Audio)

	b.WriteString(headerStyle.Render(fmt.Sprintf("Participants (%d)", len(m.state.Roster))))
	b.WriteString("\n")
	var rows []string
	for _, p := range m.state.Roster {
		rows = append(rows, participantRow(p))
	}
	if len(rows) == 0 {
		rows = append(rows, mutedStyle.Render("waiting for participants..."))
	}
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if m.note != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(m.note))
		b.WriteString("\n")
	}
	if m.state.Status == session.StatusLeaving {
		b.WriteString("\n" + m.spinner.View() + " Leaving...")
		return b.String()
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("m mute/unmute • t test audio • l leave • ctrl+c quit"))
	return b.String()
}

func participantRow(p session.Participant) string {
	glyph := glyphMicOff
	if p.AudioEnabled {
		glyph = glyphMicOn
	}
	name := p.DisplayName
	if p.IsLocal {
		name += " " + selfStyle.Render(selfBadge)
	}
	row := glyph + " " + name
	if !p.HasAudioTrack && !p.IsLocal {
		row += " " + mutedStyle.Render("(no audio track)")
	}
	return row
}

func formatReport(r session.AudioReport, err error) string {
	if err != nil {
		return "Audio test: " + err.Error()
	}
	input := "off"
	if r.Input.AudioEnabled {
		input = "on"
	}
	return fmt.Sprintf("Audio test: %d participants, local audio %t, input %s (%s). Details in the log.",
		len(r.Participants), r.LocalAudio, input, r.Input.Device)
}
