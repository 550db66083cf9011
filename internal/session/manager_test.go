package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/voiceroom/internal/callengine"
	"github.com/vovakirdan/voiceroom/internal/callengine/callenginetest"
	"github.com/vovakirdan/voiceroom/internal/mic"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

func TestStartJoinsResolvedURL(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)

	if got := h.client.URL(); got != testJoinURL {
		t.Fatalf("expected join with %q, got %q", testJoinURL, got)
	}
	if opts := h.client.Options(); opts != callengine.AudioOnly {
		t.Fatalf("expected audio-only client, got %+v", opts)
	}

	s := mustState(t, h.mgr, "active with local participant", func(s State) bool {
		return s.Status == StatusActive && countLocal(s.Roster) == 1
	})
	if s.Room != "debate-room" || s.Error != "" {
		t.Fatalf("unexpected state after join: %+v", s)
	}
	if s.Roster[0].DisplayName != "me" || !s.Roster[0].IsLocal {
		t.Fatalf("expected local participant first, got %+v", s.Roster)
	}

	mustState(t, h.mgr, "audio active", func(s State) bool { return s.Audio == AudioActive })
	if hist := h.client.AudioHistory(); len(hist) != 1 || !hist[0] {
		t.Fatalf("expected one deferred enable-audio call, got %v", hist)
	}
}

func TestStartRequiresCredential(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)

	err := h.mgr.Start(context.Background(), Config{Credential: "  ", Room: "debate-room"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeCredentialMissing {
		t.Fatalf("expected credential_missing, got %v", err)
	}
	if h.prov.Calls() != 0 || len(*h.created) != 0 {
		t.Fatalf("expected no provisioning and no client")
	}
	if s := h.mgr.State(); s.Error != msgCredentialMissing || s.Status != StatusUnconfigured {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestCredentialOptional(t *testing.T) {
	h := newHarness(t, mic.Static(true), func(o *Options) { o.CredentialOptional = true })

	if err := h.mgr.Start(context.Background(), Config{Room: "debate-room"}); err != nil {
		t.Fatalf("start without credential: %v", err)
	}
	if h.prov.Calls() != 1 {
		t.Fatalf("expected provisioner to be called once, got %d", h.prov.Calls())
	}
}

func TestRoomAccessFailureDoesNotJoin(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.prov.err = &rooms.AccessError{Room: "debate-room", Status: 403, Reason: rooms.ReasonCreate}

	err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeRoomAccess {
		t.Fatalf("expected room_access, got %v", err)
	}
	var access *rooms.AccessError
	if !errors.As(err, &access) {
		t.Fatalf("expected wrapped AccessError, got %v", err)
	}

	want := "Failed to setup room: Failed to create room. Check your API key."
	s := h.mgr.State()
	if s.Error != want || s.Status != StatusUnconfigured {
		t.Fatalf("unexpected state: %+v", s)
	}
	if len(*h.created) != 0 {
		t.Fatalf("expected no call client, got %d", len(*h.created))
	}
}

func TestPermissionDeniedLeavesNoSession(t *testing.T) {
	h := newHarness(t, mic.Static(false), nil)

	for i := range 3 {
		err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
		var serr *Error
		if !errors.As(err, &serr) || serr.Code != CodePermissionDenied {
			t.Fatalf("attempt %d: expected permission_denied, got %v", i, err)
		}
		if !errors.Is(err, mic.ErrDenied) {
			t.Fatalf("attempt %d: expected wrapped ErrDenied", i)
		}

		s := h.mgr.State()
		if s.Audio != AudioDenied || s.Status != StatusUnconfigured {
			t.Fatalf("attempt %d: unexpected state %+v", i, s)
		}
		if s.Error != "Microphone permission is required for voice chat" {
			t.Fatalf("attempt %d: unexpected message %q", i, s.Error)
		}
		if _, err := h.mgr.TestAudio(); !errors.Is(err, ErrNoSession) {
			t.Fatalf("attempt %d: expected no session, got %v", i, err)
		}
	}

	if len(*h.created) != 3 {
		t.Fatalf("expected a client per attempt, got %d", len(*h.created))
	}
	for i, c := range *h.created {
		join, _, _ := c.Calls()
		if join != 0 || !c.Destroyed() {
			t.Fatalf("client %d: expected destroyed without join (join=%d)", i, join)
		}
	}
}

func TestJoinFailureReleasesClient(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.client.JoinErr = errors.New("room is full")

	err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeJoinError {
		t.Fatalf("expected join_error, got %v", err)
	}
	if !h.client.Destroyed() {
		t.Fatalf("expected client destroyed after failed join")
	}
	s := h.mgr.State()
	if s.Status != StatusUnconfigured || s.Error != "Failed to setup room: room is full" {
		t.Fatalf("unexpected state: %+v", s)
	}

	// user may retry with a fresh client
	h.start(t)
	if len(*h.created) != 2 {
		t.Fatalf("expected second client on retry, got %d", len(*h.created))
	}
}

func TestDoubleStartRejected(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)

	err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeAlreadyStarted {
		t.Fatalf("expected already_started, got %v", err)
	}
	if len(*h.created) != 1 || h.prov.Calls() != 1 {
		t.Fatalf("expected one client and one resolve, got %d/%d", len(*h.created), h.prov.Calls())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)

	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop without session: %v", err)
	}

	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })
	if err := h.mgr.ToggleMute(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	_, leave, destroy := h.client.Calls()
	if leave != 1 || destroy != 1 {
		t.Fatalf("expected one leave and one destroy, got %d/%d", leave, destroy)
	}
	s := h.mgr.State()
	if s.Status != StatusUnconfigured || len(s.Roster) != 0 || s.Muted {
		t.Fatalf("unexpected state after stop: %+v", s)
	}
}

func TestStopDestroysWhenLeaveFails(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.client.LeaveErr = errors.New("network down")
	h.start(t)

	if err := h.mgr.Stop(context.Background()); err == nil {
		t.Fatalf("expected leave error to be reported")
	}
	if !h.client.Destroyed() {
		t.Fatalf("expected client destroyed")
	}
	if s := h.mgr.State(); s.Status != StatusUnconfigured {
		t.Fatalf("expected unconfigured, got %s", s.Status)
	}
}

func TestStopDestroysWhenLeaveHangs(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.client.LeaveBlock = make(chan struct{})
	h.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	err := h.mgr.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected leave timeout, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Fatalf("stop took too long: %s", time.Since(started))
	}
	if !h.client.Destroyed() {
		t.Fatalf("expected client destroyed after leave timeout")
	}
}

func TestToggleMuteRoundTrip(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "audio active", func(s State) bool { return s.Audio == AudioActive })

	before := h.client.LocalAudio()
	if err := h.mgr.ToggleMute(context.Background()); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !h.mgr.State().Muted || h.client.LocalAudio() == before {
		t.Fatalf("expected muted after first toggle")
	}
	if err := h.mgr.ToggleMute(context.Background()); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if h.mgr.State().Muted || h.client.LocalAudio() != before {
		t.Fatalf("expected prior audio setting restored")
	}

	hist := h.client.AudioHistory()
	if len(hist) != 3 || hist[1] != false || hist[2] != true {
		t.Fatalf("unexpected audio history %v", hist)
	}
}

func TestToggleMuteWithoutSession(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)

	if err := h.mgr.ToggleMute(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if h.mgr.State().Muted || len(h.client.AudioHistory()) != 0 {
		t.Fatalf("expected nothing to change without a session")
	}
}

func TestToggleMuteFailureRestoresFlag(t *testing.T) {
	h := newHarness(t, mic.Static(true), func(o *Options) { o.AutoEnableAudio = false })
	h.start(t)
	h.client.SetAudioErr = errors.New("device busy")

	if err := h.mgr.ToggleMute(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if h.mgr.State().Muted {
		t.Fatalf("expected muted flag restored after failure")
	}
}

func TestMuteBeforeAutoEnableIsRespected(t *testing.T) {
	h := newHarness(t, mic.Static(true), func(o *Options) { o.EnableAudioDelay = 100 * time.Millisecond })
	h.start(t)

	if err := h.mgr.ToggleMute(context.Background()); err != nil {
		t.Fatalf("mute: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	if hist := h.client.AudioHistory(); len(hist) != 1 || hist[0] {
		t.Fatalf("expected only the user's mute, got %v", hist)
	}
	if s := h.mgr.State(); !s.Muted || s.Audio != AudioGranted {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestAutoEnableDisabled(t *testing.T) {
	h := newHarness(t, mic.Static(true), func(o *Options) { o.AutoEnableAudio = false })
	h.start(t)
	time.Sleep(100 * time.Millisecond)

	if hist := h.client.AudioHistory(); len(hist) != 0 {
		t.Fatalf("expected no enable-audio call, got %v", hist)
	}
}

func TestAutoEnableFailureKeepsSession(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.client.SetAudioErr = errors.New("no input device")
	h.start(t)

	s := mustState(t, h.mgr, "audio error", func(s State) bool { return s.Audio == AudioError })
	if s.Status != StatusActive {
		t.Fatalf("expected session to stay active, got %s", s.Status)
	}
	if h.client.Destroyed() {
		t.Fatalf("expected client kept after enable-audio failure")
	}
}

func TestQuickJoinsDeduplicateRoster(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	alice := callengine.Participant{SessionID: "a", UserName: "alice", Audio: true}
	h.client.AddRemote(alice)
	h.client.AddRemote(callengine.Participant{SessionID: "b"})
	h.client.UpdateRemote(alice)

	s := mustState(t, h.mgr, "three participants", func(s State) bool { return len(s.Roster) == 3 })
	if countLocal(s.Roster) != 1 {
		t.Fatalf("expected exactly one local participant, got %+v", s.Roster)
	}

	seen := map[string]Participant{}
	for _, p := range s.Roster {
		if _, dup := seen[p.ID]; dup {
			t.Fatalf("duplicate participant %q", p.ID)
		}
		seen[p.ID] = p
	}
	if seen["b"].DisplayName != DefaultDisplayName {
		t.Fatalf("expected default name for unnamed participant, got %q", seen["b"].DisplayName)
	}
	if !seen["a"].AudioEnabled {
		t.Fatalf("expected alice audio enabled")
	}
}

func TestDelayedRefreshPicksUpLateTrack(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	h.client.AddRemote(callengine.Participant{SessionID: "a", UserName: "alice"})
	h.client.SetParticipantSilently(callengine.Participant{SessionID: "a", UserName: "alice", AudioTrack: true})

	mustState(t, h.mgr, "late audio track", func(s State) bool {
		for _, p := range s.Roster {
			if p.ID == "a" && p.HasAudioTrack {
				return true
			}
		}
		return false
	})
}

func TestParticipantLeftRemovesFromRoster(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	h.client.AddRemote(callengine.Participant{SessionID: "a", UserName: "alice"})
	mustState(t, h.mgr, "alice joined", func(s State) bool { return len(s.Roster) == 2 })

	h.client.RemoveRemote("a")
	mustState(t, h.mgr, "alice left", func(s State) bool { return len(s.Roster) == 1 })
}

func TestRuntimeErrorsKeepSession(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	h.client.Emit(callengine.Error{Msg: "signal lost"})
	s := mustState(t, h.mgr, "call error", func(s State) bool { return s.Error != "" })
	if s.Error != "Call error: signal lost" || s.ErrorCode != CodeRuntimeCallError {
		t.Fatalf("unexpected error state: %+v", s)
	}

	h.client.Emit(callengine.CameraError{Msg: "mic unplugged"})
	s = mustState(t, h.mgr, "device error", func(s State) bool { return s.Error == "Audio/video error: mic unplugged" })
	if s.Status != StatusActive || h.client.Destroyed() {
		t.Fatalf("expected session kept after runtime errors: %+v", s)
	}
}

func TestRemoteLeftMeetingReleasesClient(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	h.client.Emit(callengine.LeftMeeting{})

	s := mustState(t, h.mgr, "unconfigured", func(s State) bool { return s.Status == StatusUnconfigured })
	if len(s.Roster) != 0 {
		t.Fatalf("expected roster cleared, got %+v", s.Roster)
	}
	mustDestroyed(t, h.client)
}

func TestRefreshAfterTeardownIsNoop(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })

	// schedules follow-up refreshes at 100ms and 500ms
	h.client.AddRemote(callengine.Participant{SessionID: "a", UserName: "alice"})
	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if roster := h.mgr.RefreshRoster(); roster != nil {
		t.Fatalf("expected nil roster without session, got %+v", roster)
	}
	time.Sleep(600 * time.Millisecond)
	if s := h.mgr.State(); len(s.Roster) != 0 || s.Status != StatusUnconfigured {
		t.Fatalf("expected delayed refreshes to be no-ops, got %+v", s)
	}
}

func TestTestAudioReport(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "audio active", func(s State) bool { return s.Audio == AudioActive })

	report, err := h.mgr.TestAudio()
	if err != nil {
		t.Fatalf("test audio: %v", err)
	}
	local, ok := report.Participants[callenginetest.LocalSessionID]
	if !ok || !local.Local {
		t.Fatalf("expected local participant in report, got %+v", report.Participants)
	}
	if !report.LocalAudio || !report.Input.AudioEnabled || report.Input.VideoEnabled {
		t.Fatalf("unexpected audio report: %+v", report)
	}
}

func TestUpdatesDeliversLatestState(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })
	time.Sleep(50 * time.Millisecond)

	select {
	case s := <-h.mgr.Updates():
		if s.Status != h.mgr.State().Status {
			t.Fatalf("expected latest status %s, got %s", h.mgr.State().Status, s.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a pending update")
	}
}

func mustDestroyed(t *testing.T, c *callenginetest.Client) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Destroyed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client was never destroyed")
}

func TestStopDuringPermissionPromptCancelsStart(t *testing.T) {
	asked := make(chan struct{})
	release := make(chan struct{})
	var promptCtx context.Context
	perm := mic.PermissionFunc(func(ctx context.Context) error {
		promptCtx = ctx
		close(asked)
		<-release // answers "allow" even after the stop
		return nil
	})
	h := newHarness(t, perm, nil)

	done := make(chan error, 1)
	go func() {
		done <- h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	}()
	<-asked

	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop during setup: %v", err)
	}
	if promptCtx.Err() == nil {
		t.Fatalf("expected the prompt context to be cancelled by stop")
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStartCancelled) {
		t.Fatalf("expected ErrStartCancelled, got %v", err)
	}
	join, _, destroy := h.client.Calls()
	if join != 0 || destroy != 1 {
		t.Fatalf("expected client destroyed without join, got join=%d destroy=%d", join, destroy)
	}
	if s := h.mgr.State(); s.Status != StatusUnconfigured || s.Error != "" {
		t.Fatalf("unexpected state after cancelled start: %+v", s)
	}

	if _, err := h.mgr.TestAudio(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session after cancelled start, got %v", err)
	}
}

func TestStopDuringRoomSetupCancelsStart(t *testing.T) {
	h := newHarness(t, mic.Static(true), nil)
	h.prov.entered = make(chan struct{})
	entered := h.prov.entered

	done := make(chan error, 1)
	go func() {
		done <- h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	}()
	<-entered

	if err := h.mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop during setup: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrStartCancelled) {
		t.Fatalf("expected ErrStartCancelled, got %v", err)
	}
	if len(*h.created) != 0 {
		t.Fatalf("expected no call client, got %d", len(*h.created))
	}
	if s := h.mgr.State(); s.Status != StatusUnconfigured || s.Error != "" {
		t.Fatalf("unexpected state after cancelled start: %+v", s)
	}

	h.prov.mu.Lock()
	h.prov.entered = nil
	h.prov.mu.Unlock()
	h.start(t)
	mustState(t, h.mgr, "active", func(s State) bool { return s.Status == StatusActive })
}

func TestUnjoinableURLRejectedBeforePrompt(t *testing.T) {
	asked := false
	perm := mic.PermissionFunc(func(context.Context) error {
		asked = true
		return nil
	})
	h := newHarness(t, perm, nil)
	h.client.URLErr = errors.New("not a LiveKit join url: join url has no access_token")

	err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"})
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != CodeRoomAccess {
		t.Fatalf("expected room_access, got %v", err)
	}
	if asked {
		t.Fatalf("expected no microphone prompt for an unjoinable url")
	}
	join, _, _ := h.client.Calls()
	if join != 0 || !h.client.Destroyed() {
		t.Fatalf("expected client destroyed without join, got join=%d", join)
	}
	want := "Failed to setup room: not a LiveKit join url: join url has no access_token"
	if s := h.mgr.State(); s.Error != want || s.Status != StatusUnconfigured {
		t.Fatalf("unexpected state: %+v", s)
	}
}
