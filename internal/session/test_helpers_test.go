package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/voiceroom/internal/callengine/callenginetest"
	"github.com/vovakirdan/voiceroom/internal/mic"
	"github.com/vovakirdan/voiceroom/internal/rooms"
)

const testJoinURL = "https://x.daily.co/debate-room"

type fakeProvisioner struct {
	mu    sync.Mutex
	err   error
	calls int

	// entered, when set, is closed once Resolve runs; Resolve then waits
	// for ctx to end.
	entered chan struct{}
}

func (p *fakeProvisioner) Resolve(ctx context.Context, _, room string) (rooms.Reference, error) {
	p.mu.Lock()
	p.calls++
	entered := p.entered
	p.mu.Unlock()
	if entered != nil {
		close(entered)
		<-ctx.Done()
		return rooms.Reference{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return rooms.Reference{}, p.err
	}
	return rooms.Reference{Name: room, JoinURL: testJoinURL}, nil
}

func (p *fakeProvisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	mgr     *Manager
	prov    *fakeProvisioner
	client  *callenginetest.Client
	created *[]*callenginetest.Client
}

func newHarness(t *testing.T, perm mic.Permission, tweak func(*Options)) *harness {
	t.Helper()

	client := callenginetest.New()
	factory, created := callenginetest.Factory(client)
	prov := &fakeProvisioner{}
	opts := Options{
		Provisioner:      prov,
		Factory:          factory,
		Permission:       perm,
		LeaveTimeout:     200 * time.Millisecond,
		EnableAudioDelay: 20 * time.Millisecond,
		AutoEnableAudio:  true,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h := &harness{
		mgr:     NewManager(opts, nil),
		prov:    prov,
		client:  client,
		created: created,
	}
	t.Cleanup(func() { _ = h.mgr.Stop(context.Background()) })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(context.Background(), Config{Credential: "k1", Room: "debate-room"}); err != nil {
		t.Fatalf("start: %v", err)
	}
}

// mustState polls until cond holds for the manager state.
func mustState(t *testing.T, m *Manager, what string, cond func(State) bool) State {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.State(); cond(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never satisfied %q, last state: %+v", what, m.State())
	return State{}
}

func countLocal(roster []Participant) int {
	n := 0
	for _, p := range roster {
		if p.IsLocal {
			n++
		}
	}
	return n
}
