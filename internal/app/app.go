package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/voiceroom/internal/callengine"
	lkclient "github.com/vovakirdan/voiceroom/internal/callengine/livekit"
	"github.com/vovakirdan/voiceroom/internal/config"
	"github.com/vovakirdan/voiceroom/internal/diag"
	"github.com/vovakirdan/voiceroom/internal/mic"
	"github.com/vovakirdan/voiceroom/internal/rooms"
	lkrooms "github.com/vovakirdan/voiceroom/internal/rooms/livekit"
	"github.com/vovakirdan/voiceroom/internal/session"
	"github.com/vovakirdan/voiceroom/internal/tui"
)

const shutdownTimeout = 5 * time.Second

// App wires the provisioner, the call manager and the front ends.
type App struct {
	cfg         config.Config
	manager     *session.Manager
	broker      *mic.Broker
	server      *stdhttp.Server
	interactive bool
	log         *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	provisioner, err := NewProvisioner(cfg, logger)
	if err != nil {
		return nil, err
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())

	var broker *mic.Broker
	var permission mic.Permission
	switch {
	case cfg.AssumeMic == config.MicGranted:
		permission = mic.Static(true)
	case cfg.AssumeMic == config.MicDenied:
		permission = mic.Static(false)
	case interactive:
		broker = mic.NewBroker()
		permission = broker
	case isatty.IsTerminal(os.Stdin.Fd()):
		permission = mic.NewPrompt(os.Stdin, os.Stderr)
	default:
		logger.Warn().Msg("no terminal to ask for microphone access, denying")
		permission = mic.Static(false)
	}

	manager := session.NewManager(session.Options{
		Provisioner:        provisioner,
		Factory:            lkclient.NewFactory(logger),
		Permission:         permission,
		LeaveTimeout:       cfg.LeaveTimeout,
		EnableAudioDelay:   cfg.EnableAudioDelay,
		AutoEnableAudio:    cfg.AutoEnableAudio,
		CredentialOptional: cfg.Provider == config.ProviderLiveKit,
	}, logger)

	a := &App{
		cfg:         cfg,
		manager:     manager,
		broker:      broker,
		interactive: interactive,
		log:         logger,
	}
	if cfg.DiagAddr != "" {
		a.server = diag.NewServer(cfg.DiagAddr, manager, logger)
	}
	return a, nil
}

// NewProvisioner picks the room provisioner for the configured provider.
func NewProvisioner(cfg config.Config, logger *zerolog.Logger) (rooms.Provisioner, error) {
	switch cfg.Provider {
	case config.ProviderREST:
		client := &stdhttp.Client{Timeout: cfg.RequestTimeout}
		return rooms.NewRESTProvisioner(cfg.APIURL, client, logger), nil
	case config.ProviderLiveKit:
		return lkrooms.New(lkrooms.Options{
			URL:       cfg.LiveKit.URL,
			APIKey:    cfg.LiveKit.APIKey,
			APISecret: cfg.LiveKit.APISecret,
			Identity:  cfg.LiveKit.Identity,
			TokenTTL:  cfg.LiveKit.TokenTTL,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Manager exposes the call manager.
func (a *App) Manager() *session.Manager {
	return a.manager
}

// Run starts the front end and the diagnostics server and blocks until the
// user quits, ctx is cancelled or a component fails. The call is always
// left before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.leave()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if a.interactive {
			return a.runUI(gctx)
		}
		return a.runHeadless(gctx)
	})

	if a.server != nil {
		g.Go(func() error {
			return a.serveDiag(gctx)
		})
	}

	return g.Wait()
}

func (a *App) runUI(ctx context.Context) error {
	var perms <-chan mic.Request
	if a.broker != nil {
		perms = a.broker.Requests()
	}
	model := tui.New(ctx, a.manager, perms, tui.Defaults{
		Credential:         a.credential(),
		Room:               a.cfg.Room,
		CredentialOptional: a.cfg.Provider == config.ProviderLiveKit,
	}, a.log)
	return tui.Run(ctx, model)
}

// runHeadless joins with the configured credential and stays in the call
// until it ends or ctx is cancelled.
func (a *App) runHeadless(ctx context.Context) error {
	err := a.manager.Start(ctx, session.Config{Credential: a.credential(), Room: a.cfg.Room})
	if errors.Is(err, session.ErrStartCancelled) {
		a.log.Info().Msg("call setup cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	a.log.Info().Str("room", a.cfg.Room).Msg("in call, interrupt to leave")

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-a.manager.Updates():
			if s.Status == session.StatusUnconfigured {
				a.log.Info().Msg("call ended")
				return nil
			}
		}
	}
}

func (a *App) serveDiag(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("diagnostics server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown diagnostics server: %w", err)
		}
		return <-serverErr
	}
}

func (a *App) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LeaveTimeout+time.Second)
	defer cancel()
	if err := a.manager.Stop(ctx); err != nil {
		a.log.Warn().Err(err).Msg("leave on exit failed")
	}
}

func (a *App) credential() string {
	if a.cfg.Provider == config.ProviderLiveKit {
		return ""
	}
	return a.cfg.APIKey
}

// Ensure the manager satisfies the front ends.
var (
	_ tui.Controller    = (*session.Manager)(nil)
	_ diag.Session      = (*session.Manager)(nil)
	_ callengine.Client = (*lkclient.Client)(nil)
)
