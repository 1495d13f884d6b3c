// ABOUTME: Matrix application service connection for coven-bridge
// ABOUTME: Adapts mautrix appservice intents to the upgrade handler and runs the event processor

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bridge/internal/upgrade"
)

// ErrListenerStopped is returned by Run when the appservice HTTP listener
// exits before shutdown was requested, for example when it cannot bind.
var ErrListenerStopped = errors.New("appservice listener stopped")

// ServiceConfig holds what is needed to start the application service.
type ServiceConfig struct {
	RegistrationPath string
	HomeserverURL    string
	HomeserverDomain string
	Hostname         string
	Port             uint16
}

// Service owns the appservice listener and its event processor.
type Service struct {
	as            *appservice.AppService
	homeserverURL string
	events *appservice.EventProcessor
	ghosts *GhostMatcher
	logger *slog.Logger
}

// NewService loads the registration and prepares the appservice.
func NewService(cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := appservice.LoadRegistration(cfg.RegistrationPath)
	if err != nil {
		return nil, fmt.Errorf("loading registration: %w", err)
	}

	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     reg,
		HomeserverDomain: cfg.HomeserverDomain,
		HomeserverURL:    cfg.HomeserverURL,
		HostConfig: appservice.HostConfig{
			Hostname: cfg.Hostname,
			Port:     cfg.Port,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating appservice: %w", err)
	}

	var patterns []string
	for _, ns := range reg.Namespaces.UserIDs {
		patterns = append(patterns, ns.Regex)
	}
	ghosts, err := NewGhostMatcher(as.BotMXID(), patterns...)
	if err != nil {
		return nil, err
	}

	return &Service{
		as:            as,
		homeserverURL: cfg.HomeserverURL,
		events: appservice.NewEventProcessor(as),
		ghosts: ghosts,
		logger: logger.With("component", "appservice"),
	}, nil
}

// HomeserverURL returns the homeserver the appservice talks to.
func (s *Service) HomeserverURL() string {
	return s.homeserverURL
}

// BotUserID returns the bridge bot's user ID.
func (s *Service) BotUserID() id.UserID {
	return s.as.BotMXID()
}

// Register routes every dispatched event type to d.
func (s *Service) Register(d *Dispatcher) {
	for _, t := range DispatchedTypes {
		s.events.On(t, d.HandleEvent)
	}
}

// FetchProfile asks the homeserver for a user's profile as the bot.
func (s *Service) FetchProfile(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error) {
	return s.as.BotClient().GetProfile(ctx, userID)
}

// Run starts the listener and event processor and blocks until ctx is
// cancelled or the listener stops on its own.
func (s *Service) Run(ctx context.Context) error {
	if err := s.as.BotIntent().EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("registering bot user: %w", err)
	}

	s.logger.Info("starting appservice",
		"homeserver", s.homeserverURL,
		"bot", s.as.BotMXID(),
		"listen", fmt.Sprintf("%s:%d", s.as.Host.Hostname, s.as.Host.Port),
	)

	go s.events.Start(ctx)
	defer s.events.Stop()

	err := superviseListener(ctx, s.as.Start, s.as.Stop)
	if err != nil {
		s.logger.Error("appservice listener exited", "error", err)
		return err
	}
	s.logger.Info("shutting down appservice")
	return nil
}

// superviseListener runs start until ctx is cancelled, then calls stop.
// start returning first means the listener died.
func superviseListener(ctx context.Context, start, stop func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		start()
	}()

	select {
	case <-done:
		return ErrListenerStopped
	case <-ctx.Done():
		stop()
		return nil
	}
}

// BotIntent implements upgrade.Bridge.
func (s *Service) BotIntent() upgrade.Intent {
	return intent{api: s.as.BotIntent()}
}

// GhostIntent implements upgrade.Bridge.
func (s *Service) GhostIntent(userID id.UserID) upgrade.Intent {
	return intent{api: s.as.Intent(userID)}
}

// JoinedMembers implements upgrade.Bridge.
func (s *Service) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	resp, err := s.as.BotIntent().JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("fetching joined members: %w", err)
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}

// IsGhost implements upgrade.Bridge.
func (s *Service) IsGhost(userID id.UserID) bool {
	return s.ghosts.Match(userID)
}

// intent adapts an appservice IntentAPI to upgrade.Intent.
type intent struct {
	api *appservice.IntentAPI
}

func (i intent) JoinRoom(ctx context.Context, roomID id.RoomID, via []string) error {
	if err := i.api.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("registering %s: %w", i.api.UserID, err)
	}
	_, err := i.api.Client.JoinRoom(ctx, roomID.String(), &mautrix.ReqJoinRoom{Via: via})
	return err
}

func (i intent) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := i.api.Client.LeaveRoom(ctx, roomID)
	return err
}

var _ upgrade.Bridge = (*Service)(nil)
