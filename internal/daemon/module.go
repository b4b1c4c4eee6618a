// Package daemon composes the chime components into one fx application:
// providers for each layer, wire event routing, and the start/stop
// lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/call"
	"github.com/lvieira/chime/internal/chat"
	"github.com/lvieira/chime/internal/config"
	"github.com/lvieira/chime/internal/lock"
	"github.com/lvieira/chime/internal/logging"
	"github.com/lvieira/chime/internal/media"
	"github.com/lvieira/chime/internal/presence"
	"github.com/lvieira/chime/internal/profile"
	"github.com/lvieira/chime/internal/store"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideCredentials,
			provideStore,
			provideHTTPClient,
			provideMux,
			provideUploader,
			provideEngine,
			provideTracker,
			provideServerSource,
			provideCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", profile.ConfigPath(), err)
	}
	if cfg.Server.ChatSocketURL == "" || cfg.Server.CallSocketURL == "" {
		return nil, fmt.Errorf("config missing server.chat_socket_url or server.call_socket_url")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCredentials(p Params) (*profile.Credentials, error) {
	return profile.LoadCredentials(p.ProfileName)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// authTransport injects the profile's bearer token into REST calls.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

func provideHTTPClient(creds *profile.Credentials) *http.Client {
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &authTransport{token: creds.Token, base: http.DefaultTransport},
	}
}

func provideMux(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Mux {
	return transport.New(map[transport.Channel]string{
		transport.ChannelChat: cfg.Server.ChatSocketURL,
		transport.ChannelCall: cfg.Server.CallSocketURL,
	}, nil, b, logger)
}

func provideUploader(cfg *config.Config, client *http.Client, logger *zap.Logger) *upload.Uploader {
	return upload.New(cfg.Server.BaseURL, client, logger)
}

func provideEngine(db *store.DB, mux *transport.Mux, uploader *upload.Uploader, b *bus.Bus, creds *profile.Credentials, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(db, mux, uploader, b, creds.UserID, logger)
}

func provideTracker(mux *transport.Mux, b *bus.Bus, cfg *config.Config, creds *profile.Credentials, logger *zap.Logger) *presence.Tracker {
	debounce := time.Duration(cfg.Chat.TypingDebounceMS) * time.Millisecond
	return presence.NewTracker(mux, b, creds.UserID, debounce, logger)
}

func provideServerSource(cfg *config.Config, client *http.Client, logger *zap.Logger) *media.ServerSource {
	return media.NewServerSource(cfg.Call.ICECredentialURL, client, logger)
}

func provideCoordinator(mux *transport.Mux, src *media.ServerSource, b *bus.Bus, cfg *config.Config, creds *profile.Credentials, logger *zap.Logger) *call.Coordinator {
	factory := func(callType string) (call.Session, error) {
		return media.NewAdapter(media.Config{
			ICEServers: src.Servers(context.Background()),
			CallType:   callType,
			Capture:    true,
			Logger:     logger,
		})
	}
	return call.NewCoordinator(mux, factory, b, creds.UserID, cfg.Call.BusyPolicy, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, mux *transport.Mux, engine *chat.Engine, tracker *presence.Tracker, coordinator *call.Coordinator, creds *profile.Credentials, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Handlers first, so no frame arriving right after connect
			// is lost.
			bindChatEvents(mux, engine, tracker, logger)
			bindCallEvents(mux, coordinator, logger)

			if err := mux.Connect(ctx, creds.Token); err != nil {
				// The state machine already reflects the failure;
				// reconnecting is the operator's call.
				logger.Error("initial connect failed", zap.Error(err))
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(context.Context) error {
			if err := coordinator.HangUp(); err != nil {
				logger.Warn("hang up on shutdown failed", zap.Error(err))
			}
			tracker.Close()
			mux.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
