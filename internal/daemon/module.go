// Package daemon composes the tjchat session daemon: one WebSocket session,
// one orchestrated view, one mirror db per session.
package daemon

import (
	"context"
	"time"

	"github.com/trenchjob/tjchat/internal/auth"
	"github.com/trenchjob/tjchat/internal/bus"
	"github.com/trenchjob/tjchat/internal/chat"
	"github.com/trenchjob/tjchat/internal/lock"
	"github.com/trenchjob/tjchat/internal/logging"
	"github.com/trenchjob/tjchat/internal/mirror"
	"github.com/trenchjob/tjchat/internal/rpc"
	"github.com/trenchjob/tjchat/internal/session"
	"github.com/trenchjob/tjchat/internal/store"
	"github.com/trenchjob/tjchat/internal/view"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string // optional override; empty = config / default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideStateMachine,
			provideTransport,
			provideClient,
			provideOrchestrator,
			provideMirror,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("mirror store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStateMachine(b *bus.Bus) *rpc.Machine {
	return rpc.NewMachine(b)
}

func provideTransport(p Params, machine *rpc.Machine, logger *zap.Logger) (*rpc.Transport, error) {
	deviceID, err := session.DeviceID(p.SessionName)
	if err != nil {
		return nil, err
	}
	serverURL := p.ServerURL
	if serverURL == "" {
		serverURL = session.ResolveServerURL()
	}
	return rpc.New(serverURL, machine, logger, rpc.Options{DeviceID: deviceID}), nil
}

func provideClient(t *rpc.Transport, logger *zap.Logger) *chat.Client {
	return chat.NewClient(t, logger)
}

func provideOrchestrator(c *chat.Client, b *bus.Bus, logger *zap.Logger) *view.Orchestrator {
	return view.New(c, b, logger, view.Options{})
}

func provideMirror(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *mirror.Engine {
	selfID := ""
	if token, err := auth.LoadToken(session.TokenPath(p.SessionName)); err == nil {
		if claims, err := auth.Parse(token); err == nil {
			selfID = claims.UserID
		}
	}
	return mirror.NewEngine(db, b, selfID, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, t *rpc.Transport, orch *view.Orchestrator, eng *mirror.Engine, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			eng.Start(context.Background())
			orch.Start()

			token, err := auth.LoadToken(session.TokenPath(p.SessionName))
			if err != nil {
				logger.Info("no token stored, run `tjchat login` and restart")
				return nil
			}
			claims, err := auth.Parse(token)
			if err != nil {
				logger.Warn("stored token is not a valid JWT", zap.Error(err))
				return nil
			}
			if claims.Expired(time.Now()) {
				logger.Warn("stored token is expired, run `tjchat login` again",
					zap.Time("expired_at", claims.ExpiresAt))
				return nil
			}

			go func() {
				if err := t.Dial(context.Background(), token); err != nil {
					logger.Error("connect failed", zap.Error(err))
					return
				}
				orch.Refresh(context.Background())
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			orch.Stop()
			eng.Stop()
			_ = t.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing mirror db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
