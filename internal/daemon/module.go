// Package daemon wires the sync runtime of one session: configuration, the
// offline cache, the remote client and the engine, with their lifecycles.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/talk/internal/config"
	"github.com/matheus3301/talk/internal/engine"
	"github.com/matheus3301/talk/internal/lock"
	"github.com/matheus3301/talk/internal/logging"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/poll"
	"github.com/matheus3301/talk/internal/remote"
	"github.com/matheus3301/talk/internal/session"
	"github.com/matheus3301/talk/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	// Headless mirrors the log to stderr; leave it off while a TUI owns the
	// terminal.
	Headless bool
	Debug    bool

	// Optional overrides for testing; zero values use the session defaults.
	Config  *config.Config
	Service remote.Service
}

// Runtime is what the module exposes to front ends.
type Runtime struct {
	Engine          *engine.Engine
	Cache           *store.DB
	Config          *config.Config
	LoginURL        string
	CredentialsPath string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideStore,
			provideClient,
			provideService,
			provideEngine,
			providePersister,
			provideRuntime,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Logger routes fx's own events into the session log.
func Logger() fx.Option {
	return fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
		l.UseLogLevel(zapcore.DebugLevel)
		return l
	})
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.Options{
		Stderr: p.Headless,
		Level:  level,
	})
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

// provideStore takes the lock as a dependency so the cache is only opened by
// the instance that owns the session.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.SessionName)
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

func credentialsPath(p Params, cfg *config.Config) string {
	return cfg.CredentialsPath(session.CredentialsDir(p.SessionName))
}

// provideClient builds the HTTP client. A missing credentials file is not
// fatal: the server rejects the first request and the engine waits for the
// file to appear.
func provideClient(p Params, cfg *config.Config, logger *zap.Logger) (*remote.Client, error) {
	if p.Service != nil {
		return nil, nil
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is not set in %s", session.ConfigPath())
	}
	password, err := config.ReadCredentials(credentialsPath(p, cfg))
	if err != nil {
		if !errors.Is(err, config.ErrNoCredentials) {
			return nil, err
		}
		logger.Warn("no app password yet", zap.String("path", credentialsPath(p, cfg)))
	}
	return remote.NewClient(remote.ClientOptions{
		BaseURL:           cfg.Server.URL,
		User:              cfg.Server.User,
		Password:          password,
		RequestTimeout:    cfg.Server.RequestTimeout.Duration,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		LongPoll:          cfg.Poll.LongPoll.Duration,
	}, logger.Named("remote"))
}

func provideService(p Params, client *remote.Client) remote.Service {
	if p.Service != nil {
		return p.Service
	}
	return client
}

func provideEngine(cfg *config.Config, svc remote.Service, db *store.DB, logger *zap.Logger) (*engine.Engine, error) {
	policy := cfg.BackoffPolicy()
	eng := engine.New(svc, engine.Options{
		SelfID:           cfg.Server.User,
		SelfName:         cfg.Server.User,
		RoomListInterval: cfg.Poll.RoomListInterval.Duration,
		FeedCapacity:     cfg.Feed.Capacity,
		Poll: poll.Options{
			ActiveInterval:     cfg.Poll.ActiveInterval.Duration,
			BackgroundInterval: cfg.Poll.BackgroundInterval.Duration,
			FetchTimeout:       cfg.Poll.FetchTimeout.Duration,
			Backoff:            policy,
			Checkpointer:       store.NewReconciler(db, logger),
		},
		Outbox: outbox.Options{
			MaxAttempts: cfg.Outbox.MaxAttempts,
			SendTimeout: cfg.Outbox.SendTimeout.Duration,
			Backoff:     policy,
			Journal:     outbox.StoreJournal{DB: db},
		},
		Logger: logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := db.LoadSnapshot(ctx, cfg.UI.HistoryPerRoom)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	if err := eng.Restore(snap); err != nil {
		return nil, err
	}
	return eng, nil
}

// providePersister subscribes to the feed before the engine starts
// publishing.
func providePersister(db *store.DB, eng *engine.Engine, logger *zap.Logger) *store.Persister {
	return store.NewPersister(db, eng.Feed(), logger)
}

func provideRuntime(p Params, cfg *config.Config, eng *engine.Engine, db *store.DB, client *remote.Client) *Runtime {
	rt := &Runtime{
		Engine:          eng,
		Cache:           db,
		Config:          cfg,
		CredentialsPath: credentialsPath(p, cfg),
	}
	if client != nil {
		rt.LoginURL = client.LoginURL()
	}
	return rt
}

func registerLifecycle(lc fx.Lifecycle, p Params, rt *Runtime, client *remote.Client, persister *store.Persister, lk *lock.Lock, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		g      *errgroup.Group
	)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			g, ctx = errgroup.WithContext(ctx)

			g.Go(func() error { return persister.Run(ctx) })
			g.Go(func() error {
				err := rt.Engine.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			if client != nil {
				g.Go(func() error {
					err := config.WatchCredentials(ctx, rt.CredentialsPath, logger, func(secret string) {
						client.SetPassword(secret)
						if err := rt.Engine.Resume(ctx); err != nil && ctx.Err() == nil {
							logger.Warn("resume after credentials change", zap.Error(err))
						}
					})
					if err != nil && ctx.Err() == nil {
						// Syncing still works; only hot reload is lost.
						logger.Warn("credentials watcher stopped", zap.Error(err))
					}
					return nil
				})
			}

			logger.Info("daemon started", zap.String("session", p.SessionName), zap.Bool("headless", p.Headless))
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			if err := g.Wait(); err != nil {
				logger.Error("runtime stopped with error", zap.Error(err))
			}
			if err := rt.Cache.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
