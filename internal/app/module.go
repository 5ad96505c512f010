// Package app composes the daemon: configuration, logging, the profile
// lock, local storage, the document-store connection, and the session
// client, wired together with fx.
package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/appstate"
	"github.com/perch-im/perch/internal/blob"
	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/client"
	"github.com/perch-im/perch/internal/config"
	"github.com/perch-im/perch/internal/directory"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/docstore/memstore"
	"github.com/perch-im/perch/internal/docstore/wsstore"
	"github.com/perch-im/perch/internal/identity"
	"github.com/perch-im/perch/internal/lock"
	"github.com/perch-im/perch/internal/logging"
	"github.com/perch-im/perch/internal/msgsync"
	"github.com/perch-im/perch/internal/notify"
	"github.com/perch-im/perch/internal/prefs"
	"github.com/perch-im/perch/internal/profile"
	"github.com/perch-im/perch/internal/registry"
	"github.com/perch-im/perch/internal/status"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			providePrefs,
			provideDocStore,
			provideBlobStore,
			provideProvider,
			provideDirectory,
			provideRegistry,
			provideSynchronizer,
			provideFeed,
			provideState,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func providePrefs(p Params, logger *zap.Logger) (*prefs.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := prefs.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("preferences store ready", zap.String("path", dbPath))
	return db, nil
}

// provideDocStore dials the configured backend, or falls back to an
// in-process store for local mode.
func provideDocStore(cfg *config.Config, logger *zap.Logger) (docstore.Store, error) {
	if cfg.Backend.URL == "" {
		logger.Info("no backend configured, using in-process store")
		return memstore.New(), nil
	}
	provider := identity.NewDevProvider([]byte(cfg.Backend.TokenSecret), accountFromConfig(cfg))
	token, err := provider.MintToken(accountFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("connecting to backend", zap.String("url", cfg.Backend.URL))
	return wsstore.Dial(context.Background(), cfg.Backend.URL, token, logger)
}

func provideBlobStore(p Params, logger *zap.Logger) (blob.Store, error) {
	return blob.NewFSStore(profile.BlobDir(p.ProfileName), logger)
}

func provideProvider(cfg *config.Config) identity.Provider {
	return identity.NewDevProvider([]byte(cfg.Backend.TokenSecret), accountFromConfig(cfg))
}

func accountFromConfig(cfg *config.Config) identity.Account {
	return identity.Account{
		Email:       cfg.Account.Email,
		DisplayName: cfg.Account.DisplayName,
		PhotoURL:    cfg.Account.PhotoURL,
	}
}

func provideDirectory(s docstore.Store, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(s, b, logger)
}

func provideRegistry(s docstore.Store, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(s, b, logger)
}

func provideSynchronizer(s docstore.Store, b *bus.Bus, logger *zap.Logger) *msgsync.Synchronizer {
	return msgsync.New(s, b, logger)
}

func provideFeed(s docstore.Store, b *bus.Bus, logger *zap.Logger) *notify.Feed {
	return notify.New(s, b, logger)
}

func provideState(b *bus.Bus) *appstate.State {
	return appstate.New(b)
}

func provideClient(
	provider identity.Provider,
	s docstore.Store,
	dir *directory.Directory,
	reg *registry.Registry,
	syncer *msgsync.Synchronizer,
	feed *notify.Feed,
	blobs blob.Store,
	state *appstate.State,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *client.Client {
	return client.New(client.Deps{
		Provider:  provider,
		Store:     s,
		Directory: dir,
		Registry:  reg,
		Sync:      syncer,
		Feed:      feed,
		Blobs:     blobs,
		State:     state,
		Machine:   machine,
		Bus:       b,
		Logger:    logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	c *client.Client,
	provider identity.Provider,
	store docstore.Store,
	db *prefs.DB,
	state *appstate.State,
	lk *lock.Lock,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p, err := db.Get()
			if err != nil {
				return err
			}
			state.SetTheme(p.Theme)

			if err := c.Start(context.Background()); err != nil {
				return err
			}
			if cfg.Account.Email != "" {
				go func() {
					if _, err := provider.SignIn(context.Background()); err != nil {
						logger.Error("auto sign-in failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no account configured, starting signed out")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := provider.SignOut(ctx); err != nil {
				logger.Warn("sign-out on shutdown failed", zap.Error(err))
			}
			c.Stop()
			if err := store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing preferences store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
