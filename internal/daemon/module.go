package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/api"
	"github.com/matheus3301/wamd/internal/autoreply"
	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/config"
	"github.com/matheus3301/wamd/internal/ingest"
	"github.com/matheus3301/wamd/internal/lock"
	"github.com/matheus3301/wamd/internal/logging"
	"github.com/matheus3301/wamd/internal/session"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

// Params holds the command-line level options passed to the fx module.
type Params struct {
	ConfigPath string // empty = built-in defaults
}

// Services is the operation surface the daemon exposes to embedding
// frontends.
type Services struct {
	Session       *session.Manager
	Conversations *api.ConversationService
	Messages      *api.MessageService
	Rules         *api.RuleService
	Events        *bus.Broadcaster
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
			provideStore,
			provideAdapter,
			providePipeline,
			provideManager,
			provideEngine,
			provideServices,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := config.Default()
	if p.ConfigPath != "" {
		loaded, err := config.Load(p.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), config.SessionID, cfg.LogLevel)
}

func provideBus() *bus.Broadcaster {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("dir", cfg.LockDir()))
	l, err := lock.Acquire(cfg.LockDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.AppDBPath())
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
	if _, err := db.EnsureSession(config.SessionID); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", cfg.AppDBPath()))
	return db, nil
}

func provideAdapter(cfg *config.Config, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), cfg.ProtocolDBPath(), cfg.BotName, logger)
}

func providePipeline(db *store.DB, b *bus.Broadcaster, logger *zap.Logger) *ingest.Pipeline {
	return ingest.NewPipeline(db, b, logger)
}

func provideManager(cfg *config.Config, adapter *wa.Adapter, db *store.DB, b *bus.Broadcaster, pipeline *ingest.Pipeline, logger *zap.Logger) *session.Manager {
	return session.NewManager(config.SessionID, adapter, db, b, pipeline, cfg.Reconnect, logger)
}

func provideEngine(db *store.DB, manager *session.Manager, pipeline *ingest.Pipeline, logger *zap.Logger) *autoreply.Engine {
	return autoreply.NewEngine(db, manager, pipeline, logger)
}

func provideServices(db *store.DB, b *bus.Broadcaster, manager *session.Manager, pipeline *ingest.Pipeline, logger *zap.Logger) *Services {
	return &Services{
		Session:       manager,
		Conversations: api.NewConversationService(db, b, logger),
		Messages:      api.NewMessageService(db, manager, pipeline, logger),
		Rules:         api.NewRuleService(db, logger),
		Events:        b,
	}
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, manager *session.Manager, pipeline *ingest.Pipeline, engine *autoreply.Engine, adapter *wa.Adapter, svcs *Services, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			pipeline.SetResponder(engine)
			manager.Run(context.Background())

			if adapter.HasCredentials() {
				logger.Info("stored credentials found, connecting")
			} else {
				logger.Info("no credentials stored, pairing required")
			}
			if err := manager.Start(); err != nil {
				return err
			}

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
