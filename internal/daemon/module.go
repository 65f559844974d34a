package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheus3301/campuschat/internal/account"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/config"
	"github.com/matheus3301/campuschat/internal/conn"
	"github.com/matheus3301/campuschat/internal/engine"
	"github.com/matheus3301/campuschat/internal/lock"
	"github.com/matheus3301/campuschat/internal/logging"
	"github.com/matheus3301/campuschat/internal/outbox"
	"github.com/matheus3301/campuschat/internal/store"
	intsync "github.com/matheus3301/campuschat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/health"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
	Debug      bool
}

// Module returns the fx module for the daemon, composing the engine with the
// cache, the outbox and the health surface.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			fx.Annotate(provideSyncEngine, fx.As(fx.Self()), fx.As(new(chat.Recorder))),
			provideSender,
			health.NewServer,
			NewMonitor,
			NewServer,
		),
		engine.Module(engine.Params{Config: p.Config, AutoConnect: true}),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(account.For(p.Account).Log(), p.Account, level)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	paths := account.For(p.Account)
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(paths.Lock())
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.For(p.Account).DB()
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

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideSender(db *store.DB, h *chat.Handler, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, h, b, logger.Named("outbox"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, mon *Monitor, sender *outbox.Sender, mgr *conn.Manager, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			mon.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())

			// SIGHUP restarts connecting once the retry budget is spent.
			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				for range hup {
					logger.Info("retry requested")
					mgr.Retry()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			signal.Stop(hup)
			close(hup)
			sender.Stop()
			mon.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
