package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/campuschat/internal/account"
	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/config"
	"github.com/matheus3301/campuschat/internal/conn"
	"github.com/matheus3301/campuschat/internal/engine"
	"github.com/matheus3301/campuschat/internal/logging"
	"github.com/matheus3301/campuschat/internal/room"
	"github.com/matheus3301/campuschat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

type globals struct {
	account string
	debug   bool
}

func (g *globals) resolve() (*config.Config, account.Paths, error) {
	cfg, err := config.Resolve(account.ConfigPath())
	if err != nil {
		return nil, account.Paths{}, fmt.Errorf("load config: %w", err)
	}
	name := account.Resolve(g.account, cfg)
	if err := account.ValidateName(name); err != nil {
		return nil, account.Paths{}, err
	}
	return cfg, account.For(name), nil
}

// openCache opens the account's cache written by chatd.
func openCache(paths account.Paths) (*store.DB, error) {
	if _, err := os.Stat(paths.DB()); err != nil {
		return nil, fmt.Errorf("no cache for account %q; has chatd run? (%w)", paths.Name, err)
	}
	db, err := store.Open(paths.DB())
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// live is an engine running inside chatctl for interactive commands.
type live struct {
	app   *fx.App
	bus   *bus.Bus
	conn  *conn.Manager
	chat  *chat.Handler
	rooms *room.Controller
	paths account.Paths
}

func (g *globals) startEngine(ctx context.Context) (*live, error) {
	cfg, paths, err := g.resolve()
	if err != nil {
		return nil, err
	}
	level := zapcore.InfoLevel
	if g.debug {
		level = zapcore.DebugLevel
	}
	logger, err := logging.NewFile(filepath.Join(paths.LogDir(), "chatctl.log"), paths.Name, level)
	if err != nil {
		return nil, err
	}

	l := &live{paths: paths}
	l.app = fx.New(
		fx.NopLogger,
		fx.Supply(logger),
		engine.Module(engine.Params{Config: cfg, AutoConnect: true}),
		fx.Populate(&l.bus, &l.conn, &l.chat, &l.rooms),
	)
	if err := l.app.Start(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *live) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.app.Stop(ctx)
}

var errGaveUp = errors.New("could not connect; reconnect attempts exhausted")

// waitAuthenticated blocks until the transport is authenticated or the
// manager gives up.
func (l *live) waitAuthenticated(ctx context.Context) error {
	events, unsub := l.bus.Subscribe("conn.", 16)
	defer unsub()
	for {
		if l.conn.Authenticated() {
			return nil
		}
		select {
		case evt := <-events:
			if evt.Kind == bus.ConnRetryExhausted {
				return errGaveUp
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
