// Package engine composes the realtime session engine: one connection
// manager whose frames feed the chat handler and the room controller.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/chatapi"
	"github.com/matheus3301/campuschat/internal/config"
	"github.com/matheus3301/campuschat/internal/conn"
	"github.com/matheus3301/campuschat/internal/room"
	"github.com/matheus3301/campuschat/internal/status"
	"github.com/matheus3301/campuschat/internal/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params configure the engine. The caller supplies the *zap.Logger and may
// supply a chat.Recorder to persist direct-message state.
type Params struct {
	Config *config.Config
	// AutoConnect starts connecting when the app starts.
	AutoConnect bool
}

// Module returns the fx module for the engine.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideBus,
			provideMachine,
			provideIssuer,
			provideDialer,
			provideManager,
			provideAPI,
			provideHandler,
			provideRooms,
		),
		fx.Invoke(registerHandlers, registerLifecycle),
	)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideIssuer(p Params) *token.Issuer {
	return token.NewIssuer(p.Config.Server.TokenURL, token.Credential(p.Config.Server.Credential))
}

func provideDialer() *conn.WebsocketDialer {
	return conn.NewWebsocketDialer(10 * time.Second)
}

func provideManager(p Params, issuer *token.Issuer, dialer *conn.WebsocketDialer, m *status.Machine, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Options{
		DefaultURL: p.Config.Server.TransportURL,
		MaxRetries: p.Config.Reconnect.MaxRetries,
		BaseDelay:  p.Config.Reconnect.BaseDelay,
	}, issuer, dialer, m, b, logger.Named("conn"))
}

func provideAPI(p Params) (*chatapi.Client, error) {
	return chatapi.New(p.Config.Server.APIURL, token.Credential(p.Config.Server.Credential))
}

type handlerIn struct {
	fx.In

	Manager  *conn.Manager
	API      *chatapi.Client
	Recorder chat.Recorder `optional:"true"`
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func provideHandler(in handlerIn) *chat.Handler {
	return chat.NewHandler(in.Manager, in.API, in.Recorder, in.Bus, in.Logger.Named("chat"))
}

func provideRooms(p Params, m *conn.Manager, b *bus.Bus, logger *zap.Logger) *room.Controller {
	return room.NewController(room.Options{IdleTimeout: p.Config.Rooms.IdleTimeout}, m, b, logger.Named("room"))
}

func registerHandlers(m *conn.Manager, h *chat.Handler, rooms *room.Controller) {
	m.Handle(h.HandleFrame)
	m.Handle(rooms.HandleFrame)
}

func registerLifecycle(lc fx.Lifecycle, p Params, m *conn.Manager, rooms *room.Controller, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if p.AutoConnect {
				m.Start(context.Background())
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := rooms.Leave(); err != nil && !errors.Is(err, room.ErrNoRoom) {
				logger.Warn("leaving room on shutdown", zap.Error(err))
			}
			m.Stop()
			return nil
		},
	})
}
