package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/campuschat/internal/bus"
	"github.com/matheus3301/campuschat/internal/chat"
	"github.com/matheus3301/campuschat/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names reported by the daemon. The empty name is the
// daemon itself.
const (
	ServiceConn  = "campuschat.conn"
	ServiceCache = "campuschat.cache"
)

// ContactLoader is satisfied by *chat.Handler.
type ContactLoader interface {
	LoadContacts(ctx context.Context) ([]chat.Contact, error)
}

// Monitor mirrors the connection state into the health service and
// refreshes the contact cache after every authentication.
type Monitor struct {
	hs      *health.Server
	loader  ContactLoader
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. The cache is reported serving from the
// start because the store is migrated before the monitor exists.
func NewMonitor(hs *health.Server, h *chat.Handler, b *bus.Bus, logger *zap.Logger) *Monitor {
	return newMonitor(hs, h, b, logger)
}

func newMonitor(hs *health.Server, loader ContactLoader, b *bus.Bus, logger *zap.Logger) *Monitor {
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceCache, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceConn, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Monitor{
		hs:      hs,
		loader:  loader,
		bus:     b,
		logger:  logger,
		timeout: 15 * time.Second,
	}
}

// Start subscribes to connection events.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	events, unsub := m.bus.Subscribe("conn.", 32)
	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				m.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription and marks every service as shutting down.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.hs.Shutdown()
}

func (m *Monitor) handle(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.ConnStatusChanged:
		sc, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		if sc.To == status.Authenticated {
			m.hs.SetServingStatus(ServiceConn, healthpb.HealthCheckResponse_SERVING)
			go m.warm(ctx)
			return
		}
		m.hs.SetServingStatus(ServiceConn, healthpb.HealthCheckResponse_NOT_SERVING)
	case bus.ConnRetryExhausted:
		m.logger.Warn("reconnect attempts exhausted; send SIGHUP to retry", zap.Any("attempts", evt.Payload))
	}
}

func (m *Monitor) warm(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	contacts, err := m.loader.LoadContacts(ctx)
	if err != nil {
		m.logger.Warn("contact refresh failed", zap.Error(err))
		return
	}
	m.logger.Info("contacts refreshed", zap.Int("count", len(contacts)))
}
