package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/safego"
)

// ErrNotConnected is returned when publishing without a NATS connection.
var ErrNotConnected = errors.New("nats connection is not established")

const adoptionQueueSize = 16

// GenerationHandler is invoked for activations announced by other pods.
type GenerationHandler func(ctx context.Context, event domain.GenerationEvent)

// GenerationEventsAdapter announces cache generation activations to peer pods
// and delivers theirs. Plain subjects are used, not JetStream: every pod must
// see every activation and a pod that was down picks up the configured
// generation on start anyway.
type GenerationEventsAdapter struct {
	nc      *nats.Conn
	subject string
	podID   string
	logger  domain.Logger
	sub     *nats.Subscription
	handler GenerationHandler
	appCtx  context.Context

	// queue feeds the single adopter goroutine so activations apply in arrival order.
	queue         chan domain.GenerationEvent
	startAdopter  sync.Once
	mu            sync.Mutex
	lastActivated time.Time
}

// NewGenerationEventsAdapter connects to NATS. The returned cleanup drains the connection.
func NewGenerationEventsAdapter(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*GenerationEventsAdapter, func(), error) {
	cfg := cfgProvider.Get()
	natsCfg := cfg.NATS

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-generations-%s", cfg.App.ServiceName, cfg.Server.PodID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	adapter := newAdapter(ctx, nc, natsCfg.Subject, cfg.Server.PodID, appLogger)
	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS connection...")
		adapter.Close()
	}
	return adapter, cleanup, nil
}

func newAdapter(ctx context.Context, nc *nats.Conn, subject, podID string, logger domain.Logger) *GenerationEventsAdapter {
	return &GenerationEventsAdapter{
		nc:      nc,
		subject: subject,
		podID:   podID,
		logger:  logger,
		appCtx:  ctx,
		queue:   make(chan domain.GenerationEvent, adoptionQueueSize),
	}
}

// PublishActivated announces event on the generations subject.
func (a *GenerationEventsAdapter) PublishActivated(ctx context.Context, event domain.GenerationEvent) error {
	if a.nc == nil || a.nc.IsClosed() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal generation event: %w", err)
	}
	if err := a.nc.Publish(a.subject, payload); err != nil {
		return fmt.Errorf("failed to publish generation event to %s: %w", a.subject, err)
	}
	a.logger.Info(ctx, "Published generation activation", "subject", a.subject, "generation", event.Generation)
	return nil
}

// Subscribe starts delivering peer activations to handler.
func (a *GenerationEventsAdapter) Subscribe(handler GenerationHandler) error {
	if a.nc == nil {
		return ErrNotConnected
	}
	a.setHandler(handler)
	sub, err := a.nc.Subscribe(a.subject, a.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", a.subject, err)
	}
	a.sub = sub
	a.logger.Info(a.appCtx, "Subscribed to generation events", "subject", a.subject)
	return nil
}

func (a *GenerationEventsAdapter) handleMessage(msg *nats.Msg) {
	var event domain.GenerationEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		a.logger.Warn(a.appCtx, "Discarding malformed generation event", "subject", msg.Subject, "error", err.Error())
		return
	}
	if event.Generation == "" {
		a.logger.Warn(a.appCtx, "Discarding generation event without generation", "subject", msg.Subject)
		return
	}
	if event.PodID == a.podID {
		a.logger.Debug(a.appCtx, "Ignoring own generation event", "generation", event.Generation)
		return
	}
	if a.handler == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if event.ActivatedAt.Before(a.lastActivated) {
		a.logger.Debug(a.appCtx, "Ignoring stale generation event",
			"generation", event.Generation, "activated_at", event.ActivatedAt, "latest", a.lastActivated)
		return
	}
	a.lastActivated = event.ActivatedAt

	select {
	case a.queue <- event:
		return
	default:
	}
	// Queue full: the oldest pending activation is superseded by this one.
	select {
	case dropped := <-a.queue:
		a.logger.Warn(a.appCtx, "Adoption queue full, dropping oldest generation event", "generation", dropped.Generation)
	default:
	}
	select {
	case a.queue <- event:
	default:
		a.logger.Warn(a.appCtx, "Adoption queue full, dropping generation event", "generation", event.Generation)
	}
}

// setHandler installs handler and starts the adopter. Adoption runs store
// cleanup and client fan-out, so it stays off the NATS dispatcher.
func (a *GenerationEventsAdapter) setHandler(handler GenerationHandler) {
	a.handler = handler
	a.startAdopter.Do(func() {
		safego.Execute(a.appCtx, a.logger, "GenerationEventAdopter", a.adopt)
	})
}

func (a *GenerationEventsAdapter) adopt() {
	for {
		select {
		case <-a.appCtx.Done():
			return
		case event := <-a.queue:
			a.handler(a.appCtx, event)
		}
	}
}

// IsConnected reports the connection state for readiness checks.
func (a *GenerationEventsAdapter) IsConnected() bool {
	return a.nc != nil && a.nc.IsConnected()
}

// Close unsubscribes and drains the connection.
func (a *GenerationEventsAdapter) Close() {
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
	if a.nc != nil && !a.nc.IsClosed() {
		a.logger.Info(context.Background(), "Draining NATS connection...")
		if err := a.nc.Drain(); err != nil {
			a.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
}
