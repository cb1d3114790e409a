package application

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// ErrNoActiveWorker is returned by Fetch before the first generation was started.
var ErrNoActiveWorker = errors.New("no cache generation is active")

// WorkerFactory builds a worker for a generation name.
type WorkerFactory func(generation string) *CacheWorker

// Controller owns the worker that currently controls fetches. Lifecycle
// transitions are serialized; Fetch never blocks on them.
type Controller struct {
	logger    domain.Logger
	newWorker WorkerFactory

	current   atomic.Pointer[CacheWorker]
	lifecycle sync.Mutex
}

// NewController creates a controller with no active worker.
func NewController(logger domain.Logger, newWorker WorkerFactory) *Controller {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if newWorker == nil {
		panic("worker factory cannot be nil")
	}
	return &Controller{logger: logger, newWorker: newWorker}
}

// Start installs and activates generation. It is Rollover from an empty state.
func (c *Controller) Start(ctx context.Context, generation string) error {
	return c.Rollover(ctx, generation)
}

// Rollover installs generation, makes it current and activates it. The
// previous worker is retired before activation deletes its generation, so it
// can no longer write entries back. Rolling over to the current generation is a no-op.
func (c *Controller) Rollover(ctx context.Context, generation string) error {
	return c.transition(ctx, generation, true)
}

// Adopt switches to a generation another pod already installed into the shared
// store. Nothing is fetched and the activation is not re-announced.
func (c *Controller) Adopt(ctx context.Context, generation string) error {
	return c.transition(ctx, generation, false)
}

func (c *Controller) transition(ctx context.Context, generation string, install bool) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	previous := c.current.Load()
	if previous != nil && previous.Generation() == generation {
		c.logger.Debug(ctx, "Generation already active, skipping transition", "generation", generation)
		return nil
	}

	next := c.newWorker(generation)
	if install {
		if err := next.Install(ctx); err != nil {
			c.logger.Error(ctx, "Install failed, keeping previous generation",
				"generation", generation, "error", err.Error())
			return err
		}
	}

	c.current.Store(next)
	if previous != nil {
		previous.Retire()
		c.logger.Info(ctx, "Retired previous generation", "previous", previous.Generation(), "generation", generation)
	}

	return next.Activate(ctx, install)
}

// Fetch delegates to the current worker.
func (c *Controller) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	w := c.current.Load()
	if w == nil {
		return nil, ErrNoActiveWorker
	}
	return w.Fetch(ctx, req)
}

// Generation returns the current generation name, or "" before Start.
func (c *Controller) Generation() string {
	if w := c.current.Load(); w != nil {
		return w.Generation()
	}
	return ""
}

// Ready reports whether the current worker finished activation.
func (c *Controller) Ready() bool {
	w := c.current.Load()
	return w != nil && w.Ready()
}
