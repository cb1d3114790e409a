package safego

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// Execute runs fn in a new goroutine. A panic inside fn is recovered and logged
// under goroutineName together with the stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go run(ctx, logger, goroutineName, fn)
}

// Group is a set of goroutines started through Execute semantics that can be
// waited on. The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn like Execute and tracks it until it returns or panics.
func (g *Group) Go(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(ctx, logger, goroutineName, fn)
	}()
}

// Wait blocks until every goroutine started with Go has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}

func run(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logCtx := ctx
			if ctx.Err() != nil {
				logCtx = context.Background()
			}
			logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
				"panic_info", fmt.Sprintf("%v", r),
				"stacktrace", string(debug.Stack()),
			)
		}
	}()
	fn()
}
