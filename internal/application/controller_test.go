package application

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/logger"
)

func newTestController(f *fixture) *Controller {
	return NewController(logger.NewNop(), func(generation string) *CacheWorker {
		return NewCacheWorker(generation, f.opts)
	})
}

func TestController_FetchBeforeStart(t *testing.T) {
	f := newFixture(t)
	c := newTestController(f)

	_, err := c.Fetch(context.Background(), newRequest(t, http.MethodGet, f.origin.Server.URL+"/"))
	assert.ErrorIs(t, err, ErrNoActiveWorker)
	assert.False(t, c.Ready())
	assert.Empty(t, c.Generation())
}

func TestController_RolloverDeletesOldGeneration(t *testing.T) {
	f := newFixture(t)
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "loanguard-cache-v1"))
	assert.True(t, c.Ready())
	assert.Equal(t, len(testAssets), f.store.Len("loanguard-cache-v1"))

	// A runtime-cached entry in v1.
	resp, err := c.Fetch(ctx, newRequest(t, http.MethodGet, f.origin.Server.URL+"/logo192.png"))
	require.NoError(t, err)
	_ = readBody(t, resp)
	assert.Equal(t, len(testAssets)+1, f.store.Len("loanguard-cache-v1"))

	require.NoError(t, c.Rollover(ctx, "loanguard-cache-v2"))
	assert.Equal(t, "loanguard-cache-v2", c.Generation())

	gens, err := f.store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"loanguard-cache-v2"}, gens)
	assert.Zero(t, f.store.Len("loanguard-cache-v1"))
	assert.Len(t, f.publisher.Events(), 2)
}

func TestController_RolloverToSameGenerationIsNoop(t *testing.T) {
	f := newFixture(t)
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "v1"))
	require.NoError(t, c.Rollover(ctx, "v1"))
	assert.Len(t, f.publisher.Events(), 1)
	assert.Equal(t, 1, f.origin.Hits(http.MethodGet, "/index.html"))
}

func TestController_FailedInstallKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	c := newTestController(f)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "v1"))

	f.opts.Assets = append([]string{"/missing"}, testAssets...)
	err := c.Rollover(ctx, "v2")
	require.ErrorIs(t, err, ErrInstallFailed)

	assert.Equal(t, "v1", c.Generation())
	assert.True(t, c.Ready())
	gens, err := f.store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, gens)
}

func TestController_AdoptDoesNotInstallOrAnnounce(t *testing.T) {
	f := newFixture(t)
	c := newTestController(f)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "v1"))
	hits := f.origin.Hits(http.MethodGet, "/index.html")

	require.NoError(t, c.Adopt(ctx, "v2"))
	assert.Equal(t, "v2", c.Generation())
	assert.True(t, c.Ready())
	assert.Equal(t, hits, f.origin.Hits(http.MethodGet, "/index.html"))
	assert.Len(t, f.publisher.Events(), 1, "adopting a peer's generation is not re-announced")
	assert.Equal(t, []string{"v1", "v2"}, f.claimer.claims)

	gens, err := f.store.Generations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, gens, "v1")
}
