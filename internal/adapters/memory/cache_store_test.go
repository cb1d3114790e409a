package memory

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

func entry(key, body string) domain.CachedEntry {
	return domain.CachedEntry{
		Key:      key,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Unix(1700000000, 0),
	}
}

func TestCacheStore_PutMatchOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewCacheStore()

	_, err := s.Match(ctx, "v1", "GET http://shell/")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, s.Put(ctx, "v1", entry("GET http://shell/", "first")))
	require.NoError(t, s.Put(ctx, "v1", entry("GET http://shell/", "second")))

	got, err := s.Match(ctx, "v1", "GET http://shell/")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got.Body))

	// Returned entries are copies.
	got.Body[0] = 'X'
	again, err := s.Match(ctx, "v1", "GET http://shell/")
	require.NoError(t, err)
	assert.Equal(t, "second", string(again.Body))

	_, err = s.Match(ctx, "v2", "GET http://shell/")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCacheStore_DeleteGenerationsExcept(t *testing.T) {
	ctx := context.Background()
	s := NewCacheStore()
	require.NoError(t, s.PutAll(ctx, "v1", []domain.CachedEntry{entry("a", "1"), entry("b", "2")}))
	require.NoError(t, s.PutAll(ctx, "v2", []domain.CachedEntry{entry("a", "1")}))
	require.NoError(t, s.Put(ctx, "v3", entry("c", "3")))

	gens, err := s.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, gens)
	assert.Equal(t, 2, s.Len("v1"))

	deleted, err := s.DeleteGenerationsExcept(ctx, "v3")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, deleted)

	gens, err = s.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v3"}, gens)
	assert.Zero(t, s.Len("v1"))
}

func TestCacheStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewCacheStore()
	assert.ErrorIs(t, s.Put(ctx, "v1", entry("a", "1")), context.Canceled)
	assert.Zero(t, s.Len("v1"))
}
