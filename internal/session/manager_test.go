package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func TestRestore_ExpiredTokenStartsLoggedOut(t *testing.T) {
	f := newFixture(t, nil)
	f.store.token = tokenExpiringIn(t, epoch, -time.Second, "officer")

	require.NoError(t, f.manager.Restore(context.Background()))

	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
	assert.Equal(t, 1, f.store.clears)
	_, ok := f.manager.Token()
	assert.False(t, ok)
	assert.Zero(t, f.refresher.Calls(), "restore never touches the network")
}

func TestRestore_UndecodableTokenIsCleared(t *testing.T) {
	f := newFixture(t, nil)
	f.store.token = "not-a-jwt"

	require.NoError(t, f.manager.Restore(context.Background()))

	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}

func TestRestore_NothingPersisted(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Restore(context.Background()))
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Zero(t, f.store.clears)
}

func TestRestore_ValidTokenArmsTimer(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "manager")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })
	stale := tokenExpiringIn(t, epoch, time.Hour, "manager")
	f.store.token = stale

	require.NoError(t, f.manager.Restore(context.Background()))
	assert.Equal(t, StateAuthenticated, f.manager.State())

	f.clock.Advance(54 * time.Minute)
	assert.Never(t, func() bool { return f.refresher.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		tok, _ := f.manager.Token()
		return tok == fresh
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 1, f.refresher.Calls())
	assert.Equal(t, fresh, f.store.Token())
	assert.Equal(t, StateAuthenticated, f.manager.State())
}

func TestEstablish_InsideWindowRefreshesImmediately(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, time.Hour, "officer")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })

	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, 4*time.Minute, "officer")))

	require.Eventually(t, func() bool { return f.store.Token() == fresh }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.refresher.Calls())
}

func TestEstablish_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.Establish(ctx, "garbage"), ErrInvalidToken)
	assert.ErrorIs(t, f.manager.Establish(ctx, tokenExpiringIn(t, epoch, -time.Minute, "x")), ErrTokenExpired)
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}

func TestEstablish_TokenWithoutExpGetsNoTimer(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("unexpected") })
	token := mint(t, jwt.MapClaims{"sub": "admin", "role": "ADMIN"})

	require.NoError(t, f.manager.Establish(context.Background(), token))
	f.clock.Advance(365 * 24 * time.Hour)

	assert.Never(t, func() bool { return f.refresher.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	got, ok := f.manager.Token()
	assert.True(t, ok)
	assert.Equal(t, token, got)
}

func TestProactiveRefreshFailureLogsOut(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("401") })

	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, 30*time.Minute, "officer")))
	f.clock.Advance(25 * time.Minute)

	require.Eventually(t, func() bool { return f.manager.State() == StateLoggedOut }, waitFor, 5*time.Millisecond)
	assert.Empty(t, f.store.Token())
}

func TestLogout_CancelsTimerAndIsIdempotent(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("unexpected") })
	ctx := context.Background()

	require.NoError(t, f.manager.Establish(ctx, tokenExpiringIn(t, epoch, time.Hour, "officer")))
	require.NoError(t, f.manager.Logout(ctx))
	require.NoError(t, f.manager.Logout(ctx))
	f.clock.Advance(2 * time.Hour)

	assert.Never(t, func() bool { return f.refresher.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}

func TestRefresh_ExpiredTokenNeverSent(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("unexpected") })
	ctx := context.Background()

	require.NoError(t, f.manager.Establish(ctx, tokenExpiringIn(t, epoch, 10*time.Minute, "officer")))
	f.manager.Close()
	f.clock.Advance(11 * time.Minute)

	_, err := f.manager.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Zero(t, f.refresher.Calls())
	assert.Equal(t, StateLoggedOut, f.manager.State())
}

func TestRefresh_LoggedOut(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrLoggedOut)
}

func TestRefresh_StaleTokenGetsCurrent(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "officer")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })
	ctx := context.Background()
	stale := tokenExpiringIn(t, epoch, time.Hour, "officer")
	require.NoError(t, f.manager.Establish(ctx, stale))

	got, err := f.manager.Refresh(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	got, err = f.manager.Refresh(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, f.refresher.Calls())
}

func TestRefresh_ConcurrentCallsCollapse(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "officer")
	release := make(chan struct{})
	f := newFixture(t, func(string) (string, error) {
		<-release
		return fresh, nil
	})
	ctx := context.Background()
	stale := tokenExpiringIn(t, epoch, time.Hour, "officer")
	require.NoError(t, f.manager.Establish(ctx, stale))

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := f.manager.Refresh(ctx, stale)
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	require.Eventually(t, func() bool { return f.refresher.Calls() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateRefreshing, f.manager.State())
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.refresher.Calls())
	for _, tok := range results {
		assert.Equal(t, fresh, tok)
	}
	assert.Equal(t, StateAuthenticated, f.manager.State())
}

func TestRefresh_UnusableReplacementLogsOut(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "not-a-jwt", nil })
	ctx := context.Background()
	require.NoError(t, f.manager.Establish(ctx, tokenExpiringIn(t, epoch, time.Hour, "officer")))

	_, err := f.manager.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, StateLoggedOut, f.manager.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
}

func TestLogout_CancelledContextStillClearsStore(t *testing.T) {
	store := &ctxStore{}
	m := newManagerWith(t, clockwork.NewFakeClockAt(epoch), store, &fakeRefresher{})
	require.NoError(t, m.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Logout(ctx))

	assert.Empty(t, store.Token())
	assert.Equal(t, StateLoggedOut, m.State())
}

func TestClose_CancelsRefreshInFlightAndKeepsSession(t *testing.T) {
	store := &memStore{}
	refresher := newBlockingRefresher()
	m := newManagerWith(t, clockwork.NewFakeClockAt(epoch), store, refresher)
	token := tokenExpiringIn(t, epoch, 4*time.Minute, "officer")

	require.NoError(t, m.Establish(context.Background(), token))
	refresher.waitStarted(t)
	m.Close()

	select {
	case err := <-refresher.returned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("refresh still running after Close")
	}
	require.Eventually(t, func() bool { return m.State() == StateAuthenticated }, waitFor, 5*time.Millisecond)
	assert.Equal(t, token, store.Token())
	current, ok := m.Token()
	assert.True(t, ok)
	assert.Equal(t, token, current)
}

func TestValidToken_ExpiredLogsOut(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("unexpected") })
	ctx := context.Background()

	require.NoError(t, f.manager.Establish(ctx, tokenExpiringIn(t, epoch, 10*time.Minute, "officer")))
	f.manager.Close()

	_, ok := f.manager.ValidToken(ctx)
	assert.True(t, ok)

	f.clock.Advance(11 * time.Minute)
	_, ok = f.manager.ValidToken(ctx)
	assert.False(t, ok)
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}
