package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIRequest(t *testing.T, method, body string) *http.Request {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, "http://127.0.0.1:5000/stats", nil)
	} else {
		req, err = http.NewRequest(method, "http://127.0.0.1:5000/predict", strings.NewReader(body))
	}
	require.NoError(t, err)
	return req
}

func TestAuthorize_AttachesBearer(t *testing.T) {
	f := newFixture(t, nil)
	token := tokenExpiringIn(t, epoch, time.Hour, "officer")
	require.NoError(t, f.manager.Establish(context.Background(), token))

	doer := &scriptedDoer{statuses: []int{http.StatusOK}}
	resp, err := Authorize(f.manager, doer).Do(newAPIRequest(t, http.MethodGet, ""))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"Bearer " + token}, doer.auth)
}

func TestAuthorize_RefreshAndReplayOnce(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "officer")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })
	stale := tokenExpiringIn(t, epoch, time.Hour, "officer")
	require.NoError(t, f.manager.Establish(context.Background(), stale))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	resp, err := Authorize(f.manager, doer).Do(newAPIRequest(t, http.MethodPost, `{"LoanAmount":120}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer " + stale, "Bearer " + fresh}, doer.auth)
	assert.Equal(t, []string{`{"LoanAmount":120}`, `{"LoanAmount":120}`}, doer.bodies)
	assert.True(t, Retried(resp.Request.Context()))
	assert.Equal(t, StateAuthenticated, f.manager.State())
}

func TestAuthorize_SecondUnauthorizedLogsOutWithoutLoop(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "officer")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })
	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}
	resp, err := Authorize(f.manager, doer).Do(newAPIRequest(t, http.MethodGet, ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, doer.auth, 2)
	assert.Equal(t, 1, f.refresher.Calls())
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}

func TestAuthorize_RefreshFailureSurfacesOriginal401(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("refresh rejected") })
	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}
	resp, err := Authorize(f.manager, doer).Do(newAPIRequest(t, http.MethodGet, ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, doer.auth, 1)
	assert.Equal(t, StateLoggedOut, f.manager.State())
}

func TestAuthorize_RetriedRequestIsNotRetriedAgain(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("unexpected") })
	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}
	req := newAPIRequest(t, http.MethodGet, "")
	req = req.WithContext(WithRetried(req.Context()))
	resp, err := Authorize(f.manager, doer).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Len(t, doer.auth, 1)
	assert.Zero(t, f.refresher.Calls())
	assert.Equal(t, StateLoggedOut, f.manager.State())
}

func TestAuthorize_NoSessionSendsUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}

	resp, err := Authorize(f.manager, doer).Do(newAPIRequest(t, http.MethodGet, ""))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{""}, doer.auth)
}

func TestAuthorize_ExpiredTokenNeverAttached(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := &memStore{}
	refresher := newBlockingRefresher()
	m := newManagerWith(t, clock, store, refresher)

	// Inside the refresh window, so a background refresh starts and hangs.
	require.NoError(t, m.Establish(context.Background(), tokenExpiringIn(t, epoch, 4*time.Minute, "officer")))
	refresher.waitStarted(t)
	clock.Advance(5 * time.Minute)

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}
	resp, err := Authorize(m, doer).Do(newAPIRequest(t, http.MethodGet, ""))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{""}, doer.auth, "expired token must not be attached")
	assert.Equal(t, StateLoggedOut, m.State())
	assert.Empty(t, store.Token())
}

func unreplayableRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://127.0.0.1:5000/predict", io.MultiReader(strings.NewReader(`{"LoanAmount":120}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)
	return req
}

func TestAuthorize_UnreplayableBodyStillRefreshes(t *testing.T) {
	fresh := tokenExpiringIn(t, epoch, 2*time.Hour, "officer")
	f := newFixture(t, func(string) (string, error) { return fresh, nil })
	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	resp, err := Authorize(f.manager, doer).Do(unreplayableRequest(t))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, doer.auth, 1, "body cannot be replayed")
	assert.Equal(t, 1, f.refresher.Calls())
	token, ok := f.manager.Token()
	assert.True(t, ok)
	assert.Equal(t, fresh, token)
	assert.Equal(t, StateAuthenticated, f.manager.State())
}

func TestAuthorize_UnreplayableBodyRefreshFailureLogsOut(t *testing.T) {
	f := newFixture(t, func(string) (string, error) { return "", errors.New("refresh rejected") })
	require.NoError(t, f.manager.Establish(context.Background(), tokenExpiringIn(t, epoch, time.Hour, "officer")))

	doer := &scriptedDoer{statuses: []int{http.StatusUnauthorized}}
	resp, err := Authorize(f.manager, doer).Do(unreplayableRequest(t))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, f.refresher.Calls())
	assert.Equal(t, StateLoggedOut, f.manager.State())
	assert.Empty(t, f.store.Token())
}
