package session

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/logger"
)

var epoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func tokenExpiringIn(t *testing.T, now time.Time, d time.Duration, sub string) string {
	t.Helper()
	return mint(t, jwt.MapClaims{"sub": sub, "role": "MANAGER", "exp": now.Add(d).Unix()})
}

type memStore struct {
	mu      sync.Mutex
	token   string
	clears  int
	saveErr error
}

func (s *memStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *memStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.token = token
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.clears++
	return nil
}

func (s *memStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
	fn    func(token string) (string, error)
}

func (r *fakeRefresher) Refresh(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, token)
	fn := r.fn
	r.mu.Unlock()
	return fn(token)
}

func (r *fakeRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	clock     *clockwork.FakeClock
	store     *memStore
	refresher *fakeRefresher
	manager   *Manager
}

func newFixture(t *testing.T, refresh func(token string) (string, error)) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clockwork.NewFakeClockAt(epoch),
		store:     &memStore{},
		refresher: &fakeRefresher{fn: refresh},
	}
	f.manager = NewManager(Options{
		Store:     f.store,
		Refresher: f.refresher,
		Logger:    logger.NewNop(),
		Clock:     f.clock,
	})
	t.Cleanup(f.manager.Close)
	return f
}

// scriptedDoer answers requests with the given statuses in order and records
// the Authorization header of each.
type scriptedDoer struct {
	mu       sync.Mutex
	statuses []int
	auth     []string
	bodies   []string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auth = append(d.auth, req.Header.Get("Authorization"))
	if req.Body != nil {
		b := new(strings.Builder)
		_, _ = io.Copy(b, req.Body)
		d.bodies = append(d.bodies, b.String())
	}
	status := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(http.StatusText(status))),
		Request:    req,
	}, nil
}

// blockingRefresher holds every refresh until its context ends.
type blockingRefresher struct {
	started  chan struct{}
	once     sync.Once
	returned chan error
}

func newBlockingRefresher() *blockingRefresher {
	return &blockingRefresher{started: make(chan struct{}), returned: make(chan error, 1)}
}

func (r *blockingRefresher) Refresh(ctx context.Context, _ string) (string, error) {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	select {
	case r.returned <- ctx.Err():
	default:
	}
	return "", ctx.Err()
}

func (r *blockingRefresher) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never started")
	}
}

// ctxStore is a memStore whose Clear honours cancellation, like a store
// backed by the network would.
type ctxStore struct {
	memStore
}

func (s *ctxStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.Clear(ctx)
}

func newManagerWith(t *testing.T, clock clockwork.Clock, store TokenStore, refresher Refresher) *Manager {
	t.Helper()
	m := NewManager(Options{Store: store, Refresher: refresher, Logger: logger.NewNop(), Clock: clock})
	t.Cleanup(m.Close)
	return m
}
