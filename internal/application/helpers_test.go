package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/logger"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/memory"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

var testAssets = []string{"/", "/index.html", "/static/js/bundle.js", "/manifest.json"}

// shellOrigin serves the dashboard shell and counts hits per path.
type shellOrigin struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newShellOrigin(t testing.TB, extra http.HandlerFunc) *shellOrigin {
	t.Helper()
	o := &shellOrigin{hits: make(map[string]int)}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.Method+" "+r.URL.Path]++
		o.mu.Unlock()

		switch {
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		case r.URL.Path == "/partial":
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("part"))
		case extra != nil && strings.HasPrefix(r.URL.Path, "/x/"):
			extra(w, r)
		default:
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("asset:" + r.URL.Path))
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *shellOrigin) Hits(method, path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[method+" "+path]
}

func (o *shellOrigin) URL(t testing.TB) *url.URL {
	t.Helper()
	u, err := url.Parse(o.Server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func portOf(t testing.TB, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u.Port()
}

// recordingClaimer records the store's generations and the worker readiness
// at the moment Claim runs.
type recordingClaimer struct {
	mu          sync.Mutex
	store       domain.CacheStore
	readyProbe  func() bool
	claims      []string
	seenGens    [][]string
	readyAtCall []bool
}

func (c *recordingClaimer) Claim(ctx context.Context, generation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, generation)
	if c.store != nil {
		gens, _ := c.store.Generations(ctx)
		c.seenGens = append(c.seenGens, gens)
	}
	if c.readyProbe != nil {
		c.readyAtCall = append(c.readyAtCall, c.readyProbe())
	}
	return 0
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.GenerationEvent
}

func (p *recordingPublisher) PublishActivated(_ context.Context, e domain.GenerationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Events() []domain.GenerationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.GenerationEvent(nil), p.events...)
}

// failingPutStore wraps a store and fails every single-entry Put.
type failingPutStore struct {
	domain.CacheStore
	puts atomic.Int32
}

func (s *failingPutStore) Put(context.Context, string, domain.CachedEntry) error {
	s.puts.Add(1)
	return errors.New("store unavailable")
}

type fixture struct {
	origin    *shellOrigin
	api       *httptest.Server
	store     *memory.CacheStore
	claimer   *recordingClaimer
	publisher *recordingPublisher
	clock     *clockwork.FakeClock
	opts      WorkerOptions
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	origin := newShellOrigin(t, nil)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/applications" && r.Header.Get("Authorization") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Missing token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_applications":3,"approved":2,"rejected":1}`))
	}))
	t.Cleanup(api.Close)

	store := memory.NewCacheStore()
	f := &fixture{
		origin:    origin,
		api:       api,
		store:     store,
		claimer:   &recordingClaimer{store: store},
		publisher: &recordingPublisher{},
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
	f.opts = WorkerOptions{
		Store:       store,
		Network:     &http.Client{Timeout: 5 * time.Second},
		API:         APIMatcher{Ports: []string{portOf(t, api.URL)}},
		ShellOrigin: origin.URL(t),
		Assets:      testAssets,
		Clients:     f.claimer,
		Publisher:   f.publisher,
		PodID:       "pod-a",
		Clock:       f.clock,
		Logger:      logger.NewNop(),
	}
	return f
}

func (f *fixture) activeWorker(t testing.TB, generation string) *CacheWorker {
	t.Helper()
	w := NewCacheWorker(generation, f.opts)
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := w.Activate(context.Background(), true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return w
}

func newRequest(t testing.TB, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// fakeConn is an in-memory domain.ManagedConnection.
type fakeConn struct {
	mu       sync.Mutex
	ctx      context.Context
	addr     string
	writeErr error
	messages []any
	closed   bool
	code     websocket.StatusCode
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{ctx: context.Background(), addr: addr}
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) RemoteAddr() string       { return c.addr }
func (c *fakeConn) Context() context.Context { return c.ctx }

func (c *fakeConn) Messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.messages...)
}

func (c *fakeConn) Closed() (bool, websocket.StatusCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code
}
