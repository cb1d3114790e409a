package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/metrics"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/contextkeys"
)

var (
	// ErrInstallFailed is returned when a shell asset could not be fetched.
	// Nothing is stored in that case.
	ErrInstallFailed = errors.New("shell install failed")
	// ErrRelativeURL is returned by Fetch for requests without scheme and host.
	ErrRelativeURL = errors.New("request URL must be absolute")
)

// HTTPDoer is the network. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WorkerOptions carries everything a CacheWorker needs besides its generation.
type WorkerOptions struct {
	Store       domain.CacheStore
	Network     HTTPDoer
	API         APIMatcher
	ShellOrigin *url.URL
	Assets      []string
	Clients     domain.ClientClaimer
	Publisher   domain.GenerationPublisher // optional
	PodID       string
	Clock       clockwork.Clock
	Logger      domain.Logger
}

// CacheWorker serves one cache generation. Static shell assets are answered
// cache-first, API calls network-first with a synthetic offline fallback.
// Fetch blocks until Activate has finished.
type CacheWorker struct {
	generation string
	opts       WorkerOptions

	ready     chan struct{}
	readyOnce sync.Once

	retireMu sync.RWMutex
	retired  bool
}

// NewCacheWorker creates a worker for generation.
func NewCacheWorker(generation string, opts WorkerOptions) *CacheWorker {
	if opts.Store == nil {
		panic("cache store cannot be nil")
	}
	if opts.Network == nil {
		panic("network doer cannot be nil")
	}
	if opts.ShellOrigin == nil {
		panic("shell origin cannot be nil")
	}
	if opts.Logger == nil {
		panic("logger cannot be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &CacheWorker{
		generation: generation,
		opts:       opts,
		ready:      make(chan struct{}),
	}
}

// Generation returns the name of the cache generation this worker owns.
func (w *CacheWorker) Generation() string {
	return w.generation
}

// Ready reports whether activation completed and fetches are being served.
func (w *CacheWorker) Ready() bool {
	select {
	case <-w.ready:
		return true
	default:
		return false
	}
}

func (w *CacheWorker) logCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.GenerationKey, w.generation)
}

// Install fetches every shell asset and stores them in one atomic write.
// Any network error or non-2xx asset aborts the install before the store is touched.
func (w *CacheWorker) Install(ctx context.Context) error {
	ctx = w.logCtx(ctx)
	now := w.opts.Clock.Now()
	entries := make([]domain.CachedEntry, 0, len(w.opts.Assets))

	for _, asset := range w.opts.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return fmt.Errorf("%w: invalid asset path %q: %v", ErrInstallFailed, asset, err)
		}
		target := w.opts.ShellOrigin.ResolveReference(ref)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInstallFailed, err)
		}
		resp, err := w.opts.Network.Do(req)
		if err != nil {
			w.opts.Logger.Error(ctx, "Failed to fetch shell asset during install", "asset", asset, "error", err.Error())
			return fmt.Errorf("%w: fetching %s: %v", ErrInstallFailed, target, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrInstallFailed, target, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			w.opts.Logger.Error(ctx, "Shell asset returned non-success status during install", "asset", asset, "status", resp.StatusCode)
			return fmt.Errorf("%w: %s returned status %d", ErrInstallFailed, target, resp.StatusCode)
		}

		entries = append(entries, domain.NewCachedEntry(domain.CacheKey(http.MethodGet, target.String()), resp, body, now))
	}

	if err := w.opts.Store.PutAll(ctx, w.generation, entries); err != nil {
		return fmt.Errorf("%w: storing shell: %v", ErrInstallFailed, err)
	}

	w.opts.Logger.Info(ctx, "Shell installed", "assets", len(entries))
	return nil
}

// Activate deletes every other cache generation, claims all open pages and
// only then opens the fetch gate. When announce is set the activation is
// published to peer pods.
func (w *CacheWorker) Activate(ctx context.Context, announce bool) error {
	ctx = w.logCtx(ctx)

	deleted, err := w.opts.Store.DeleteGenerationsExcept(ctx, w.generation)
	if err != nil {
		// Stale generations are retried on the next activation; the current
		// generation is still the only one fetches read from.
		w.opts.Logger.Error(ctx, "Failed to delete stale cache generations", "error", err.Error())
	} else if len(deleted) > 0 {
		w.opts.Logger.Info(ctx, "Deleted stale cache generations", "deleted", deleted)
	}
	metrics.RecordActivation(len(deleted))

	if w.opts.Clients != nil {
		claimed := w.opts.Clients.Claim(ctx, w.generation)
		w.opts.Logger.Info(ctx, "Claimed open clients", "clients", claimed)
	}

	if announce && w.opts.Publisher != nil {
		event := domain.GenerationEvent{
			Generation:  w.generation,
			PodID:       w.opts.PodID,
			ActivatedAt: w.opts.Clock.Now().UTC(),
		}
		if err := w.opts.Publisher.PublishActivated(ctx, event); err != nil {
			w.opts.Logger.Warn(ctx, "Failed to publish generation activation", "error", err.Error())
		}
	}

	w.readyOnce.Do(func() { close(w.ready) })
	w.opts.Logger.Info(ctx, "Cache generation activated")
	return nil
}

// Retire stops the worker from writing to the store. In-flight writes finish
// before Retire returns.
func (w *CacheWorker) Retire() {
	w.retireMu.Lock()
	w.retired = true
	w.retireMu.Unlock()
}

// Fetch answers req. The request URL must be absolute.
func (w *CacheWorker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL == nil || !req.URL.IsAbs() {
		return nil, ErrRelativeURL
	}

	select {
	case <-w.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx = w.logCtx(ctx)
	start := w.opts.Clock.Now()

	if w.opts.API.Matches(req.URL) {
		resp := w.fetchAPI(ctx, req)
		metrics.ObserveFetch(metrics.RouteAPI, w.opts.Clock.Since(start).Seconds())
		return resp, nil
	}

	resp, err := w.fetchStatic(ctx, req)
	metrics.ObserveFetch(metrics.RouteStatic, w.opts.Clock.Since(start).Seconds())
	return resp, err
}

func (w *CacheWorker) fetchAPI(ctx context.Context, req *http.Request) *http.Response {
	resp, err := w.opts.Network.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RecordAPIRequest(metrics.APIOffline)
		w.opts.Logger.Warn(ctx, "API unreachable, returning offline response", "url", req.URL.String(), "error", err.Error())
		return OfflineResponse(req)
	}
	metrics.RecordAPIRequest(metrics.APIOK)
	return resp
}

func (w *CacheWorker) fetchStatic(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := domain.CacheKey(req.Method, req.URL.String())

	entry, err := w.opts.Store.Match(ctx, w.generation, key)
	switch {
	case err == nil:
		metrics.RecordCacheLookup(metrics.LookupHit)
		w.opts.Logger.Debug(ctx, "Served from cache", "url", req.URL.String())
		return entry.Response(req), nil
	case errors.Is(err, domain.ErrCacheMiss):
		metrics.RecordCacheLookup(metrics.LookupMiss)
	default:
		metrics.RecordCacheLookup(metrics.LookupMiss)
		w.opts.Logger.Warn(ctx, "Cache lookup failed, falling back to network", "url", req.URL.String(), "error", err.Error())
	}

	resp, err := w.opts.Network.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL, err)
	}

	outcome := w.cacheDecision(req, resp)
	if outcome != metrics.WriteStored {
		metrics.RecordCacheWrite(outcome)
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.URL, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	metrics.RecordCacheWrite(w.store(ctx, domain.NewCachedEntry(key, resp, body, w.opts.Clock.Now())))
	return resp, nil
}

// cacheDecision returns WriteStored for responses that may be cached, or the
// reason they are skipped.
func (w *CacheWorker) cacheDecision(req *http.Request, resp *http.Response) string {
	if req.Method != http.MethodGet {
		return metrics.WriteSkippedMethod
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.StatusCode == http.StatusPartialContent {
		return metrics.WriteSkippedStatus
	}
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if !sameOrigin(w.opts.ShellOrigin, final) {
		return metrics.WriteSkippedOrigin
	}
	return metrics.WriteStored
}

func (w *CacheWorker) store(ctx context.Context, entry domain.CachedEntry) string {
	w.retireMu.RLock()
	defer w.retireMu.RUnlock()

	if w.retired {
		w.opts.Logger.Debug(ctx, "Worker retired, not storing response", "key", entry.Key)
		return metrics.WriteSkippedRetired
	}
	if err := w.opts.Store.Put(ctx, w.generation, entry); err != nil {
		w.opts.Logger.Error(ctx, "Failed to store response in cache", "key", entry.Key, "error", err.Error())
		return metrics.WriteError
	}
	return metrics.WriteStored
}

// OfflineResponse is the synthetic answer for an unreachable API origin.
func OfflineResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(domain.OfflineBody)))
	return &http.Response{
		Status:        "503 " + http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(domain.OfflineBody)),
		ContentLength: int64(len(domain.OfflineBody)),
		Request:       req,
	}
}
