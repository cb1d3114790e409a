package domain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrCacheMiss is returned by CacheStore.Match when a generation holds no entry for a key.
var ErrCacheMiss = errors.New("cache entry not found")

// CachedEntry is a stored response for a single request key.
// Entries are overwritten on every successful fetch of the same key and only
// disappear when their whole generation is deleted.
type CachedEntry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// CacheKey builds the lookup key of a request: method plus absolute URL.
func CacheKey(method, url string) string {
	return method + " " + url
}

// NewCachedEntry captures resp with an already buffered body.
func NewCachedEntry(key string, resp *http.Response, body []byte, now time.Time) CachedEntry {
	return CachedEntry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now,
	}
}

// Response rebuilds an *http.Response for req from the entry. The returned body
// is byte-identical to the stored one.
func (e CachedEntry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// CacheStore holds named cache generations. Implementations must make PutAll
// and DeleteGenerationsExcept appear atomic to callers.
type CacheStore interface {
	// Put stores or overwrites a single entry in generation.
	Put(ctx context.Context, generation string, entry CachedEntry) error

	// PutAll stores every entry in generation, or none of them.
	PutAll(ctx context.Context, generation string, entries []CachedEntry) error

	// Match returns the entry for key in generation, or ErrCacheMiss.
	Match(ctx context.Context, generation string, key string) (*CachedEntry, error)

	// Generations lists every generation that currently exists.
	Generations(ctx context.Context) ([]string, error)

	// DeleteGenerationsExcept removes all generations other than keep and
	// returns the names that were removed.
	DeleteGenerationsExcept(ctx context.Context, keep string) ([]string, error)
}
