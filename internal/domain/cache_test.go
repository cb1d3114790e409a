package domain

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEntryResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
	}
	entry := NewCachedEntry(CacheKey(http.MethodGet, "http://shell.local/"), resp, []byte("<html></html>"), time.Unix(100, 0))
	assert.Equal(t, "GET http://shell.local/", entry.Key)

	// Mutating the source header must not leak into the entry.
	resp.Header.Set("Content-Type", "text/plain")

	req := httptest.NewRequest(http.MethodGet, "http://shell.local/", nil)
	rebuilt := entry.Response(req)
	assert.Equal(t, http.StatusOK, rebuilt.StatusCode)
	assert.Equal(t, "text/html", rebuilt.Header.Get("Content-Type"))
	assert.Equal(t, "13", rebuilt.Header.Get("Content-Length"))
	assert.Same(t, req, rebuilt.Request)

	body, err := io.ReadAll(rebuilt.Body)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(body))
}

func TestOfflineBody(t *testing.T) {
	assert.JSONEq(t, `{"error":"You are offline. Please reconnect."}`, string(OfflineBody))
}
