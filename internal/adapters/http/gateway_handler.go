package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"gitlab.com/timkado/api/loanguard-gateway/internal/application"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// Fetcher answers intercepted requests. *application.Controller satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// GatewayHandler intercepts every request that is not one of the gateway's own
// endpoints and answers it through the active cache worker.
type GatewayHandler struct {
	fetcher     Fetcher
	shellOrigin *url.URL
	logger      domain.Logger
}

// NewGatewayHandler creates a handler resolving origin-form requests against shellOrigin.
func NewGatewayHandler(fetcher Fetcher, shellOrigin *url.URL, logger domain.Logger) *GatewayHandler {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if shellOrigin == nil {
		panic("shell origin cannot be nil")
	}
	return &GatewayHandler{fetcher: fetcher, shellOrigin: shellOrigin, logger: logger}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outbound, err := h.outboundRequest(r)
	if err != nil {
		h.logger.Warn(r.Context(), "Rejecting request with unusable target", "target", r.RequestURI, "error", err.Error())
		domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request target", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}

	resp, err := h.fetcher.Fetch(r.Context(), outbound)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			h.logger.Debug(r.Context(), "Client went away before the response was ready", "url", outbound.URL.String())
		case errors.Is(err, application.ErrNoActiveWorker):
			domain.NewErrorResponse(domain.ErrNotReady, "Gateway not ready", "No cache generation is active yet.").WriteJSON(w, http.StatusServiceUnavailable)
		case errors.Is(err, application.ErrRelativeURL):
			domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request target", err.Error()).WriteJSON(w, http.StatusBadRequest)
		default:
			h.logger.Warn(r.Context(), "Upstream fetch failed", "url", outbound.URL.String(), "error", err.Error())
			domain.NewErrorResponse(domain.ErrUpstreamUnavailable, "Upstream unavailable", err.Error()).WriteJSON(w, http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug(r.Context(), "Failed to copy response body", "url", outbound.URL.String(), "error", err.Error())
	}
}

// outboundRequest turns an inbound server request into a client request.
// Proxy-form targets are kept as-is, origin-form targets resolve against the shell origin.
func (h *GatewayHandler) outboundRequest(r *http.Request) (*http.Request, error) {
	target := r.URL
	if !target.IsAbs() {
		target = h.shellOrigin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	}

	var body io.Reader
	if r.ContentLength != 0 {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength
	copyHeader(out.Header, r.Header)
	return out, nil
}

// copyHeader copies src into dst, leaving out hop-by-hop headers and any
// header named in src's Connection header.
func copyHeader(dst, src http.Header) {
	drop := make(map[string]struct{}, len(hopHeaders))
	for _, h := range hopHeaders {
		drop[h] = struct{}{}
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				drop[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
			}
		}
	}

	for k, vv := range src {
		if _, skip := drop[textproto.CanonicalMIMEHeaderKey(k)]; skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
