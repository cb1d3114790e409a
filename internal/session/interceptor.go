package session

import (
	"context"
	"io"
	"net/http"

	"gitlab.com/timkado/api/loanguard-gateway/pkg/contextkeys"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// WithRetried marks ctx so that a 401 on a request carrying it is not retried.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.RetriedKey, true)
}

// Retried reports whether ctx carries the retry mark.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(contextkeys.RetriedKey).(bool)
	return v
}

// Authorize returns a Doer that attaches the session's bearer token. An expired
// token is never attached: the session is logged out and the request goes
// out unauthenticated. On a 401 it refreshes once and replays the request with
// the new token. If the refresh fails the session is logged out and the
// original 401 is returned; if the replay is rejected again the session is
// logged out and that response is returned. Requests whose body cannot be
// replayed still trigger the refresh, but their 401 is returned as is.
func Authorize(m *Manager, next Doer) Doer {
	return DoerFunc(func(req *http.Request) (*http.Response, error) {
		ctx := req.Context()
		token, ok := m.ValidToken(ctx)
		if !ok {
			return next.Do(req)
		}

		resp, err := next.Do(withBearer(ctx, req, token))
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}

		if Retried(ctx) {
			m.logger.Warn(ctx, "Replayed request rejected, logging out", "url", req.URL.String())
			m.logoutIfCurrent(ctx, token)
			return resp, nil
		}
		replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

		fresh, rerr := m.Refresh(ctx, token)
		if rerr != nil || !replayable {
			return resp, nil
		}
		drain(resp)

		replayCtx := WithRetried(ctx)
		replay := withBearer(replayCtx, req, fresh)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			replay.Body = body
		}

		resp, err = next.Do(replay)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			m.logger.Warn(ctx, "Request rejected after refresh, logging out", "url", req.URL.String())
			m.logoutIfCurrent(ctx, fresh)
		}
		return resp, nil
	})
}

func withBearer(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
