package riskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/internal/session"
)

// DefaultBaseURL is where the dashboard expects the risk API.
const DefaultBaseURL = "http://127.0.0.1:5000"

// Client talks to the loan risk API. Authenticated calls go through the
// session's Authorize interceptor once WithSession was applied; /login,
// /refresh and /check-eligibility always use the plain transport.
type Client struct {
	baseURL *url.URL
	plain   session.Doer
	authed  session.Doer
	logger  domain.Logger
}

// NewClient creates a client for baseURL using httpClient as transport.
func NewClient(baseURL string, httpClient session.Doer, logger domain.Logger) (*Client, error) {
	if httpClient == nil {
		panic("http client cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing API base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("API base URL %q must be an absolute http(s) URL", baseURL)
	}
	return &Client{baseURL: u, plain: httpClient, authed: httpClient, logger: logger}, nil
}

// WithSession returns a copy whose authenticated calls carry m's token and
// refresh it on 401.
func (c *Client) WithSession(m *session.Manager) *Client {
	cp := *c
	cp.authed = session.Authorize(m, c.plain)
	return &cp
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	if err := c.doJSON(ctx, c.plain, http.MethodPost, "/login", nil, credentials{username, password}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}

// Refresh exchanges token for a new one. It satisfies session.Refresher.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	header := http.Header{"Authorization": {"Bearer " + token}}
	var out tokenResponse
	if err := c.doJSON(ctx, c.plain, http.MethodPost, "/refresh", header, nil, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}

// Me returns the caller's identity.
func (c *Client) Me(ctx context.Context) (domain.Identity, error) {
	var out domain.Identity
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/me", nil, nil, &out)
	return out, err
}

// Predict scores an application and records it.
func (c *Client) Predict(ctx context.Context, app domain.LoanApplication) (domain.Prediction, error) {
	var out domain.Prediction
	err := c.doJSON(ctx, c.authed, http.MethodPost, "/predict", nil, app, &out)
	return out, err
}

// CheckEligibility scores an application on the public portal. No token is sent.
func (c *Client) CheckEligibility(ctx context.Context, app domain.LoanApplication) (domain.Prediction, error) {
	var out domain.Prediction
	err := c.doJSON(ctx, c.plain, http.MethodPost, "/check-eligibility", nil, app, &out)
	return out, err
}

// Applications lists recorded applications.
func (c *Client) Applications(ctx context.Context) ([]domain.ApplicationRecord, error) {
	var out []domain.ApplicationRecord
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/applications", nil, nil, &out)
	return out, err
}

// Stats returns the approval summary.
func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	var out domain.Stats
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/stats", nil, nil, &out)
	return out, err
}

// UpdateStatus sets the review status of application id.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) (json.RawMessage, error) {
	var out json.RawMessage
	p := "/applications/" + url.PathEscape(id) + "/status"
	err := c.doJSON(ctx, c.authed, http.MethodPatch, p, nil, map[string]string{"status": status}, &out)
	return out, err
}

// Report downloads the PDF report for application id.
func (c *Client) Report(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/report/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return c.doBlob(c.authed, req)
}

// BatchPredict uploads a CSV of applications and returns the scored CSV.
func (c *Client) BatchPredict(ctx context.Context, filename string, csv io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, csv); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/batch-predict", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doBlob(c.authed, req)
}

// Analytics fetches one of the /analytics/* reports.
func (c *Client) Analytics(ctx context.Context, kind domain.AnalyticsKind) ([]domain.AnalyticsRow, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalytics, kind)
	}
	var out []domain.AnalyticsRow
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/analytics/"+string(kind), nil, nil, &out)
	return out, err
}

// DriftStatus returns the rolling accuracy check.
func (c *Client) DriftStatus(ctx context.Context) (domain.DriftStatus, error) {
	var out domain.DriftStatus
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/drift-status", nil, nil, &out)
	return out, err
}

// AdminUsers lists dashboard accounts.
func (c *Client) AdminUsers(ctx context.Context) ([]domain.User, error) {
	var out struct {
		Users []domain.User `json:"users"`
	}
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/admin/users", nil, nil, &out)
	return out.Users, err
}

// ModelInfo describes the deployed model.
func (c *Client) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/admin/model-info", nil, nil, &out)
	return out, err
}

// Retrain asks the backend to retrain the model.
func (c *Client) Retrain(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.doJSON(ctx, c.authed, http.MethodPost, "/admin/retrain", nil, struct{}{}, &out)
	return out, err
}

// Audit returns the audit log.
func (c *Client) Audit(ctx context.Context) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := c.doJSON(ctx, c.authed, http.MethodGet, "/audit", nil, nil, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, p, err)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, doer session.Doer, method, p string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", p, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, p, body)
	if err != nil {
		return err
	}
	for k, vv := range header {
		req.Header[k] = vv
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	b, err := c.doBlob(doer, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", p, err)
	}
	return nil
}

func (c *Client) doBlob(doer session.Doer, req *http.Request) ([]byte, error) {
	resp, err := doer.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug(req.Context(), "Risk API unreachable", "url", req.URL.String(), "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, b)
	}
	return b, nil
}

var _ session.Refresher = (*Client)(nil)
