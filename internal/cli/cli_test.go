package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func mint(t *testing.T, sub, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub, "role": role, "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type harness struct {
	t         *testing.T
	api       *httptest.Server
	tokenFile string
	hits      atomic.Int32
	token     string
}

func newHarness(t *testing.T, role string) *harness {
	h := &harness{t: t, tokenFile: filepath.Join(t.TempDir(), "lg_token"), token: mint(t, strings.ToLower(role), role)}
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			h.hits.Add(1)
			if r.Header.Get("Authorization") != "Bearer "+h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": h.token})
	})
	mux.HandleFunc("POST /check-eligibility", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"prediction": 1, "probability": 0.87, "risk_level": "Low"})
	})
	mux.HandleFunc("GET /stats", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"total_applications": 10, "approved": 7, "rejected": 3})
	}))
	mux.HandleFunc("GET /analytics/{kind}", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"month": "2026-01", "count": 4}})
	}))
	mux.HandleFunc("POST /batch-predict", authed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("Loan_ID,Prediction\n1,Approved\n2,Rejected\n3,Approved\n"))
	}))

	h.api = httptest.NewServer(mux)
	t.Cleanup(h.api.Close)
	return h
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	cmd := New(Env{
		Stdin:      strings.NewReader(stdin),
		Stdout:     &out,
		Stderr:     &errOut,
		HTTPClient: h.api.Client(),
		Clock:      clockwork.NewFakeClockAt(now),
	})
	full := append([]string{"loanguard", "--api", h.api.URL, "--token-file", h.tokenFile}, args...)
	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func (h *harness) login() {
	h.t.Helper()
	_, err := h.run("", "login", "-u", "someone", "-p", "secret")
	require.NoError(h.t, err)
}

func TestLoginThenWhoami(t *testing.T) {
	h := newHarness(t, "MANAGER")

	out, err := h.run("secret\n", "login", "--username", "manager")
	require.NoError(t, err)
	assert.Contains(t, out, `"role": "MANAGER"`)

	persisted, err := os.ReadFile(h.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, h.token, string(persisted))

	out, err = h.run("", "--query", "role", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "MANAGER\n", out)

	out, err = h.run("", "-q", "expires", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "1 hour from now\n", out)
}

func TestLogin_BadPassword(t *testing.T) {
	h := newHarness(t, "OFFICER")
	_, err := h.run("", "login", "-u", "officer", "-p", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.NoFileExists(t, h.tokenFile)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, "OFFICER")
	h.login()

	out, err := h.run("", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out.\n", out)
	assert.NoFileExists(t, h.tokenFile)

	_, err = h.run("", "whoami")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestCommandsNeedLogin(t *testing.T) {
	h := newHarness(t, "ADMIN")
	_, err := h.run("", "stats")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Zero(t, h.hits.Load())
}

func TestRoleGating(t *testing.T) {
	h := newHarness(t, "OFFICER")
	h.login()

	out, err := h.run("", "-q", "approved", "stats")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	for _, args := range [][]string{
		{"analytics", "trends"},
		{"batch", "applicants.csv"},
		{"report", "1"},
		{"drift"},
		{"audit"},
		{"admin", "users"},
	} {
		hitsBefore := h.hits.Load()
		_, err := h.run("", args...)
		assert.ErrorIs(t, err, ErrForbidden, "officer must not run %v", args)
		assert.Equal(t, hitsBefore, h.hits.Load(), "gated commands never reach the API")
	}
}

func TestManagerAnalytics(t *testing.T) {
	h := newHarness(t, "MANAGER")
	h.login()

	out, err := h.run("", "-q", "0.count", "analytics", "trends")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)

	_, err = h.run("", "analytics", "weather")
	assert.Error(t, err)
}

func TestBatch(t *testing.T) {
	h := newHarness(t, "MANAGER")
	h.login()

	dir := t.TempDir()
	src := filepath.Join(dir, "applicants.csv")
	require.NoError(t, os.WriteFile(src, []byte("Loan_ID,Gender\n1,Male\n"), 0o600))
	dst := filepath.Join(dir, "scored.csv")

	out, err := h.run("", "batch", "--out", dst, src)
	require.NoError(t, err)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.EqualValues(t, 3, summary["total"])
	assert.EqualValues(t, 2, summary["approved"])
	assert.EqualValues(t, 1, summary["rejected"])
	assert.Equal(t, dst, summary["path"])
	assert.FileExists(t, dst)
}

func TestEligibilityWithoutLogin(t *testing.T) {
	h := newHarness(t, "OFFICER")
	out, err := h.run("", "-q", "risk_level", "eligibility", "--income", "5000", "--amount", "120")
	require.NoError(t, err)
	assert.Equal(t, "Low\n", out)
}

func TestQueryMatchingNothing(t *testing.T) {
	h := newHarness(t, "OFFICER")
	_, err := h.run("", "-q", "nope", "eligibility")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSummarize(t *testing.T) {
	s := summarize([]byte("Prediction,Loan_ID\nApproved,1\nRejected,2\n"))
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Approved)
	assert.Equal(t, 1, s.Rejected)

	assert.Equal(t, batchSummary{}, summarize(nil))
}
