package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/contextkeys"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/safego"
)

// DefaultRefreshLead is how long before exp the proactive refresh fires.
const DefaultRefreshLead = 5 * time.Minute

var (
	// ErrNoToken is returned by a TokenStore that holds nothing.
	ErrNoToken = errors.New("no persisted token")
	// ErrLoggedOut is returned when an operation needs a session and there is none.
	ErrLoggedOut = errors.New("not logged in")
	// ErrInvalidToken is returned by Establish for a token that cannot be decoded.
	ErrInvalidToken = errors.New("token cannot be decoded")
	// ErrTokenExpired is returned when a token is already past its exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshFailed wraps the refresher's error. The session is logged out.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// State is where the session is in its lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "logged_out"
	}
}

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Refresher exchanges a still-valid token for a new one.
type Refresher interface {
	Refresh(ctx context.Context, token string) (string, error)
}

// Options configures a Manager. Store, Refresher and Logger are required.
type Options struct {
	Store       TokenStore
	Refresher   Refresher
	Logger      domain.Logger
	Clock       clockwork.Clock
	RefreshLead time.Duration
}

// Manager keeps one bearer token usable for its whole lifetime. It refreshes
// shortly before exp and on demand after a 401, collapsing concurrent
// refreshes of the same token into a single call.
type Manager struct {
	store     TokenStore
	refresher Refresher
	logger    domain.Logger
	clock     clockwork.Clock
	lead      time.Duration

	lifeCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	state  State
	token  string
	claims Claims
	timer  clockwork.Timer

	flight singleflight.Group
}

// NewManager creates a logged out Manager. Call Restore to pick up a persisted token.
func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		panic("token store cannot be nil")
	}
	if opts.Refresher == nil {
		panic("refresher cannot be nil")
	}
	if opts.Logger == nil {
		panic("logger cannot be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RefreshLead <= 0 {
		opts.RefreshLead = DefaultRefreshLead
	}
	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     opts.Store,
		refresher: opts.Refresher,
		logger:    opts.Logger,
		clock:     opts.Clock,
		lead:      opts.RefreshLead,
		lifeCtx:   lifeCtx,
		cancel:    cancel,
	}
}

// Restore loads the persisted token. A token that cannot be decoded or is
// already expired is cleared from storage and the session starts logged out.
// No network call is made.
func (m *Manager) Restore(ctx context.Context) error {
	token, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoToken) || (err == nil && token == ""):
		m.logger.Debug(ctx, "No persisted token, starting logged out")
		m.setLoggedOut()
		return nil
	case err != nil:
		m.logger.Warn(ctx, "Persisted token unreadable, clearing it", "error", err.Error())
		return m.Logout(ctx)
	}

	claims, ok := DecodeClaims(token).Get()
	if !ok {
		m.logger.Warn(ctx, "Persisted token cannot be decoded, clearing it")
		return m.Logout(ctx)
	}
	if claims.Expired(m.clock.Now()) {
		m.logger.Info(ctx, "Persisted token expired, clearing it", "expired_at", claims.ExpiresAt)
		return m.Logout(ctx)
	}

	m.mu.Lock()
	m.install(token, claims)
	m.mu.Unlock()
	m.logger.Info(context.WithValue(ctx, contextkeys.SubjectKey, claims.Subject), "Session restored", "role", string(claims.Role))
	return nil
}

// Establish adopts a freshly issued token, typically right after login.
func (m *Manager) Establish(ctx context.Context, token string) error {
	claims, ok := DecodeClaims(token).Get()
	if !ok {
		return ErrInvalidToken
	}
	if claims.Expired(m.clock.Now()) {
		return ErrTokenExpired
	}
	if err := m.store.Save(ctx, token); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	m.mu.Lock()
	m.install(token, claims)
	m.mu.Unlock()
	m.logger.Info(context.WithValue(ctx, contextkeys.SubjectKey, claims.Subject), "Session established", "role", string(claims.Role))
	return nil
}

// Token returns the current token, if any.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// ValidToken returns the current token only while it is unexpired. A token
// found past its exp is never handed out; the session is logged out instead.
func (m *Manager) ValidToken(ctx context.Context) (string, bool) {
	m.mu.Lock()
	token, claims := m.token, m.claims
	m.mu.Unlock()
	if token == "" {
		return "", false
	}
	if claims.Expired(m.clock.Now()) {
		m.logger.Info(ctx, "Token expired before use, logging out", "expired_at", claims.ExpiresAt)
		m.logoutIfCurrent(ctx, token)
		return "", false
	}
	return token, true
}

// Claims returns the decoded claims of the current token, if any.
func (m *Manager) Claims() (Claims, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return DefaultClaims, false
	}
	return m.claims, true
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Refresh exchanges stale for a new token. If stale was already replaced the
// current token is returned without a network call. An expired token is never
// sent; the session is logged out instead. Any refresh failure logs the session out.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	if m.token == "" {
		m.mu.Unlock()
		return "", ErrLoggedOut
	}
	if stale != "" && stale != m.token {
		current := m.token
		m.mu.Unlock()
		return current, nil
	}
	token := m.token
	if m.claims.Expired(m.clock.Now()) {
		m.mu.Unlock()
		m.logger.Info(ctx, "Token expired before refresh, logging out")
		m.logoutIfCurrent(ctx, token)
		return "", ErrTokenExpired
	}
	m.state = StateRefreshing
	m.mu.Unlock()

	// Joiners share the leader's call, so a caller going away must not abort it.
	// Close does.
	v, err, shared := m.flight.Do(token, func() (interface{}, error) {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(m.lifeCtx, cancel)
		defer stop()
		return m.doRefresh(flightCtx, token)
	})
	if shared {
		m.logger.Debug(ctx, "Joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	if m.token != token {
		current := m.token
		m.mu.Unlock()
		if current == "" {
			return "", ErrLoggedOut
		}
		return current, nil
	}
	m.mu.Unlock()

	fresh, err := m.refresher.Refresh(ctx, token)
	if err != nil && m.lifeCtx.Err() != nil {
		// Closed mid-flight: the session stays as it was for the next run.
		m.mu.Lock()
		if m.token == token {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if err != nil {
		m.logger.Warn(ctx, "Token refresh failed, logging out", "error", err.Error())
		m.logoutIfCurrent(ctx, token)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	claims, ok := DecodeClaims(fresh).Get()
	if !ok || claims.Expired(m.clock.Now()) {
		m.logger.Warn(ctx, "Refresh returned an unusable token, logging out")
		m.logoutIfCurrent(ctx, token)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, ErrInvalidToken)
	}

	m.mu.Lock()
	if m.token != token {
		// Logged out or replaced while the call was in flight.
		current := m.token
		m.mu.Unlock()
		if current == "" {
			return "", ErrLoggedOut
		}
		return current, nil
	}
	m.install(fresh, claims)
	m.mu.Unlock()

	if err := m.store.Save(ctx, fresh); err != nil {
		m.logger.Warn(ctx, "Failed to persist refreshed token", "error", err.Error())
	}
	m.logger.Info(ctx, "Token refreshed", "expires_at", claims.ExpiresAt)
	return fresh, nil
}

// Logout clears the persisted and in-memory token and cancels the refresh
// timer. It is idempotent; memory is cleared even if storage fails, and a
// cancelled ctx does not stop the persisted token from being cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.setLoggedOut()
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("clearing persisted token: %w", err)
	}
	return nil
}

// Close stops the refresh timer and cancels any refresh in flight. The
// session itself is left as is, persisted token included.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	m.stopTimer()
	m.mu.Unlock()
}

func (m *Manager) logoutIfCurrent(ctx context.Context, token string) {
	m.mu.Lock()
	current := m.token
	m.mu.Unlock()
	if current != token {
		return
	}
	if err := m.Logout(ctx); err != nil {
		m.logger.Error(ctx, "Logout failed", "error", err.Error())
	}
}

func (m *Manager) setLoggedOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer()
	m.token = ""
	m.claims = Claims{}
	m.state = StateLoggedOut
}

// install swaps in token and re-arms the timer. Callers hold mu.
func (m *Manager) install(token string, claims Claims) {
	m.token = token
	m.claims = claims
	m.state = StateAuthenticated
	m.arm(token, claims)
}

// arm replaces the pending refresh timer. Callers hold mu.
func (m *Manager) arm(token string, claims Claims) {
	m.stopTimer()
	if !claims.HasExpiry() || m.lifeCtx.Err() != nil {
		return
	}

	delay := claims.ExpiresAt.Sub(m.clock.Now()) - m.lead
	if delay <= 0 {
		m.logger.Debug(m.lifeCtx, "Token inside refresh window, refreshing now")
		m.refreshInBackground(token)
		return
	}
	m.timer = m.clock.AfterFunc(delay, func() {
		m.refreshInBackground(token)
	})
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) refreshInBackground(token string) {
	safego.Execute(m.lifeCtx, m.logger, "SessionProactiveRefresh", func() {
		if m.lifeCtx.Err() != nil {
			return
		}
		if _, err := m.Refresh(m.lifeCtx, token); err != nil {
			m.logger.Warn(m.lifeCtx, "Proactive token refresh failed", "error", err.Error())
		}
	})
}
