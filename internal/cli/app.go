package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/logger"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/riskapi"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/tokenstore"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/internal/session"
)

var (
	// ErrNotLoggedIn is returned by commands that need a session when there is none.
	ErrNotLoggedIn = errors.New("not logged in, run `loanguard login` first")
	// ErrForbidden is returned when the session's role does not unlock a command.
	ErrForbidden = errors.New("not permitted for your role")
	// ErrEmptyQuery is returned when --query matched nothing.
	ErrEmptyQuery = errors.New("query matched nothing")
)

// Env is what the CLI needs from the outside world. Zero fields fall back to
// the process defaults.
type Env struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	HTTPClient session.Doer
	Clock      clockwork.Clock
	// Store overrides the file token store selected by --token-file.
	Store session.TokenStore
}

func (e Env) withDefaults() Env {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.HTTPClient == nil {
		e.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	return e
}

// runtime is built once per invocation, before any command runs.
type runtime struct {
	out     io.Writer
	in      *bufio.Reader
	clock   clockwork.Clock
	logger  domain.Logger
	query   string
	client  *riskapi.Client
	session *session.Manager
}

type app struct {
	env Env
	rt  *runtime
}

// New builds the loanguard command tree.
func New(env Env) *cli.Command {
	a := &app{env: env.withDefaults()}

	return &cli.Command{
		Name:      "loanguard",
		Usage:     "LoanGuard loan risk dashboard from the terminal",
		Writer:    a.env.Stdout,
		ErrWriter: a.env.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "risk API base URL",
				Value:   riskapi.DefaultBaseURL,
				Sources: cli.NewValueSourceChain(cli.EnvVar("LOANGUARD_API")),
			},
			&cli.StringFlag{
				Name:    "token-file",
				Usage:   "where the session token is kept (default: user config dir)",
				Sources: cli.NewValueSourceChain(cli.EnvVar("LOANGUARD_TOKEN_FILE")),
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "gjson path applied to the JSON output",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "warn",
				Sources: cli.NewValueSourceChain(cli.EnvVar("LOANGUARD_LOG_LEVEL")),
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.loginCommand(),
			a.logoutCommand(),
			a.whoamiCommand(),
			a.predictCommand(),
			a.eligibilityCommand(),
			a.applicationsCommand(),
			a.statsCommand(),
			a.statusCommand(),
			a.reportCommand(),
			a.batchCommand(),
			a.analyticsCommand(),
			a.driftCommand(),
			a.adminCommand(),
			a.auditCommand(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	log := logger.New(cmd.String("log-level"), "loanguard", a.env.Stderr)

	store := a.env.Store
	if store == nil {
		path := cmd.String("token-file")
		if path == "" {
			var err error
			if path, err = tokenstore.DefaultPath(); err != nil {
				return ctx, err
			}
		}
		store = tokenstore.NewFileStore(path, os.Getenv(tokenstore.KeyEnv))
	}

	base, err := riskapi.NewClient(cmd.String("api"), a.env.HTTPClient, log)
	if err != nil {
		return ctx, err
	}
	m := session.NewManager(session.Options{
		Store:     store,
		Refresher: base,
		Logger:    log,
		Clock:     a.env.Clock,
	})
	if err := m.Restore(ctx); err != nil {
		log.Warn(ctx, "Could not restore session", "error", err.Error())
	}

	a.rt = &runtime{
		out:     a.env.Stdout,
		in:      bufio.NewReader(a.env.Stdin),
		clock:   a.env.Clock,
		logger:  log,
		query:   cmd.String("query"),
		client:  base.WithSession(m),
		session: m,
	}
	return ctx, nil
}

func (a *app) after(context.Context, *cli.Command) error {
	if a.rt != nil {
		a.rt.session.Close()
	}
	return nil
}

// require fails unless a session exists and its role unlocks f.
func (rt *runtime) require(f domain.Feature) error {
	claims, ok := rt.session.Claims()
	if !ok {
		return ErrNotLoggedIn
	}
	if !claims.Role.Allows(f) {
		return fmt.Errorf("%w: %s cannot use %s", ErrForbidden, claims.Role, f)
	}
	return nil
}

// emit prints v as indented JSON, or the --query selection of it.
func (rt *runtime) emit(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if rt.query == "" {
		_, err = fmt.Fprintln(rt.out, string(b))
		return err
	}

	res := gjson.GetBytes(b, rt.query)
	if !res.Exists() {
		return fmt.Errorf("%w: %s", ErrEmptyQuery, rt.query)
	}
	if res.Type == gjson.String {
		_, err = fmt.Fprintln(rt.out, res.Str)
	} else {
		_, err = fmt.Fprintln(rt.out, res.Raw)
	}
	return err
}

func (rt *runtime) printf(format string, args ...interface{}) {
	fmt.Fprintf(rt.out, format, args...)
}
