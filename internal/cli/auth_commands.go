package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

type whoami struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expires   string `json:"expires,omitempty"`
}

func (a *app) loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and keep the session token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Usage:    "account name",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "password (read from stdin when omitted)",
				Sources: cli.NewValueSourceChain(cli.EnvVar("LOANGUARD_PASSWORD")),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := a.rt
			password := cmd.String("password")
			if password == "" {
				line, err := rt.in.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			token, err := rt.client.Login(ctx, cmd.String("username"), password)
			if err != nil {
				return err
			}
			if err := rt.session.Establish(ctx, token); err != nil {
				return err
			}
			return rt.emit(a.identity())
		},
	}
}

func (a *app) logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the session token",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.session.Logout(ctx); err != nil {
				return err
			}
			a.rt.printf("Logged out.\n")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the current session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "ask the API instead of reading the token",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt := a.rt
			if _, ok := rt.session.Token(); !ok {
				return ErrNotLoggedIn
			}
			if cmd.Bool("remote") {
				me, err := rt.client.Me(ctx)
				if err != nil {
					return err
				}
				return rt.emit(me)
			}
			return rt.emit(a.identity())
		},
	}
}

// identity describes the session from the token alone.
func (a *app) identity() whoami {
	rt := a.rt
	claims, _ := rt.session.Claims()
	w := whoami{
		Username: claims.Subject,
		Role:     string(claims.Role),
		State:    rt.session.State().String(),
	}
	if claims.HasExpiry() {
		w.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
		w.Expires = humanize.RelTime(claims.ExpiresAt, rt.clock.Now(), "ago", "from now")
	}
	return w
}
