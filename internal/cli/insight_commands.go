package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

func (a *app) analyticsCommand() *cli.Command {
	return &cli.Command{
		Name:      "analytics",
		Usage:     "show an analytics report",
		ArgsUsage: "<trends|income-bracket|risk|loan-amount|property-area>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureAnalytics); err != nil {
				return err
			}
			kind := domain.AnalyticsKind(cmd.Args().First())
			if !kind.Valid() {
				return fmt.Errorf("unknown report %q, expected one of %v", kind, domain.AnalyticsKinds)
			}
			rows, err := a.rt.client.Analytics(ctx, kind)
			if err != nil {
				return err
			}
			return a.rt.emit(rows)
		},
	}
}

func (a *app) driftCommand() *cli.Command {
	return &cli.Command{
		Name:  "drift",
		Usage: "show the model drift check",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureDrift); err != nil {
				return err
			}
			d, err := a.rt.client.DriftStatus(ctx)
			if err != nil {
				return err
			}
			return a.rt.emit(d)
		},
	}
}

func (a *app) auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "show the audit log",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureAudit); err != nil {
				return err
			}
			events, err := a.rt.client.Audit(ctx)
			if err != nil {
				return err
			}
			return a.rt.emit(events)
		},
	}
}

func (a *app) adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "administration",
		Commands: []*cli.Command{
			{
				Name:  "users",
				Usage: "list dashboard accounts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := a.rt.require(domain.FeatureAdmin); err != nil {
						return err
					}
					users, err := a.rt.client.AdminUsers(ctx)
					if err != nil {
						return err
					}
					return a.rt.emit(users)
				},
			},
			{
				Name:  "model-info",
				Usage: "describe the deployed model",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := a.rt.require(domain.FeatureAdmin); err != nil {
						return err
					}
					info, err := a.rt.client.ModelInfo(ctx)
					if err != nil {
						return err
					}
					return a.rt.emit(info)
				},
			},
			{
				Name:  "retrain",
				Usage: "retrain the model",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := a.rt.require(domain.FeatureAdmin); err != nil {
						return err
					}
					res, err := a.rt.client.Retrain(ctx)
					if err != nil {
						return err
					}
					return a.rt.emit(res)
				},
			},
		},
	}
}
