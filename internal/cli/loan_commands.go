package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

func applicationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the application as JSON from a file (- for stdin)"},
		&cli.StringFlag{Name: "gender", Value: "Male"},
		&cli.StringFlag{Name: "married", Value: "No"},
		&cli.StringFlag{Name: "dependents", Value: "0"},
		&cli.StringFlag{Name: "education", Value: "Graduate"},
		&cli.StringFlag{Name: "self-employed", Value: "No"},
		&cli.FloatFlag{Name: "income", Usage: "applicant monthly income"},
		&cli.FloatFlag{Name: "coapplicant-income"},
		&cli.FloatFlag{Name: "amount", Usage: "loan amount in thousands"},
		&cli.FloatFlag{Name: "term", Value: 360, Usage: "loan term in months"},
		&cli.IntFlag{Name: "credit-history", Value: 1},
		&cli.StringFlag{Name: "property-area", Value: "Urban"},
	}
}

func (a *app) readApplication(cmd *cli.Command) (domain.LoanApplication, error) {
	if src := cmd.String("file"); src != "" {
		var r io.Reader = a.rt.in
		if src != "-" {
			f, err := os.Open(src)
			if err != nil {
				return domain.LoanApplication{}, err
			}
			defer f.Close()
			r = f
		}
		var app domain.LoanApplication
		if err := json.NewDecoder(r).Decode(&app); err != nil {
			return domain.LoanApplication{}, fmt.Errorf("decoding application: %w", err)
		}
		return app, nil
	}

	return domain.LoanApplication{
		Gender:            cmd.String("gender"),
		Married:           cmd.String("married"),
		Dependents:        cmd.String("dependents"),
		Education:         cmd.String("education"),
		SelfEmployed:      cmd.String("self-employed"),
		ApplicantIncome:   cmd.Float("income"),
		CoapplicantIncome: cmd.Float("coapplicant-income"),
		LoanAmount:        cmd.Float("amount"),
		LoanAmountTerm:    cmd.Float("term"),
		CreditHistory:     int(cmd.Int("credit-history")),
		PropertyArea:      cmd.String("property-area"),
	}, nil
}

func (a *app) predictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "score an application and record it",
		Flags: applicationFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeaturePredict); err != nil {
				return err
			}
			app, err := a.readApplication(cmd)
			if err != nil {
				return err
			}
			p, err := a.rt.client.Predict(ctx, app)
			if err != nil {
				return err
			}
			return a.rt.emit(p)
		},
	}
}

func (a *app) eligibilityCommand() *cli.Command {
	return &cli.Command{
		Name:  "eligibility",
		Usage: "check eligibility on the public portal (no login needed)",
		Flags: applicationFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := a.readApplication(cmd)
			if err != nil {
				return err
			}
			p, err := a.rt.client.CheckEligibility(ctx, app)
			if err != nil {
				return err
			}
			return a.rt.emit(p)
		},
	}
}

func (a *app) applicationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "applications",
		Usage: "list recorded applications",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureView); err != nil {
				return err
			}
			rows, err := a.rt.client.Applications(ctx)
			if err != nil {
				return err
			}
			return a.rt.emit(rows)
		},
	}
}

func (a *app) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show the approval summary",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureView); err != nil {
				return err
			}
			s, err := a.rt.client.Stats(ctx)
			if err != nil {
				return err
			}
			return a.rt.emit(s)
		},
	}
}

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "set the review status of an application",
		ArgsUsage: "<id> <status>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureView); err != nil {
				return err
			}
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("usage: loanguard status <id> <status>")
			}
			out, err := a.rt.client.UpdateStatus(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			if err != nil {
				return err
			}
			return a.rt.emit(out)
		},
	}
}

type savedFile struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Size  string `json:"size"`
}

func saveFile(path string, data []byte) (savedFile, error) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return savedFile{}, fmt.Errorf("writing %s: %w", path, err)
	}
	return savedFile{Path: path, Bytes: len(data), Size: humanize.Bytes(uint64(len(data)))}, nil
}

func (a *app) reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "download the PDF report of an application",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default report_<id>.pdf)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureReports); err != nil {
				return err
			}
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("usage: loanguard report <id>")
			}
			pdf, err := a.rt.client.Report(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				out = "report_" + id + ".pdf"
			}
			saved, err := saveFile(out, pdf)
			if err != nil {
				return err
			}
			return a.rt.emit(saved)
		},
	}
}

type batchSummary struct {
	savedFile
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func (a *app) batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "score a CSV of applications",
		ArgsUsage: "<file.csv>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default <name>_scored.csv)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.rt.require(domain.FeatureBatch); err != nil {
				return err
			}
			src := cmd.Args().First()
			if src == "" {
				return fmt.Errorf("usage: loanguard batch <file.csv>")
			}
			f, err := os.Open(src)
			if err != nil {
				return err
			}
			defer f.Close()

			scored, err := a.rt.client.BatchPredict(ctx, src, f)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				base := filepath.Base(src)
				out = base[:len(base)-len(filepath.Ext(base))] + "_scored.csv"
			}
			saved, err := saveFile(out, scored)
			if err != nil {
				return err
			}
			summary := summarize(scored)
			summary.savedFile = saved
			return a.rt.emit(summary)
		},
	}
}

// summarize counts the Prediction column of a scored CSV. Unreadable CSV
// yields an empty summary.
func summarize(scored []byte) batchSummary {
	var s batchSummary
	records, err := csv.NewReader(bytes.NewReader(scored)).ReadAll()
	if err != nil || len(records) == 0 {
		return s
	}
	col := -1
	for i, name := range records[0] {
		if name == "Prediction" {
			col = i
		}
	}
	for _, rec := range records[1:] {
		s.Total++
		if col < 0 || col >= len(rec) {
			continue
		}
		switch rec[col] {
		case "Approved":
			s.Approved++
		case "Rejected":
			s.Rejected++
		}
	}
	return s
}
