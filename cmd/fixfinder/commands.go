package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/osv/fixfinder/calibration"
	"github.com/google/osv/fixfinder/config"
	"github.com/google/osv/fixfinder/forge"
	"github.com/google/osv/fixfinder/matcher"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/pipeline"
	"github.com/google/osv/fixfinder/report"
	"github.com/google/osv/fixfinder/store"
	"github.com/google/osv/fixfinder/triage"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/google/osv/fixfinder/window"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "rank candidate fix commits for the vulnerabilities in the store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cve", Usage: "process only this vulnerability and print its candidates"},
			&cli.IntFlag{Name: "limit", Usage: "process at most this many vulnerabilities (0 for all)"},
			&cli.IntFlag{Name: "offset", Usage: "skip this many vulnerabilities"},
			&cli.IntFlag{Name: "workers", Usage: "vulnerabilities processed concurrently"},
			&cli.IntFlag{Name: "months-before", Usage: "months searched before disclosure"},
			&cli.IntFlag{Name: "months-after", Usage: "months searched after disclosure"},
			&cli.IntFlag{Name: "min-score", Usage: "drop candidates scoring below this"},
			&cli.IntFlag{Name: "top-n", Usage: "keep this many candidates per vulnerability (0 for all)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path", TakesFile: true},
			&cli.StringFlag{Name: "out", Usage: "directory for result files", TakesFile: true},
			&cli.StringFlag{Name: "bucket", Usage: "GCS bucket for result files, instead of --out"},
			&cli.BoolFlag{Name: "osv", Usage: "write an OSV record when the top candidate names the vulnerability"},
		},
		Action: runMatch,
	}
}

func applyMatchFlags(c *cli.Context, cfg *config.Config) {
	ints := map[string]*int{
		"limit":         &cfg.Batch.Limit,
		"offset":        &cfg.Batch.Offset,
		"workers":       &cfg.Batch.Workers,
		"months-before": &cfg.Window.MonthsBefore,
		"months-after":  &cfg.Window.MonthsAfter,
		"min-score":     &cfg.Matching.MinScore,
		"top-n":         &cfg.Matching.TopN,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("out") {
		cfg.Output.Dir = c.String("out")
	}
	if c.IsSet("bucket") {
		cfg.Output.Bucket = c.String("bucket")
	}
	if c.IsSet("osv") {
		cfg.Output.OSV = c.Bool("osv")
	}
}

func runMatch(c *cli.Context) error {
	ctx := c.Context
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyMatchFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	source, closeSource, err := newSource(ctx, &cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	scorer, err := matcher.NewScorer(cfg.Signals())
	if err != nil {
		return err
	}
	deny, err := triage.LoadDenyList(cfg.DenyList)
	if err != nil {
		return err
	}
	opts := pipeline.Options{
		Source:     source,
		Window:     cfg.Calculator(),
		Scorer:     scorer,
		MinScore:   cfg.Matching.MinScore,
		TopN:       cfg.Matching.TopN,
		Workers:    cfg.Batch.Workers,
		BatchSize:  cfg.Batch.Size,
		DenyList:   deny,
		Candidates: db,
		Commits:    db,
		KnownFixes: db,
	}

	if id := c.String("cve"); id != "" {
		p, err := pipeline.New(opts)
		if err != nil {
			return err
		}
		v, err := db.Get(ctx, models.VulnID(id))
		if err != nil {
			return fmt.Errorf("loading %s: %w", id, err)
		}
		r := p.Process(ctx, v)
		report.PrintCandidates(os.Stdout, r)
		for _, note := range r.Notes {
			fmt.Println(note)
		}
		if r.Outcome != models.Success {
			logger.Warn("No candidates", slog.String("outcome", r.Outcome.String()), slog.String("message", r.Message))
		}

		return nil
	}

	storage, err := newStorage(ctx, cfg.Output)
	if err != nil {
		return err
	}
	defer storage.Close()
	opts.Writer = report.NewWriter(storage)
	opts.ExportOSV = cfg.Output.OSV

	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}
	run, err := p.Run(ctx, db, cfg.Batch.Limit, cfg.Batch.Offset)
	if run != nil {
		report.PrintStats(os.Stdout, run.Stats)
		logger.Info(report.Summary(run.Stats, report.RunPath(run.Metadata)))
	}

	return err
}

func calibrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "measure how far known fixes land from disclosure and suggest a search window",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "min-score", Usage: "ignore known fixes scoring below this"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path", TakesFile: true},
			&cli.StringFlag{Name: "csv", Usage: "also write the per-fix offsets to this file", TakesFile: true},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("min-score") {
				cfg.Calibration.MinScore = c.Int("min-score")
			}
			if c.IsSet("db") {
				cfg.Store.Path = c.String("db")
			}

			db, err := store.Open(ctx, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			// The calibrator applies the threshold itself so it can report
			// how many pairs fell below it.
			var pairs []models.GroundTruthPair
			for p, err := range db.Pairs(ctx, 0) {
				if err != nil {
					return err
				}
				pairs = append(pairs, *p)
			}
			r, err := calibration.New(cfg.Calibration.MinScore).Analyze(pairs)
			if err != nil {
				return err
			}
			r.Render(os.Stdout)

			if path := c.String("csv"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := r.WriteOffsetsCSV(f); err != nil {
					return fmt.Errorf("writing %s: %w", path, err)
				}
				logger.Info("Wrote offsets", slog.String("path", path), slog.Int("rows", len(r.Samples)))
			}

			return nil
		},
	}
}

func windowCommand() *cli.Command {
	return &cli.Command{
		Name:      "window",
		Usage:     "print the commit search window for a disclosure timestamp",
		ArgsUsage: "<disclosure timestamp>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "months-before", Usage: "months searched before disclosure"},
			&cli.IntFlag{Name: "months-after", Usage: "months searched after disclosure"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one disclosure timestamp", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			before, after := cfg.Window.MonthsBefore, cfg.Window.MonthsAfter
			if c.IsSet("months-before") {
				before = c.Int("months-before")
			}
			if c.IsSet("months-after") {
				after = c.Int("months-after")
			}
			calc, err := window.NewCalculator(before, after)
			if err != nil {
				return err
			}

			w, err := calc.Window(c.Args().First())
			if err != nil {
				return err
			}
			since, until := w.Strings()
			fmt.Printf("since: %s\nuntil: %s\n", since, until)
			fmt.Printf("span:  %s days\n", humanize.Comma(int64(w.Until.Sub(w.Since).Hours()/24)))

			return nil
		},
	}
}

var errNoMessage = errors.New("no commit message given")

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "score a commit message against a vulnerability",
		ArgsUsage: "<commit message>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "vulnerability identifier the message is scored against"},
		},
		Action: func(c *cli.Context) error {
			message := strings.Join(c.Args().Slice(), " ")
			if message == "" {
				return errNoMessage
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			scorer, err := matcher.NewScorer(cfg.Signals())
			if err != nil {
				return err
			}
			printBreakdown(scorer.Breakdown(message, c.String("target")))

			return nil
		},
	}
}

func printBreakdown(b matcher.Breakdown) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Rule", "Points"})
	t.AppendRows([]table.Row{
		{"Direct mention", b.Direct},
		{"Fix keywords", b.Fix},
		{"Noise keywords", b.Noise},
		{"Short message", b.Length},
		{"Other identifiers", b.Collateral},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Total", b.Total()})
	t.SetStyle(table.StyleRounded)
	t.Render()

	for _, s := range b.Signals {
		fmt.Println(" -", s)
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "validate the configuration and report store and API status",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database path", TakesFile: true},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("db") {
				cfg.Store.Path = c.String("db")
			}
			loaded := cfg.LoadPath
			if loaded == "" {
				loaded = "defaults"
			}
			fmt.Printf("config:   %s\n", loaded)
			fmt.Printf("window:   %d months before, %d after\n", cfg.Window.MonthsBefore, cfg.Window.MonthsAfter)

			db, err := store.Open(ctx, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := db.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("store:    %s (%s vulnerabilities with a repository)\n", cfg.Store.Path, humanize.Comma(int64(n)))

			source, closeSource, err := newSource(ctx, &cfg)
			if err != nil {
				return err
			}
			defer closeSource()
			rl, ok := source.(pipeline.RateLimiter)
			if !ok {
				fmt.Println("api:      local clones only")
				return nil
			}
			status, err := rl.RateLimit(ctx)
			if errors.Is(err, forge.ErrNoQuota) {
				fmt.Println("api:      local clones only")
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading api rate limit: %w", err)
			}
			fmt.Printf("api:      %s of %s requests left, resets %s\n",
				humanize.Comma(int64(status.Remaining)), humanize.Comma(int64(status.Limit)), humanize.Time(status.Reset))
			if cfg.GitHub.Token == "" {
				logger.Warn("No GitHub token configured, requests are unauthenticated")
			}

			return nil
		},
	}
}
