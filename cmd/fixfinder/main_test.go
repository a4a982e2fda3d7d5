package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/osv/fixfinder/config"
	"github.com/urfave/cli/v2"
)

func TestApplyMatchFlags(t *testing.T) {
	var got config.Config
	cmd := matchCommand()
	cmd.Action = func(c *cli.Context) error {
		got = config.Default()
		applyMatchFlags(c, &got)

		return nil
	}
	app := &cli.App{Commands: []*cli.Command{cmd}}

	args := []string{"fixfinder", "match", "--limit", "5", "--top-n", "0", "--months-after", "3", "--db", "x.db", "--osv"}
	if err := app.Run(args); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := config.Default()
	want.Batch.Limit = 5
	want.Matching.TopN = 0
	want.Window.MonthsAfter = 3
	want.Store.Path = "x.db"
	want.Output.OSV = true
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[window]\nmonths_before = 2\nmonths_after = 4\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got config.Config
	app := newApp()
	app.Commands = []*cli.Command{{
		Name: "show-config",
		Action: func(c *cli.Context) error {
			var err error
			got, err = loadConfig(c)

			return err
		},
	}}
	if err := app.Run([]string{"fixfinder", "--config", path, "show-config"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Window.MonthsBefore != 2 || got.Window.MonthsAfter != 4 || got.LoadPath != path {
		t.Errorf("loadConfig() = %+v, want window 2/4 from %s", got.Window, path)
	}
}

func TestWindowCommandRejectsMissingDate(t *testing.T) {
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{"fixfinder", "window"})
	exit, ok := err.(cli.ExitCoder)
	if !ok || exit.ExitCode() != 2 {
		t.Errorf("Run() error = %v, want exit code 2", err)
	}
}
