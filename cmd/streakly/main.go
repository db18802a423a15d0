package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/cli/account"
	"github.com/julianstephens/streakly/internal/cli/backups"
	"github.com/julianstephens/streakly/internal/cli/cloud"
	"github.com/julianstephens/streakly/internal/cli/habits"
	"github.com/julianstephens/streakly/internal/cli/insights"
	"github.com/julianstephens/streakly/internal/cli/settings"
	"github.com/julianstephens/streakly/internal/cli/system"
	"github.com/julianstephens/streakly/internal/config"
	"github.com/julianstephens/streakly/internal/constants"
	apperrors "github.com/julianstephens/streakly/internal/errors"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/storage"
	"github.com/julianstephens/streakly/internal/storage/sqlite"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path." type:"path" default:"${config_path}"`
	Debug   bool   `help:"Log debug output to stderr."`

	LocalPath    string `help:"Local store path (overrides local_path)." type:"path"`
	RemoteDriver string `help:"Remote store driver (overrides remote.driver)."`
	RemoteURI    string `help:"Remote connection string. Credentials must NOT be embedded for PostgreSQL; use the OS keyring instead." name:"remote-uri"`

	Init     system.InitCmd       `cmd:"" help:"Initialize streakly storage."`
	Doctor   system.DoctorCmd     `cmd:"" help:"Run health checks and diagnostics."`
	Keyring  system.KeyringCmd    `cmd:"" help:"Manage the remote connection string in the OS keyring."`
	Habit    habits.HabitCmd      `cmd:"" help:"Manage habits and completions."`
	Streaks  insights.StreaksCmd  `cmd:"" help:"Show the longest streaks."`
	Activity insights.ActivityCmd `cmd:"" help:"Show the completion activity grid."`
	Stats    insights.StatsCmd    `cmd:"" help:"Show a summary of recent completions."`
	Account  account.AccountCmd   `cmd:"" help:"Sign up, sign in and manage your tier."`
	Sync     cloud.SyncCmd        `cmd:"" help:"Sync local data with your account."`
	Settings settings.SettingsCmd `cmd:"" help:"Manage application settings."`
	Backup   backups.BackupCmd    `cmd:"" help:"Manage local store backups."`
}

// skipsOpen lists commands that run before, or without, a loaded local store.
func skipsOpen(command string) bool {
	return strings.HasPrefix(command, "init") || strings.HasPrefix(command, "keyring")
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Local-first habit tracker with streaks and optional account sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":     constants.Version,
			"config_path": config.DefaultPath(),
		},
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		apperrors.Fatal(err)
	}
	if CLI.Debug {
		cfg.Debug = true
	}
	if CLI.LocalPath != "" {
		cfg.LocalPath = config.ExpandHome(CLI.LocalPath)
	}
	if CLI.RemoteDriver != "" {
		cfg.Remote.Driver = CLI.RemoteDriver
	}
	if CLI.RemoteURI != "" {
		cfg.Remote.URI = CLI.RemoteURI
	}
	if err := cfg.Validate(); err != nil {
		apperrors.Fatal(err)
	}

	if err := logger.Init(logger.Config{Debug: cfg.Debug, ConfigDir: cfg.ConfigDir()}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}

	command := kctx.Command()
	var remote storage.DocumentStore
	if !strings.HasPrefix(command, "keyring") {
		if remote, err = cli.OpenRemote(cfg); err != nil {
			apperrors.Fatal(err)
		}
	}

	appCtx := cli.New(context.Background(), cfg, sqlite.NewStore(cfg.LocalPath), remote)
	if !skipsOpen(command) {
		if err := appCtx.Open(); err != nil {
			_ = appCtx.Close()
			apperrors.Fatal(err)
		}
	}

	err = kctx.Run(appCtx)
	if closeErr := appCtx.Close(); closeErr != nil {
		logger.Warn("Failed to close stores", "error", closeErr)
	}
	apperrors.Fatal(err)
}
