package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/keyring"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage/sqlite"
	"github.com/julianstephens/streakly/internal/validation"
)

type DoctorCmd struct {
	Metrics bool `help:"Also print the metrics recorded during this run."`
}

// skipError marks a check that does not apply to the current setup.
type skipError struct{ reason string }

func (e skipError) Error() string { return e.reason }

func skipped(reason string) error { return skipError{reason: reason} }

type check struct {
	name    string
	run     func(*cli.Context) error
	warning bool // failures are reported but do not fail the run
	needsDB bool
	gate    bool // a failure skips the needsDB checks
}

var checks = []check{
	{name: "Local store reachable", run: checkLocalReachable, gate: true},
	{name: "Schema version", run: checkSchemaVersion, needsDB: true},
	{name: "Backups present", run: checkBackupsPresent, warning: true},
	{name: "Habit validation", run: checkHabits, needsDB: true},
	{name: "Completion integrity", run: checkCompletions, needsDB: true},
	{name: "Clock/timezone", run: checkClockTimezone},
	{name: "Remote store", run: checkRemote, warning: true},
	{name: "OS keyring", run: checkKeyring, warning: true},
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	ctx.Printf("Running diagnostics...\n\n")

	hasError := false
	dbReachable := true
	for _, c := range checks {
		if c.needsDB && !dbReachable {
			ctx.Printf("⊘ %s: SKIPPED (local store not reachable)\n", c.name)
			continue
		}

		err := c.run(ctx)
		var skip skipError
		switch {
		case err == nil:
			ctx.Printf("%s %s: OK\n", cli.SuccessStyle.Render("✓"), c.name)
		case errors.As(err, &skip):
			ctx.Printf("⊘ %s: SKIPPED (%s)\n", c.name, skip.reason)
		case c.warning:
			ctx.Printf("%s %s: WARNING\n", cli.WarningStyle.Render("⚠"), c.name)
			ctx.Printf("   %v\n", err)
		default:
			ctx.Printf("%s %s: FAIL\n", cli.DangerStyle.Render("✗"), c.name)
			ctx.Printf("   Error: %v\n", err)
			hasError = true
			if c.gate {
				dbReachable = false
			}
		}
	}

	if cmd.Metrics && ctx.Metrics != nil {
		lines, err := ctx.Metrics.Snapshot()
		if err != nil {
			return err
		}
		ctx.Printf("\nMetrics:\n")
		if len(lines) == 0 {
			ctx.Printf("  (none recorded)\n")
		}
		for _, l := range lines {
			ctx.Printf("  %s\n", l)
		}
	}

	ctx.Printf("\n")
	if hasError {
		ctx.Printf("Diagnostics completed with errors.\n")
		return errors.New("one or more health checks failed")
	}
	ctx.Printf("All diagnostics passed!\n")
	return nil
}

func checkLocalReachable(ctx *cli.Context) error {
	if err := ctx.Local.Load(ctx.Ctx); err != nil {
		return fmt.Errorf("failed to load local store: %w", err)
	}
	if _, err := ctx.Local.Keys(ctx.Ctx, ""); err != nil {
		return fmt.Errorf("failed to query local store: %w", err)
	}
	return nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	store, ok := ctx.Local.(*sqlite.Store)
	if !ok {
		return skipped("store has no schema")
	}
	current, latest, err := store.SchemaVersion(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d", current, latest)
	}
	return nil
}

func checkBackupsPresent(ctx *cli.Context) error {
	backups, err := ctx.Backups.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		return errors.New("no backups found. Consider creating one with 'streakly backup create'")
	}
	return nil
}

func checkHabits(ctx *cli.Context) error {
	result := validation.New(ctx.Engine.Location()).ValidateHabits(ctx.Engine.Habits())
	if result.HasConflicts() {
		return errors.New(result.FormatReport())
	}
	return nil
}

func checkCompletions(ctx *cli.Context) error {
	result := validation.New(ctx.Engine.Location()).ValidateCompletions(ctx.Engine.Habits(), ctx.Engine.Completions())
	if !result.HasConflicts() {
		return nil
	}
	for _, c := range result.Conflicts {
		if c.Type == validation.ConflictStreakDrift {
			return fmt.Errorf("%sRun 'streakly sync reconcile' to fix streak counters", result.FormatReport())
		}
	}
	return errors.New(result.FormatReport())
}

func checkClockTimezone(ctx *cli.Context) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	if ctx.Engine != nil && ctx.Engine.Location() == nil {
		return errors.New("no timezone resolved")
	}
	return nil
}

func checkRemote(ctx *cli.Context) error {
	if ctx.Remote == nil {
		return skipped("local only")
	}
	pingCtx, cancel := context.WithTimeout(ctx.Ctx, ctx.Config.Remote.Timeout)
	defer cancel()
	if err := ctx.Remote.Ping(pingCtx); err != nil {
		return fmt.Errorf("%s unreachable, habits stay on this device until it is back: %w", ctx.Remote.Name(), err)
	}
	if ctx.Provider.Tier() != models.TierPremium {
		return skipped(ctx.Remote.Name() + " reachable, not signed in")
	}
	return nil
}

func checkKeyring(*cli.Context) error {
	if !keyring.IsAvailable() {
		return keyring.ErrKeyringUnavailable
	}
	return nil
}
