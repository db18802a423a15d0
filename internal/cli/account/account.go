package account

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/engine"
	"github.com/julianstephens/streakly/internal/models"
)

type AccountCmd struct {
	Signup    SignupCmd    `cmd:"" help:"Create a premium account and sync local habits to it."`
	Signin    SigninCmd    `cmd:"" help:"Sign in to a premium account."`
	Signout   SignoutCmd   `cmd:"" help:"Sign out and return to the free tier."`
	Status    StatusCmd    `cmd:"" help:"Show the current tier and account."`
	Downgrade DowngradeCmd `cmd:"" help:"Reset to the free tier."`
}

// Credentials are the sign-in flags shared by signup and signin
type Credentials struct {
	Email    string `help:"Account email."`
	Password string `help:"Account password (prompted when omitted)."`
}

func (c *Credentials) prompt(title string, confirm bool) error {
	if c.Email != "" && c.Password != "" {
		return nil
	}

	var repeat string
	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Value(&c.Email).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("email is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&c.Password).
			Validate(func(s string) error {
				if len(s) < constants.MinPasswordLength {
					return fmt.Errorf("password must be at least %d characters", constants.MinPasswordLength)
				}
				return nil
			}),
	}
	if confirm {
		fields = append(fields, huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&repeat).
			Validate(func(s string) error {
				if s != c.Password {
					return errors.New("passwords do not match")
				}
				return nil
			}))
	}

	form := huh.NewForm(huh.NewGroup(fields...).Title(title))
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive form error: %w", err)
	}
	return nil
}

type SignupCmd struct {
	Credentials `embed:""`
}

func (c *SignupCmd) Run(ctx *cli.Context) error {
	if err := c.prompt("Create your streakly account", true); err != nil {
		return err
	}
	identity, err := ctx.Provider.SignUp(ctx.Ctx, c.Email, c.Password)
	if err != nil {
		return fmt.Errorf("sign up failed: %w", err)
	}
	ctx.Printf("%s Signed up as %s\n", cli.SuccessStyle.Render("✓"), identity.Email)
	return reportTransition(ctx)
}

type SigninCmd struct {
	Credentials `embed:""`
}

func (c *SigninCmd) Run(ctx *cli.Context) error {
	if err := c.prompt("Sign in to streakly", false); err != nil {
		return err
	}
	identity, err := ctx.Provider.SignIn(ctx.Ctx, c.Email, c.Password)
	if err != nil {
		return fmt.Errorf("sign in failed: %w", err)
	}
	ctx.Printf("%s Signed in as %s\n", cli.SuccessStyle.Render("✓"), identity.Email)
	return reportTransition(ctx)
}

// reportTransition prints the migration that ran as part of the last tier
// change, if any.
func reportTransition(ctx *cli.Context) error {
	report, err := ctx.TakeTransitionResult()
	if report != nil {
		PrintReport(ctx, *report)
	}
	return err
}

// PrintReport prints a per-phase migration summary.
func PrintReport(ctx *cli.Context, report engine.MigrationReport) {
	ctx.Printf("Migrated %d habits and %d completions to your account\n", report.LocalHabits, report.LocalCompletions)
	if report.BackupPath != "" {
		ctx.Printf("  Local backup: %s\n", report.BackupPath)
	}
	for _, p := range report.Phases {
		status := cli.SuccessStyle.Render("ok")
		if p.Err != nil {
			status = cli.DangerStyle.Render("failed: " + p.Err.Error())
		}
		ctx.Printf("  %-20s %d/%d %s\n", p.Name, p.Done, p.Total, status)
	}
}

type SignoutCmd struct{}

func (c *SignoutCmd) Run(ctx *cli.Context) error {
	if err := ctx.Provider.SignOut(ctx.Ctx); err != nil {
		return fmt.Errorf("sign out failed: %w", err)
	}
	ctx.Printf("Signed out. Habits are now kept on this device only.\n")
	_, err := ctx.TakeTransitionResult()
	return err
}

type DowngradeCmd struct {
	Yes bool `short:"y" help:"Skip the confirmation prompt."`
}

func (c *DowngradeCmd) Run(ctx *cli.Context) error {
	if !ctx.Provider.IsPremium() {
		ctx.Printf("Already on the free tier.\n")
		return nil
	}
	if !c.Yes {
		confirmed := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Downgrade to the free tier?").
					Description("Remote habits stay in your account. This device goes back to its local data.").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive form error: %w", err)
		}
		if !confirmed {
			ctx.Printf("Downgrade cancelled.\n")
			return nil
		}
	}

	if err := ctx.Provider.ResetTier(ctx.Ctx); err != nil {
		return fmt.Errorf("downgrade failed: %w", err)
	}
	ctx.Printf("Downgraded to the free tier.\n")
	_, err := ctx.TakeTransitionResult()
	return err
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *cli.Context) error {
	tier := ctx.Provider.Tier()
	ctx.Printf("Tier:    %s\n", tier)
	if identity := ctx.Provider.Identity(); !identity.IsZero() {
		ctx.Printf("Account: %s (%s)\n", identity.Email, identity.UserID)
	}
	remote := "none (local only)"
	if ctx.Remote != nil {
		remote = ctx.Remote.Name()
	}
	ctx.Printf("Remote:  %s\n", remote)
	if tier == models.TierPremium && ctx.Remote != nil {
		if err := ctx.Remote.Ping(ctx.Ctx); err != nil {
			ctx.Printf("Status:  %s\n", cli.WarningStyle.Render("offline, using cached data"))
		} else {
			ctx.Printf("Status:  %s\n", cli.SuccessStyle.Render("online"))
		}
	}
	ctx.Printf("Habits:  %d\n", len(ctx.Engine.Habits()))
	return nil
}
