package settings

import (
	"errors"
	"fmt"

	"github.com/julianstephens/streakly/internal/cli"
	settingsvc "github.com/julianstephens/streakly/internal/settings"
)

type SettingsCmd struct {
	List bool `help:"List current settings."`

	Theme    *string `help:"Appearance theme (light, dark, system)."`
	Vacation *bool   `help:"Pause reminders while keeping streaks (premium)."`
	Timezone *string `help:"IANA timezone used for day boundaries, or Local."`
}

func (c *SettingsCmd) Run(ctx *cli.Context) error {
	if c.List {
		return c.list(ctx)
	}

	updated := false
	if c.Theme != nil {
		theme, err := ctx.Settings.SetTheme(ctx.Ctx, *c.Theme)
		if err != nil {
			return err
		}
		ctx.Printf("Theme set to %s.\n", theme)
		updated = true
	}
	if c.Vacation != nil {
		if err := ctx.Settings.SetVacationMode(ctx.Ctx, *c.Vacation); err != nil {
			if errors.Is(err, settingsvc.ErrPremiumRequired) {
				return fmt.Errorf("vacation mode is a premium feature. Sign up with 'streakly account signup': %w", err)
			}
			return fmt.Errorf("failed to save vacation mode: %w", err)
		}
		state := "off"
		if *c.Vacation {
			state = "on"
		}
		ctx.Printf("Vacation mode %s.\n", state)
		updated = true
	}
	if c.Timezone != nil {
		if err := ctx.Settings.SetTimezone(ctx.Ctx, *c.Timezone); err != nil {
			return err
		}
		ctx.Printf("Timezone set to %s. Day boundaries use it from the next run.\n", *c.Timezone)
		updated = true
	}

	if !updated {
		ctx.Printf("No changes specified. Use --list to view settings or flags to update them.\n")
	}
	return nil
}

func (c *SettingsCmd) list(ctx *cli.Context) error {
	s, err := ctx.Settings.Get(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	vacation, err := ctx.Settings.VacationMode(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	ctx.Printf("Current Settings:\n")
	ctx.Printf("  Theme:          %s\n", s.Theme)
	ctx.Printf("  Timezone:       %s (%s)\n", s.Timezone, ctx.Engine.Location())
	ctx.Printf("  Vacation mode:  %v\n", vacation)
	ctx.Printf("  Tier:           %s\n", ctx.Provider.Tier())
	return nil
}
