package settings

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/config"
	"github.com/julianstephens/streakly/internal/models"
	settingsvc "github.com/julianstephens/streakly/internal/settings"
	"github.com/julianstephens/streakly/internal/storage/memory"
)

func setupTestContext(t *testing.T) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Reminders.Enabled = false

	ctx := cli.New(context.Background(), cfg, memory.NewKV(), nil)
	out := &bytes.Buffer{}
	ctx.Out = out
	if err := ctx.Start(); err != nil {
		t.Fatalf("failed to start context: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx, out
}

func ptr[T any](v T) *T { return &v }

func TestSettingsCmd_List(t *testing.T) {
	ctx, out := setupTestContext(t)

	if err := (&SettingsCmd{List: true}).Run(ctx); err != nil {
		t.Fatalf("settings list failed: %v", err)
	}
	for _, want := range []string{"Theme:          system", "Vacation mode:  false", "Tier:           free"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output = %q, want %q", out.String(), want)
		}
	}
}

func TestSettingsCmd_UpdateThemeAndTimezone(t *testing.T) {
	ctx, _ := setupTestContext(t)

	cmd := &SettingsCmd{Theme: ptr("dark"), Timezone: ptr("Europe/Paris")}
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("settings update failed: %v", err)
	}

	s, err := ctx.Settings.Get(ctx.Ctx)
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if s.Theme != models.ThemeDark {
		t.Errorf("Theme = %s, want dark", s.Theme)
	}
	if s.Timezone != "Europe/Paris" {
		t.Errorf("Timezone = %s, want Europe/Paris", s.Timezone)
	}
}

func TestSettingsCmd_RejectsInvalidValues(t *testing.T) {
	ctx, _ := setupTestContext(t)

	if err := (&SettingsCmd{Theme: ptr("neon")}).Run(ctx); err == nil {
		t.Error("expected error for an unknown theme")
	}
	if err := (&SettingsCmd{Timezone: ptr("Mars/Olympus")}).Run(ctx); err == nil {
		t.Error("expected error for an unknown timezone")
	}
}

func TestSettingsCmd_VacationRequiresPremium(t *testing.T) {
	ctx, _ := setupTestContext(t)

	err := (&SettingsCmd{Vacation: ptr(true)}).Run(ctx)
	if !errors.Is(err, settingsvc.ErrPremiumRequired) {
		t.Fatalf("settings vacation error = %v, want ErrPremiumRequired", err)
	}

	// Turning it off is always allowed
	if err := (&SettingsCmd{Vacation: ptr(false)}).Run(ctx); err != nil {
		t.Errorf("disabling vacation mode failed: %v", err)
	}
}

func TestSettingsCmd_NoChanges(t *testing.T) {
	ctx, out := setupTestContext(t)

	if err := (&SettingsCmd{}).Run(ctx); err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if !strings.Contains(out.String(), "No changes specified") {
		t.Errorf("output = %q", out.String())
	}
}
