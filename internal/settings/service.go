// Package settings stores user preferences in the local store.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
	"github.com/julianstephens/streakly/internal/utils"
)

// ErrPremiumRequired gates premium-only preferences.
var ErrPremiumRequired = fmt.Errorf("%w: upgrade to premium to use vacation mode", storage.ErrUnauthorized)

// TierSource reports whether the current user is premium
type TierSource interface {
	IsPremium() bool
}

type Service struct {
	local storage.KeyValue
	tier  TierSource
}

func NewService(local storage.KeyValue, tier TierSource) *Service {
	return &Service{local: local, tier: tier}
}

// Get returns the stored settings with defaults filled in.
func (s *Service) Get(ctx context.Context) (models.Settings, error) {
	out := models.Settings{
		Theme:    constants.DefaultTheme,
		Timezone: constants.DefaultTimezone,
	}
	if _, err := s.local.Get(ctx, constants.KeyThemePreference, &out.Theme); err != nil {
		return models.Settings{}, err
	}
	if _, err := s.local.Get(ctx, constants.KeyVacationMode, &out.VacationMode); err != nil {
		return models.Settings{}, err
	}
	if _, err := s.local.Get(ctx, constants.KeyTimezone, &out.Timezone); err != nil {
		return models.Settings{}, err
	}
	return out, nil
}

func (s *Service) SetTheme(ctx context.Context, theme string) (models.Theme, error) {
	t, err := models.ParseTheme(theme)
	if err != nil {
		return "", err
	}
	return t, s.local.Set(ctx, constants.KeyThemePreference, t)
}

// SetVacationMode toggles vacation mode. Enabling requires premium; disabling never does.
func (s *Service) SetVacationMode(ctx context.Context, enabled bool) error {
	if enabled && (s.tier == nil || !s.tier.IsPremium()) {
		return ErrPremiumRequired
	}
	return s.local.Set(ctx, constants.KeyVacationMode, enabled)
}

// VacationMode reports whether reminders are paused. It is never on for free users.
func (s *Service) VacationMode(ctx context.Context) (bool, error) {
	var on bool
	if _, err := s.local.Get(ctx, constants.KeyVacationMode, &on); err != nil {
		return false, err
	}
	return on && s.tier != nil && s.tier.IsPremium(), nil
}

func (s *Service) SetTimezone(ctx context.Context, timezone string) error {
	if !utils.ValidateTimezone(timezone) {
		return fmt.Errorf("invalid timezone %q", timezone)
	}
	return s.local.Set(ctx, constants.KeyTimezone, timezone)
}

// Location resolves the stored timezone.
func (s *Service) Location(ctx context.Context) (*time.Location, error) {
	var tz string
	if _, err := s.local.Get(ctx, constants.KeyTimezone, &tz); err != nil {
		return nil, err
	}
	return utils.LoadLocation(tz)
}

// LocationOr resolves the stored timezone, or fallback when none is stored.
func (s *Service) LocationOr(ctx context.Context, fallback string) (*time.Location, error) {
	tz := fallback
	if _, err := s.local.Get(ctx, constants.KeyTimezone, &tz); err != nil {
		return nil, err
	}
	return utils.LoadLocation(tz)
}
