package models

import "fmt"

// Theme is the stored appearance preference
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, nil
	default:
		return "", fmt.Errorf("invalid theme %q (expected light, dark or system)", s)
	}
}

// Settings represents user preferences kept in the local store
type Settings struct {
	Theme        Theme  `json:"theme"`
	VacationMode bool   `json:"vacation_mode"` // premium only
	Timezone     string `json:"timezone"`      // IANA timezone name or "Local"
}
