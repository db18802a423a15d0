package utils

import (
	"testing"
	"time"
)

func TestLoadLocation(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		wantErr  bool
	}{
		{name: "empty string returns local", timezone: ""},
		{name: "Local returns local", timezone: "Local"},
		{name: "valid timezone UTC", timezone: "UTC"},
		{name: "valid timezone America/New_York", timezone: "America/New_York"},
		{name: "invalid timezone", timezone: "Invalid/Timezone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LoadLocation(tt.timezone)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadLocation() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && loc == nil {
				t.Errorf("LoadLocation() returned nil location without error")
			}
		})
	}
}

func TestDayKeyUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 03:00 UTC is still the previous evening in New York
	ts := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	if got := DayKey(ts, time.UTC); got != "2026-03-10" {
		t.Errorf("DayKey(UTC) = %q, want 2026-03-10", got)
	}
	if got := DayKey(ts, ny); got != "2026-03-09" {
		t.Errorf("DayKey(New York) = %q, want 2026-03-09", got)
	}
	if SameDay(ts, ts.Add(-4*time.Hour), ny) != true {
		t.Errorf("expected same New York day")
	}
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2026, 5, 1, 17, 45, 12, 0, time.UTC)
	got := StartOfDay(ts, time.UTC)
	want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("StartOfDay() = %v, want %v", got, want)
	}
}

func TestParseTimeToMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "07:30", want: 450},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "7am", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTimeToMinutes(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeToMinutes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeToMinutes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateTimeFormat(t *testing.T) {
	for _, valid := range []string{"08:00", "21:15"} {
		if !ValidateTimeFormat(valid) {
			t.Errorf("ValidateTimeFormat(%q) = false, want true", valid)
		}
	}
	for _, invalid := range []string{"", "8:00", "25:00", "08:00:00"} {
		if ValidateTimeFormat(invalid) {
			t.Errorf("ValidateTimeFormat(%q) = true, want false", invalid)
		}
	}
}

func TestValidateTimezone(t *testing.T) {
	if !ValidateTimezone("Local") || !ValidateTimezone("UTC") {
		t.Error("expected Local and UTC to be valid")
	}
	if ValidateTimezone("Mars/Olympus") {
		t.Error("expected Mars/Olympus to be invalid")
	}
}
