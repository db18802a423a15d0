package models

import (
	"fmt"
	"time"
)

// Frequency is informational; it does not gate completion eligibility
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency validates a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	case "":
		return FrequencyDaily, nil
	default:
		return "", fmt.Errorf("invalid frequency %q (expected daily, weekly or monthly)", s)
	}
}

// Habit represents a recurring practice to track
type Habit struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Frequency       Frequency  `json:"frequency"`
	StreakCount     int        `json:"streak_count"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Reminders       []string   `json:"reminders,omitempty"` // HH:MM, 24-hour
	ReminderMessage string     `json:"reminder_message,omitempty"`
	OwnerID         string     `json:"owner_id,omitempty"`
}

// HabitInput carries the user-supplied fields for a new habit
type HabitInput struct {
	Title           string
	Description     string
	Frequency       Frequency
	Reminders       []string
	ReminderMessage string
}

// CompletionEvent records a single completion of a habit.
// HabitID is a reference only; events may outlive their habit.
type CompletionEvent struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habit_id"`
	CompletedAt time.Time `json:"completed_at"`
	OwnerID     string    `json:"owner_id,omitempty"`
}

// CompletionID returns the storage key for a completion of habitID on the
// calendar day of at in loc. One completion per habit per day shares an id.
func CompletionID(habitID string, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return habitID + ":" + at.In(loc).Format("2006-01-02")
}

// ReminderMeta is the per-habit reminder cache kept beside the habit list
type ReminderMeta struct {
	Title           string   `json:"title"`
	ReminderMessage string   `json:"reminder_message"`
	ReminderTimes   []string `json:"reminder_times"`
}
