package storage

import (
	"fmt"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
)

// HabitDocument converts a habit to its remote form.
func HabitDocument(h models.Habit) Document {
	reminders := h.Reminders
	if reminders == nil {
		reminders = []string{}
	}
	doc := Document{
		constants.FieldID:              h.ID,
		constants.FieldTitle:           h.Title,
		constants.FieldDescription:     h.Description,
		constants.FieldFrequency:       string(h.Frequency),
		constants.FieldStreakCount:     h.StreakCount,
		constants.FieldCreatedAt:       FormatTime(h.CreatedAt),
		constants.FieldReminders:       reminders,
		constants.FieldReminderMessage: h.ReminderMessage,
		constants.FieldOwnerID:         h.OwnerID,
	}
	if h.LastCompletedAt != nil {
		doc[constants.FieldLastCompletedAt] = FormatTime(*h.LastCompletedAt)
	}
	return doc
}

// HabitFromDocument converts a remote document back to a habit.
func HabitFromDocument(doc Document) (models.Habit, error) {
	h := models.Habit{
		ID:              doc.ID(),
		Title:           doc.String(constants.FieldTitle),
		Description:     doc.String(constants.FieldDescription),
		Frequency:       models.Frequency(doc.String(constants.FieldFrequency)),
		StreakCount:     doc.Int(constants.FieldStreakCount),
		Reminders:       doc.Strings(constants.FieldReminders),
		ReminderMessage: doc.String(constants.FieldReminderMessage),
		OwnerID:         doc.String(constants.FieldOwnerID),
	}
	if h.ID == "" {
		return models.Habit{}, fmt.Errorf("habit document has no id")
	}

	createdAt, ok, err := doc.Time(constants.FieldCreatedAt)
	if err != nil {
		return models.Habit{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if ok {
		h.CreatedAt = createdAt
	}

	last, ok, err := doc.Time(constants.FieldLastCompletedAt)
	if err != nil {
		return models.Habit{}, fmt.Errorf("failed to parse last_completed_at: %w", err)
	}
	if ok {
		h.LastCompletedAt = &last
	}
	return h, nil
}

// HabitProgressPatch is the remote update applied when a habit is completed.
func HabitProgressPatch(h models.Habit) Document {
	patch := Document{constants.FieldStreakCount: h.StreakCount}
	if h.LastCompletedAt != nil {
		patch[constants.FieldLastCompletedAt] = FormatTime(*h.LastCompletedAt)
	}
	return patch
}

// CompletionDocument converts a completion event to its remote form.
func CompletionDocument(c models.CompletionEvent) Document {
	return Document{
		constants.FieldID:          c.ID,
		constants.FieldHabitID:     c.HabitID,
		constants.FieldCompletedAt: FormatTime(c.CompletedAt),
		constants.FieldOwnerID:     c.OwnerID,
	}
}

// CompletionFromDocument converts a remote document back to a completion event.
func CompletionFromDocument(doc Document) (models.CompletionEvent, error) {
	at, ok, err := doc.Time(constants.FieldCompletedAt)
	if err != nil {
		return models.CompletionEvent{}, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	if !ok {
		return models.CompletionEvent{}, fmt.Errorf("completion %q has no completed_at", doc.ID())
	}
	return models.CompletionEvent{
		ID:          doc.ID(),
		HabitID:     doc.String(constants.FieldHabitID),
		CompletedAt: at,
		OwnerID:     doc.String(constants.FieldOwnerID),
	}, nil
}
