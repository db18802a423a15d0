package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
)

// CreateHabit stores a new habit. The local copy is always written and its
// failure is returned. Premium sessions also write a remote copy, whose
// failure is only logged. The title is not validated here.
func (e *Engine) CreateHabit(ctx context.Context, input models.HabitInput) (models.Habit, error) {
	frequency := input.Frequency
	if frequency == "" {
		frequency = models.FrequencyDaily
	}
	message := input.ReminderMessage
	if strings.TrimSpace(message) == "" {
		message = constants.DefaultReminderMessage
	}

	h := models.Habit{
		ID:              e.newID(),
		Title:           input.Title,
		Description:     input.Description,
		Frequency:       frequency,
		CreatedAt:       e.now(),
		Reminders:       append([]string(nil), input.Reminders...),
		ReminderMessage: message,
	}
	identity, premium := e.session()
	if premium {
		h.OwnerID = identity.UserID
	}

	if err := e.updateLocalHabits(ctx, func(habits []models.Habit) []models.Habit {
		return append(habits, h)
	}); err != nil {
		return models.Habit{}, err
	}

	meta := models.ReminderMeta{Title: h.Title, ReminderMessage: h.ReminderMessage, ReminderTimes: h.Reminders}
	if err := e.local.Set(ctx, constants.ReminderMetaKey(h.ID), meta); err != nil {
		logger.Warn("Failed to cache reminder metadata", "habit_id", h.ID, "error", err)
	}

	if premium {
		rctx, cancel := e.remoteContext(ctx)
		err := e.remote.Create(rctx, constants.CollectionHabits, h.ID, storage.HabitDocument(h))
		cancel()
		if err != nil {
			e.remoteWriteFailed("create", constants.CollectionHabits, h.ID, err)
		}
	}

	e.mu.Lock()
	e.habits = append(e.habits, h)
	e.mu.Unlock()

	e.scheduleReminders(ctx, h)
	logger.Info("Habit created", "habit_id", h.ID, "tier", e.currentTier())
	return h, nil
}

func (e *Engine) scheduleReminders(ctx context.Context, h models.Habit) {
	if e.reminders == nil || len(h.Reminders) == 0 {
		return
	}
	if e.vacation != nil {
		on, err := e.vacation.VacationMode(ctx)
		if err != nil {
			logger.Warn("Failed to read vacation mode", "error", err)
		}
		if on {
			logger.Info("Vacation mode on, not scheduling reminders", "habit_id", h.ID)
			return
		}
	}
	if err := e.reminders.ScheduleReminders(ctx, h.Reminders, h.Title, h.ReminderMessage); err != nil {
		logger.Warn("Failed to schedule reminders", "habit_id", h.ID, "error", err)
	}
}

// CompleteHabit records today's completion of habitID. It reports false
// without error when the habit was already completed today.
//
// The in-memory habit is updated first. Remote writes on the premium tier are
// best effort and never undo that update. A failed local write reverts it and
// is returned.
func (e *Engine) CompleteHabit(ctx context.Context, habitID string) (bool, error) {
	unlock := e.locks.Lock(habitID)
	defer unlock()

	now := e.now()
	ev := models.CompletionEvent{
		ID:          models.CompletionID(habitID, now, e.loc),
		HabitID:     habitID,
		CompletedAt: now,
	}

	e.mu.Lock()
	e.ensureTodayLocked(now)
	_, logged := e.completionIDs[ev.ID]
	if e.today[habitID] || logged {
		e.mu.Unlock()
		logger.Debug("Habit already completed today", "habit_id", habitID)
		return false, nil
	}
	idx := e.habitIndexLocked(habitID)
	if idx < 0 {
		e.mu.Unlock()
		return false, ErrHabitNotFound
	}
	prev := e.habits[idx]
	updated := prev
	updated.StreakCount++
	completedAt := now
	updated.LastCompletedAt = &completedAt
	e.habits[idx] = updated
	e.today[habitID] = true
	e.mu.Unlock()

	if identity, ok := e.session(); ok {
		ev.OwnerID = identity.UserID
		e.recordRemoteCompletion(ctx, ev, updated)
	}

	if err := e.recordLocalCompletion(ctx, ev, updated); err != nil {
		e.mu.Lock()
		if i := e.habitIndexLocked(habitID); i >= 0 {
			e.habits[i] = prev
		}
		delete(e.today, habitID)
		e.mu.Unlock()
		return false, err
	}

	e.mu.Lock()
	if _, ok := e.completionIDs[ev.ID]; !ok {
		e.completions = append(e.completions, ev)
		e.completionIDs[ev.ID] = struct{}{}
	}
	e.mu.Unlock()

	e.metrics.Completed(e.currentTier())
	logger.Debug("Habit completed", "habit_id", habitID, "streak_count", updated.StreakCount)
	return true, nil
}

func (e *Engine) recordRemoteCompletion(ctx context.Context, ev models.CompletionEvent, h models.Habit) {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()

	err := e.remote.Create(rctx, constants.CollectionCompletions, ev.ID, storage.CompletionDocument(ev))
	if errors.Is(err, storage.ErrConflict) {
		logger.Debug("Completion already recorded remotely", "id", ev.ID)
	} else if err != nil {
		e.remoteWriteFailed("create", constants.CollectionCompletions, h.ID, err)
	}

	if err := e.remote.Update(rctx, constants.CollectionHabits, h.ID, storage.HabitProgressPatch(h)); err != nil {
		e.remoteWriteFailed("update", constants.CollectionHabits, h.ID, err)
	}
}

func (e *Engine) recordLocalCompletion(ctx context.Context, ev models.CompletionEvent, h models.Habit) error {
	e.localMu.Lock()
	defer e.localMu.Unlock()

	events, err := e.localCompletions(ctx)
	if err != nil {
		return err
	}
	if !containsCompletion(events, ev.ID) {
		events = append(events, ev)
		if err := e.local.Set(ctx, constants.KeyCompletions, events); err != nil {
			return err
		}
	}

	habits, err := e.localHabits(ctx)
	if err != nil {
		return err
	}
	return e.local.Set(ctx, constants.KeyHabits, upsertHabit(habits, h))
}

// DeleteHabit removes a habit with its completions and reminder metadata.
// Remote deletion on the premium tier is best effort and cascades to the
// habit's remote completions. Local removal always runs and its failure is
// returned.
func (e *Engine) DeleteHabit(ctx context.Context, habitID string) error {
	unlock := e.locks.Lock(habitID)
	defer unlock()

	if _, ok := e.Habit(habitID); !ok {
		return ErrHabitNotFound
	}

	if identity, ok := e.session(); ok {
		e.deleteRemoteHabit(ctx, identity, habitID)
	}

	if err := e.deleteLocalHabit(ctx, habitID); err != nil {
		return err
	}

	e.mu.Lock()
	if i := e.habitIndexLocked(habitID); i >= 0 {
		e.habits = append(e.habits[:i:i], e.habits[i+1:]...)
	}
	kept := make([]models.CompletionEvent, 0, len(e.completions))
	for _, ev := range e.completions {
		if ev.HabitID != habitID {
			kept = append(kept, ev)
		}
	}
	e.setCompletionsLocked(kept)
	e.mu.Unlock()

	logger.Info("Habit deleted", "habit_id", habitID)
	return nil
}

func (e *Engine) deleteRemoteHabit(ctx context.Context, identity models.Identity, habitID string) {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()

	err := e.remote.Delete(rctx, constants.CollectionHabits, habitID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.remoteWriteFailed("delete", constants.CollectionHabits, habitID, err)
	}

	docs, err := e.remote.List(rctx, constants.CollectionCompletions,
		storage.Eq(constants.FieldHabitID, habitID),
		storage.OwnedBy(identity.UserID))
	if err != nil {
		e.remoteWriteFailed("delete", constants.CollectionCompletions, habitID, err)
		return
	}
	for _, doc := range docs {
		err := e.remote.Delete(rctx, constants.CollectionCompletions, doc.ID())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.remoteWriteFailed("delete", constants.CollectionCompletions, habitID, err)
			return
		}
	}
}

func (e *Engine) deleteLocalHabit(ctx context.Context, habitID string) error {
	if err := e.updateLocalHabits(ctx, func(habits []models.Habit) []models.Habit {
		kept := habits[:0]
		for _, h := range habits {
			if h.ID != habitID {
				kept = append(kept, h)
			}
		}
		return kept
	}); err != nil {
		return err
	}

	e.localMu.Lock()
	events, err := e.localCompletions(ctx)
	if err == nil {
		kept := events[:0]
		for _, ev := range events {
			if ev.HabitID != habitID {
				kept = append(kept, ev)
			}
		}
		err = e.local.Set(ctx, constants.KeyCompletions, kept)
	}
	e.localMu.Unlock()
	if err != nil {
		return err
	}

	return e.local.Remove(ctx, constants.ReminderMetaKey(habitID))
}

func (e *Engine) updateLocalHabits(ctx context.Context, fn func([]models.Habit) []models.Habit) error {
	e.localMu.Lock()
	defer e.localMu.Unlock()

	habits, err := e.localHabits(ctx)
	if err != nil {
		return err
	}
	return e.local.Set(ctx, constants.KeyHabits, fn(habits))
}

func (e *Engine) remoteWriteFailed(op, collection, habitID string, err error) {
	logger.Warn("Remote write failed, keeping local copy", "op", op, "collection", collection, "habit_id", habitID, "error", err)
	e.metrics.RemoteWriteFailed(op, collection)
}

func containsCompletion(events []models.CompletionEvent, id string) bool {
	for _, ev := range events {
		if ev.ID == id {
			return true
		}
	}
	return false
}

func upsertHabit(habits []models.Habit, h models.Habit) []models.Habit {
	for i := range habits {
		if habits[i].ID == h.ID {
			habits[i] = h
			return habits
		}
	}
	return append(habits, h)
}
