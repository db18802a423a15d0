package engine

import (
	"context"
	"time"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
)

// FetchHabits refreshes the in-memory habit list. Premium sessions read the
// remote collection and fall back to the local copy if that fails. Only a
// local storage failure is returned.
func (e *Engine) FetchHabits(ctx context.Context) ([]models.Habit, error) {
	habits, err := e.readHabits(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.habits = habits
	e.mu.Unlock()
	return append([]models.Habit(nil), habits...), nil
}

// FetchCompletions refreshes the in-memory completion log with the same
// source policy as FetchHabits.
func (e *Engine) FetchCompletions(ctx context.Context) ([]models.CompletionEvent, error) {
	events, err := e.readCompletions(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.setCompletionsLocked(events)
	e.mu.Unlock()
	return append([]models.CompletionEvent(nil), events...), nil
}

// FetchCompletionsSince returns completions at or after since without
// touching the in-memory log.
func (e *Engine) FetchCompletionsSince(ctx context.Context, since time.Time) ([]models.CompletionEvent, error) {
	if identity, ok := e.session(); ok {
		events, err := e.listRemoteCompletions(ctx,
			storage.OwnedBy(identity.UserID),
			storage.Gte(constants.FieldCompletedAt, storage.FormatTime(since)))
		if err == nil {
			return events, nil
		}
		e.fallback(constants.CollectionCompletions, err)
	}

	all, err := e.localCompletions(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.CompletionEvent
	for _, ev := range all {
		if !ev.CompletedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (e *Engine) readHabits(ctx context.Context) ([]models.Habit, error) {
	if identity, ok := e.session(); ok {
		habits, err := e.listRemoteHabits(ctx, storage.OwnedBy(identity.UserID))
		if err == nil {
			return habits, nil
		}
		e.fallback(constants.CollectionHabits, err)
	}
	return e.localHabits(ctx)
}

func (e *Engine) readCompletions(ctx context.Context) ([]models.CompletionEvent, error) {
	if identity, ok := e.session(); ok {
		events, err := e.listRemoteCompletions(ctx, storage.OwnedBy(identity.UserID))
		if err == nil {
			return events, nil
		}
		e.fallback(constants.CollectionCompletions, err)
	}
	return e.localCompletions(ctx)
}

func (e *Engine) fallback(collection string, err error) {
	logger.Warn("Remote read failed, using local copy", "collection", collection, "error", err)
	e.metrics.ReadFellBack(collection)
}

func (e *Engine) listRemoteHabits(ctx context.Context, filters ...storage.Filter) ([]models.Habit, error) {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()
	docs, err := e.remote.List(rctx, constants.CollectionHabits, filters...)
	if err != nil {
		return nil, err
	}

	habits := make([]models.Habit, 0, len(docs))
	for _, doc := range docs {
		h, err := storage.HabitFromDocument(doc)
		if err != nil {
			logger.Warn("Skipping malformed habit document", "id", doc.ID(), "error", err)
			continue
		}
		habits = append(habits, h)
	}
	return habits, nil
}

func (e *Engine) listRemoteCompletions(ctx context.Context, filters ...storage.Filter) ([]models.CompletionEvent, error) {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()
	docs, err := e.remote.List(rctx, constants.CollectionCompletions, filters...)
	if err != nil {
		return nil, err
	}

	events := make([]models.CompletionEvent, 0, len(docs))
	for _, doc := range docs {
		ev, err := storage.CompletionFromDocument(doc)
		if err != nil {
			logger.Warn("Skipping malformed completion document", "id", doc.ID(), "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (e *Engine) localHabits(ctx context.Context) ([]models.Habit, error) {
	var habits []models.Habit
	if _, err := e.local.Get(ctx, constants.KeyHabits, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

func (e *Engine) localCompletions(ctx context.Context) ([]models.CompletionEvent, error) {
	var events []models.CompletionEvent
	if _, err := e.local.Get(ctx, constants.KeyCompletions, &events); err != nil {
		return nil, err
	}
	return events, nil
}
