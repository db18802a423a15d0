package engine

import (
	"context"
	"sync"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/storage"
)

// Watch subscribes to realtime changes on both collections and re-fetches
// the affected collection on every event. onRefresh, if set, runs after each
// re-fetch. The returned stop func unsubscribes both channels; cancelling ctx
// does the same.
func (e *Engine) Watch(ctx context.Context, onRefresh func(collection string)) (func(), error) {
	if _, ok := e.session(); !ok {
		return nil, ErrNoSession
	}

	handler := func(collection string) func(storage.ChangeEvent) {
		return func(ev storage.ChangeEvent) {
			logger.Debug("Realtime change", "collection", collection, "type", ev.Type, "id", ev.ID)
			e.refetch(ctx, collection)
			if onRefresh != nil {
				onRefresh(collection)
			}
		}
	}

	stopHabits, err := e.remote.Subscribe(ctx, constants.CollectionHabits, handler(constants.CollectionHabits))
	if err != nil {
		return nil, err
	}
	stopCompletions, err := e.remote.Subscribe(ctx, constants.CollectionCompletions, handler(constants.CollectionCompletions))
	if err != nil {
		stopHabits()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stopHabits()
			stopCompletions()
		})
	}, nil
}

// refetch is serialized so overlapping events cannot publish an older read last.
func (e *Engine) refetch(ctx context.Context, collection string) {
	if ctx.Err() != nil {
		return
	}
	e.refetchMu.Lock()
	defer e.refetchMu.Unlock()

	var err error
	switch collection {
	case constants.CollectionHabits:
		_, err = e.FetchHabits(ctx)
	case constants.CollectionCompletions:
		_, err = e.FetchCompletions(ctx)
	}
	if err != nil {
		logger.Warn("Realtime re-fetch failed", "collection", collection, "error", err)
		return
	}
	e.metrics.Refetched(collection)
}
