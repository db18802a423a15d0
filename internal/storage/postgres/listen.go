package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/storage"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// notifyChannel is the NOTIFY channel the documents trigger publishes on.
func notifyChannel(collection string) string {
	return constants.AppName + "_" + collection
}

type notifyPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// parseNotification converts a trigger payload to a change event.
func parseNotification(channel, payload string) (storage.ChangeEvent, error) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return storage.ChangeEvent{}, fmt.Errorf("malformed notification payload: %w", err)
	}
	ev := storage.ChangeEvent{Channel: channel, ID: p.ID}
	switch p.Type {
	case "insert":
		ev.Type = storage.EventCreate
	case "update":
		ev.Type = storage.EventUpdate
	case "delete":
		ev.Type = storage.EventDelete
	default:
		return storage.ChangeEvent{}, fmt.Errorf("unknown notification type %q", p.Type)
	}
	return ev, nil
}

func (s *Store) Subscribe(ctx context.Context, channel string, onEvent func(storage.ChangeEvent)) (func(), error) {
	listener := pq.NewListener(s.connStr, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("Realtime listener event", "channel", channel, "event", ev, "error", err)
			}
		})

	if err := listener.Listen(notifyChannel(channel)); err != nil {
		listener.Close()
		return nil, storage.Unavailable(fmt.Errorf("failed to listen on %s: %w", channel, err))
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Debug("Failed to close realtime listener", "channel", channel, "error", err)
			}
		}()
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// Reconnected; notifications sent while disconnected are lost
					onEvent(storage.ChangeEvent{Channel: channel, Type: storage.EventResync})
					continue
				}
				ev, err := parseNotification(channel, n.Extra)
				if err != nil {
					logger.Warn("Ignoring realtime notification", "channel", channel, "error", err)
					continue
				}
				onEvent(ev)
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					logger.Debug("Realtime listener ping failed", "channel", channel, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}
