package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/streakly/internal/storage"
)

func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	if s.db == nil {
		return false, &storage.LocalError{Op: "get", Key: key, Err: storage.ErrNotInitialized}
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, &storage.LocalError{Op: "get", Key: key, Err: err}
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, &storage.LocalError{Op: "get", Key: key, Err: fmt.Errorf("failed to decode value: %w", err)}
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	if s.db == nil {
		return &storage.LocalError{Op: "set", Key: key, Err: storage.ErrNotInitialized}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &storage.LocalError{Op: "set", Key: key, Err: fmt.Errorf("failed to encode value: %w", err)}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &storage.LocalError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s.db == nil {
		return &storage.LocalError{Op: "remove", Key: key, Err: storage.ErrNotInitialized}
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return &storage.LocalError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.db == nil {
		return nil, &storage.LocalError{Op: "keys", Err: storage.ErrNotInitialized}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return nil, &storage.LocalError{Op: "keys", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &storage.LocalError{Op: "keys", Err: err}
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.LocalError{Op: "keys", Err: err}
	}
	return keys, nil
}
