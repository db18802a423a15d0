package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/storage"
)

func (s *Store) Create(ctx context.Context, collection, id string, doc storage.Document) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	body := doc.Clone()
	body[constants.FieldID] = id
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)",
		collection, id, string(data))
	return classify(err)
}

func (s *Store) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	body := patch.Clone()
	delete(body, constants.FieldID)
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET body = body || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(data))
	if err != nil {
		return classify(err)
	}
	return requireRow(res, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, collection, id)
}

type rowsResult interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsResult, collection, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string, filters ...storage.Filter) ([]storage.Document, error) {
	if s.db == nil {
		return nil, storage.ErrNotInitialized
	}
	query, args, err := buildListQuery(collection, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err)
		}
		doc := storage.Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return docs, nil
}

// buildListQuery renders filters as parameterized predicates. Field names are
// passed as parameters to the ->> operator, so they never reach the SQL text.
func buildListQuery(collection string, filters []storage.Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT body FROM documents WHERE collection = $1")
	args := []any{collection}

	for _, f := range filters {
		var column string
		if f.Field == constants.FieldID {
			column = "id"
		} else {
			args = append(args, f.Field)
			column = fmt.Sprintf("body->>($%d::text)", len(args))
		}

		var op string
		switch f.Op {
		case storage.OpEq:
			op = "="
		case storage.OpGte:
			op = ">="
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}

		args = append(args, fmt.Sprint(f.Value))
		fmt.Fprintf(&b, " AND %s %s $%d", column, op, len(args))
	}

	b.WriteString(" ORDER BY created_at, id")
	return b.String(), args, nil
}
