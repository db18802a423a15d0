package storage

import (
	"fmt"
	"time"

	"github.com/julianstephens/streakly/internal/constants"
)

// Document is a remote record. The "id" field always carries the document id.
type Document map[string]any

// Op is a filter comparison
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
)

// Filter restricts a List to documents whose Field compares to Value.
// Timestamps are compared in their stored string form (see FormatTime).
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq matches documents where field equals value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Gte matches documents where field is greater than or equal to value.
func Gte(field string, value any) Filter {
	return Filter{Field: field, Op: OpGte, Value: value}
}

// OwnedBy is the per-user ownership filter.
func OwnedBy(userID string) Filter {
	return Eq(constants.FieldOwnerID, userID)
}

// EventType classifies a realtime change notification
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	// EventResync is delivered after the subscription reconnects and events may have been missed.
	EventResync EventType = "resync"
)

// ChangeEvent is a payload-free signal that a collection changed
type ChangeEvent struct {
	Channel string
	Type    EventType
	ID      string
}

// FormatTime renders t in the fixed-width UTC form used by remote documents.
func FormatTime(t time.Time) string {
	return t.UTC().Format(constants.RemoteTimeFormat)
}

// ParseTime parses a timestamp written by FormatTime. RFC3339 with offsets is accepted too.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ID returns the document id.
func (d Document) ID() string {
	return d.String(constants.FieldID)
}

// String returns the field as a string, or "" if absent.
func (d Document) String(field string) string {
	switch v := d[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a numeric field. JSON and BSON decoders disagree on number types.
func (d Document) Int(field string) int {
	switch v := d[field].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

// Time parses a timestamp field. ok is false when the field is absent or empty.
func (d Document) Time(field string) (t time.Time, ok bool, err error) {
	s := d.String(field)
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err = ParseTime(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("field %s: %w", field, err)
	}
	return t, true, nil
}

// Strings returns a list-of-strings field.
func (d Document) Strings(field string) []string {
	switch v := d[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
