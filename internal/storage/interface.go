package storage

import "context"

// KeyValue is the device-local durable store. Values are JSON encoded.
type KeyValue interface {
	// Lifecycle
	Init(ctx context.Context) error
	Load(ctx context.Context) error
	Close() error

	// Get decodes the value stored under key into dest and reports whether it existed.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	// Keys lists stored keys sharing prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Utils
	GetConfigPath() string
}

// DocumentStore is the remote document collection API.
type DocumentStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Create inserts doc under id. Returns ErrConflict if the id is taken.
	Create(ctx context.Context, collection, id string, doc Document) error
	// Update merges patch into the document. Returns ErrNotFound if absent.
	Update(ctx context.Context, collection, id string, patch Document) error
	// Delete removes the document. Returns ErrNotFound if absent.
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, filters ...Filter) ([]Document, error)

	// Subscribe delivers change notifications for channel until the returned
	// func is called or ctx is done.
	Subscribe(ctx context.Context, channel string, onEvent func(ChangeEvent)) (func(), error)

	// Utils
	Name() string
}
