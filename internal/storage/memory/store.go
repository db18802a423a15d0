// Package memory provides in-process implementations of the local and remote
// stores. Remote failures can be injected to exercise fallback paths.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/storage"
)

// KV is an in-memory storage.KeyValue. Values are kept JSON encoded so
// callers observe the same copy semantics as the sqlite store.
type KV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failErr error
}

var _ storage.KeyValue = (*KV)(nil)

func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (s *KV) Init(context.Context) error { return nil }
func (s *KV) Load(context.Context) error { return nil }
func (s *KV) Close() error               { return nil }
func (s *KV) GetConfigPath() string      { return ":memory:" }

// FailWith makes every subsequent call return err wrapped as a local error. nil clears it.
func (s *KV) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *KV) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, &storage.LocalError{Op: "get", Key: key, Err: s.failErr}
	}
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, &storage.LocalError{Op: "get", Key: key, Err: err}
	}
	return true, nil
}

func (s *KV) Set(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return &storage.LocalError{Op: "set", Key: key, Err: s.failErr}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return &storage.LocalError{Op: "set", Key: key, Err: err}
	}
	s.data[key] = raw
	return nil
}

func (s *KV) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return &storage.LocalError{Op: "remove", Key: key, Err: s.failErr}
	}
	delete(s.data, key)
	return nil
}

func (s *KV) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, &storage.LocalError{Op: "keys", Err: s.failErr}
	}
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Documents is an in-memory storage.DocumentStore
type Documents struct {
	mu          sync.Mutex
	collections map[string]map[string]storage.Document
	order       map[string][]string
	subscribers map[string]map[int]func(storage.ChangeEvent)
	nextSub     int
	offline     bool
	failures    map[string]int
	calls       map[string]int
}

var _ storage.DocumentStore = (*Documents)(nil)

func NewDocuments() *Documents {
	return &Documents{
		collections: make(map[string]map[string]storage.Document),
		order:       make(map[string][]string),
		subscribers: make(map[string]map[int]func(storage.ChangeEvent)),
		failures:    make(map[string]int),
		calls:       make(map[string]int),
	}
}

func (d *Documents) Init(context.Context) error { return nil }
func (d *Documents) Close() error               { return nil }
func (d *Documents) Name() string               { return "memory" }

// SetOffline makes every call fail with storage.ErrUnavailable.
func (d *Documents) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
}

// FailNext makes the next n calls of op ("create", "update", "delete", "list")
// on collection fail with storage.ErrUnavailable.
func (d *Documents) FailNext(op, collection string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op+"/"+collection] = n
}

// Calls returns how many times op was invoked on collection.
func (d *Documents) Calls(op, collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op+"/"+collection]
}

// Count returns the number of documents in collection.
func (d *Documents) Count(collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.collections[collection])
}

func (d *Documents) check(op, collection string) error {
	d.calls[op+"/"+collection]++
	if d.offline {
		return storage.Unavailable(fmt.Errorf("%s %s: offline", op, collection))
	}
	if n := d.failures[op+"/"+collection]; n > 0 {
		d.failures[op+"/"+collection] = n - 1
		return storage.Unavailable(fmt.Errorf("%s %s: injected failure", op, collection))
	}
	return nil
}

func (d *Documents) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return storage.Unavailable(fmt.Errorf("ping: offline"))
	}
	return nil
}

func (d *Documents) Create(_ context.Context, collection, id string, doc storage.Document) error {
	d.mu.Lock()
	if err := d.check("create", collection); err != nil {
		d.mu.Unlock()
		return err
	}
	coll := d.collections[collection]
	if coll == nil {
		coll = make(map[string]storage.Document)
		d.collections[collection] = coll
	}
	if _, exists := coll[id]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", storage.ErrConflict, collection, id)
	}
	stored := normalize(doc)
	stored[constants.FieldID] = id
	coll[id] = stored
	d.order[collection] = append(d.order[collection], id)
	subs := d.subscribersFor(collection)
	d.mu.Unlock()

	publish(subs, storage.ChangeEvent{Channel: collection, Type: storage.EventCreate, ID: id})
	return nil
}

func (d *Documents) Update(_ context.Context, collection, id string, patch storage.Document) error {
	d.mu.Lock()
	if err := d.check("update", collection); err != nil {
		d.mu.Unlock()
		return err
	}
	doc, ok := d.collections[collection][id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	for k, v := range normalize(patch) {
		if k == constants.FieldID {
			continue
		}
		doc[k] = v
	}
	subs := d.subscribersFor(collection)
	d.mu.Unlock()

	publish(subs, storage.ChangeEvent{Channel: collection, Type: storage.EventUpdate, ID: id})
	return nil
}

func (d *Documents) Delete(_ context.Context, collection, id string) error {
	d.mu.Lock()
	if err := d.check("delete", collection); err != nil {
		d.mu.Unlock()
		return err
	}
	if _, ok := d.collections[collection][id]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	delete(d.collections[collection], id)
	ids := d.order[collection]
	for i, existing := range ids {
		if existing == id {
			d.order[collection] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	subs := d.subscribersFor(collection)
	d.mu.Unlock()

	publish(subs, storage.ChangeEvent{Channel: collection, Type: storage.EventDelete, ID: id})
	return nil
}

// List returns matching documents in insertion order.
func (d *Documents) List(_ context.Context, collection string, filters ...storage.Filter) ([]storage.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("list", collection); err != nil {
		return nil, err
	}
	var out []storage.Document
	for _, id := range d.order[collection] {
		doc := d.collections[collection][id]
		if Matches(doc, filters) {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (d *Documents) Subscribe(ctx context.Context, channel string, onEvent func(storage.ChangeEvent)) (func(), error) {
	d.mu.Lock()
	if d.offline {
		d.mu.Unlock()
		return nil, storage.Unavailable(fmt.Errorf("subscribe %s: offline", channel))
	}
	id := d.nextSub
	d.nextSub++
	if d.subscribers[channel] == nil {
		d.subscribers[channel] = make(map[int]func(storage.ChangeEvent))
	}
	d.subscribers[channel][id] = onEvent
	d.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers[channel], id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return unsubscribe, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (d *Documents) Subscribers(channel string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[channel])
}

func (d *Documents) subscribersFor(channel string) []func(storage.ChangeEvent) {
	var subs []func(storage.ChangeEvent)
	for _, fn := range d.subscribers[channel] {
		subs = append(subs, fn)
	}
	return subs
}

// publish delivers asynchronously, like a networked store would.
func publish(subs []func(storage.ChangeEvent), ev storage.ChangeEvent) {
	for _, fn := range subs {
		go fn(ev)
	}
}

// normalize round-trips doc through JSON so stored values have the shapes a
// networked store would hand back.
func normalize(doc storage.Document) storage.Document {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc.Clone()
	}
	out := storage.Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return doc.Clone()
	}
	return out
}

// Matches reports whether doc satisfies every filter.
func Matches(doc storage.Document, filters []storage.Filter) bool {
	for _, f := range filters {
		got := doc.String(f.Field)
		want := fmt.Sprint(f.Value)
		switch f.Op {
		case storage.OpEq:
			if got != want {
				return false
			}
		case storage.OpGte:
			if got < want {
				return false
			}
		default:
			return false
		}
	}
	return true
}
