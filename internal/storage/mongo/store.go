// Package mongo implements the remote document store on MongoDB.
// Realtime change events come from change streams, which need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/storage"
)

const connectTimeout = 10 * time.Second

type Store struct {
	uri    string
	dbName string
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.DocumentStore = (*Store)(nil)

func New(uri, dbName string) *Store {
	if dbName == "" {
		dbName = constants.DefaultRemoteDatabase
	}
	return &Store{uri: uri, dbName: dbName}
}

func (s *Store) Name() string {
	return "mongodb"
}

// Init connects and creates the indexes the engine filters on.
func (s *Store) Init(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return storage.Unavailable(fmt.Errorf("error connecting to MongoDB: %v", err))
	}
	s.client = client
	s.db = client.Database(s.dbName)

	if err := s.Ping(connectCtx); err != nil {
		return err
	}

	indexes := map[string][]mongo.IndexModel{
		constants.CollectionHabits: {
			{Keys: bson.D{{Key: constants.FieldOwnerID, Value: 1}}},
		},
		constants.CollectionCompletions: {
			{Keys: bson.D{{Key: constants.FieldOwnerID, Value: 1}, {Key: constants.FieldCompletedAt, Value: 1}}},
			{Keys: bson.D{{Key: constants.FieldHabitID, Value: 1}}},
		},
		constants.CollectionAccounts: {
			{Keys: bson.D{{Key: constants.FieldEmail, Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(connectCtx, models); err != nil {
			return fmt.Errorf("error creating %s indexes: %w", collection, classify(err))
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return storage.ErrNotInitialized
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		return storage.Unavailable(fmt.Errorf("error pinging MongoDB: %v", err))
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Create(ctx context.Context, collection, id string, doc storage.Document) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	_, err := s.db.Collection(collection).InsertOne(ctx, toBSON(id, doc))
	return classify(err)
}

func (s *Store) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	set := bson.M{}
	for k, v := range patch {
		if k == constants.FieldID {
			continue
		}
		set[k] = v
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return storage.ErrNotInitialized
	}
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string, filters ...storage.Filter) ([]storage.Document, error) {
	if s.db == nil {
		return nil, storage.ErrNotInitialized
	}
	query, err := buildFilter(filters)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(collection).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, classify(err)
	}

	docs := make([]storage.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, channel string, onEvent func(storage.ChangeEvent)) (func(), error) {
	if s.db == nil {
		return nil, storage.ErrNotInitialized
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.db.Collection(channel).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change struct {
				OperationType string `bson:"operationType"`
				DocumentKey   struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := stream.Decode(&change); err != nil {
				logger.Warn("Ignoring change stream event", "channel", channel, "error", err)
				continue
			}
			ev, ok := changeEvent(channel, change.OperationType, change.DocumentKey.ID)
			if !ok {
				continue
			}
			onEvent(ev)
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Change stream closed", "channel", channel, "error", err)
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

// changeEvent maps a change stream operation type to a change event.
func changeEvent(channel, operationType, id string) (storage.ChangeEvent, bool) {
	ev := storage.ChangeEvent{Channel: channel, ID: id}
	switch operationType {
	case "insert":
		ev.Type = storage.EventCreate
	case "update", "replace":
		ev.Type = storage.EventUpdate
	case "delete":
		ev.Type = storage.EventDelete
	case "drop", "rename", "invalidate":
		ev.Type = storage.EventResync
	default:
		return storage.ChangeEvent{}, false
	}
	return ev, true
}

func buildFilter(filters []storage.Filter) (bson.M, error) {
	query := bson.M{}
	for _, f := range filters {
		field := f.Field
		if field == constants.FieldID {
			field = "_id"
		}
		switch f.Op {
		case storage.OpEq:
			query[field] = f.Value
		case storage.OpGte:
			cond, _ := query[field].(bson.M)
			if cond == nil {
				cond = bson.M{}
			}
			cond["$gte"] = f.Value
			query[field] = cond
		default:
			return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return query, nil
}

func toBSON(id string, doc storage.Document) bson.M {
	m := bson.M{"_id": id}
	for k, v := range doc {
		if k == constants.FieldID {
			continue
		}
		m[k] = v
	}
	return m
}

func fromBSON(m bson.M) storage.Document {
	doc := storage.Document{}
	for k, v := range m {
		if k == "_id" {
			doc[constants.FieldID] = fmt.Sprint(v)
			continue
		}
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case bson.M:
		return fromBSON(val)
	default:
		return v
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Code == 18) {
		return fmt.Errorf("%w: %v", storage.ErrUnauthorized, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return storage.Unavailable(err)
	}
	return err
}
