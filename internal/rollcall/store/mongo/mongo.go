// Package mongo persists the attendance list as a single document in a
// MongoDB collection, keyed by store.Key.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

const CollectionName = "kv_store"

// ErrNotFound is returned by a Collection when the key has no document.
var ErrNotFound = errors.New("document not found")

// Document is the stored shape: {_id: key, records: [...], updated_at: ...}.
type Document struct {
	Key       string                   `bson:"_id"`
	Records   []types.AttendanceRecord `bson:"records"`
	UpdatedAt time.Time                `bson:"updated_at"`
}

// ---- Abstractions for Testability ----

// Collection is the slice of *mongo.Collection the store needs.
type Collection interface {
	FindDocument(ctx context.Context, key string) (Document, error)
	ReplaceDocument(ctx context.Context, doc Document) error
}

// MongoCollection adapts *mongo.Collection to Collection.
type MongoCollection struct {
	*mongo.Collection
}

func (c *MongoCollection) FindDocument(ctx context.Context, key string) (Document, error) {
	var doc Document
	err := c.Collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to perform FindOne: %w", err)
	}
	return doc, nil
}

func (c *MongoCollection) ReplaceDocument(ctx context.Context, doc Document) error {
	_, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to perform ReplaceOne: %w", err)
	}
	return nil
}

// Store implements store.Persister on top of a Collection.
type Store struct {
	coll Collection
	now  func() time.Time
}

func New(coll Collection) *Store {
	return &Store{coll: coll, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Load(ctx context.Context) ([]types.AttendanceRecord, error) {
	doc, err := s.coll.FindDocument(ctx, store.Key)
	if errors.Is(err, ErrNotFound) {
		return []types.AttendanceRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Records == nil {
		return []types.AttendanceRecord{}, nil
	}
	return doc.Records, nil
}

func (s *Store) Save(ctx context.Context, records []types.AttendanceRecord) error {
	if records == nil {
		records = []types.AttendanceRecord{}
	}
	return s.coll.ReplaceDocument(ctx, Document{
		Key:       store.Key,
		Records:   records,
		UpdatedAt: s.now(),
	})
}

// Connect establishes a connection to MongoDB and verifies it with a ping.
func Connect(ctx context.Context, uri string, logger *slog.Logger) (*mongo.Client, error) {
	logger.DebugContext(ctx, "connecting to MongoDB", "uri", uri)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.InfoContext(ctx, "connected to MongoDB")
	return client, nil
}

// NewFromClient returns a Store on <database>.kv_store.
func NewFromClient(client *mongo.Client, database string) *Store {
	return New(&MongoCollection{client.Database(database).Collection(CollectionName)})
}
