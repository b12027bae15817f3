package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoEntry is the document stored per key
type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoDB stores values as documents of one collection
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongoDB connects to uri and uses the collection "kv" of database dbName
func ConnectMongoDB(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	if uri == "" || dbName == "" {
		return nil, fmt.Errorf("MongoURI and MongoDatabase must not be empty")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	return &MongoDB{client: client, collection: client.Database(dbName).Collection("kv")}, nil
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Get implements Store
func (m *MongoDB) Get(ctx context.Context, key string) ([]byte, error) {
	var entry mongoEntry
	err := m.collection.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find key '%s': %w", key, err)
	}
	return entry.Value, nil
}

// Set implements Store
func (m *MongoDB) Set(ctx context.Context, key string, value []byte) error {
	entry := mongoEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, entry,
		options.Replace().SetUpsert(true))
	if err != nil {
		var se mongo.ServerError
		// QuotaExceeded, OutOfDiskSpace
		if errors.As(err, &se) && (se.HasErrorCode(12501) || se.HasErrorCode(14031)) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("failed to upsert key '%s': %w", key, err)
	}
	return nil
}

// Delete implements Store
func (m *MongoDB) Delete(ctx context.Context, key string) error {
	_, err := m.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return err
}

// Keys implements Store. The keys are sorted.
func (m *MongoDB) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	cursor, err := m.collection.Find(ctx, filter,
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var entries []mongoEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}
