package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"quotehub/internal/domain/model"
)

// mongoEntry is the stored document. expires_at carries a TTL index.
type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	TTLMillis int64     `bson:"ttl_ms"`
	StoredAt  time.Time `bson:"stored_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

func toMongoEntry(e model.CacheEntry) mongoEntry {
	return mongoEntry{
		Key:       e.Key,
		Value:     e.Value,
		TTLMillis: e.TTL.Milliseconds(),
		StoredAt:  e.StoredAt.UTC(),
		ExpiresAt: e.ExpiresAt().UTC(),
	}
}

func (d mongoEntry) toModel() model.CacheEntry {
	return model.CacheEntry{
		Key:      d.Key,
		Value:    d.Value,
		TTL:      time.Duration(d.TTLMillis) * time.Millisecond,
		StoredAt: d.StoredAt,
		Tier:     model.TierMongo,
	}
}

type MongoAdapter struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

func NewMongoAdapter(ctx context.Context, uri, database, collection string) (*MongoAdapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	// The TTL monitor runs about once a minute, so reads still check expiry.
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create ttl index: %w", err)
	}

	return &MongoAdapter{client: client, coll: coll, now: time.Now}, nil
}

func (a *MongoAdapter) Tier() model.CacheTier { return model.TierMongo }

func (a *MongoAdapter) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	var doc mongoEntry
	err := a.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s from mongo: %w", key, err)
	}
	if !a.now().Before(doc.ExpiresAt) {
		return nil, nil
	}
	entry := doc.toModel()
	return &entry, nil
}

func (a *MongoAdapter) Set(ctx context.Context, entry model.CacheEntry) error {
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": entry.Key}, toMongoEntry(entry), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s in mongo: %w", entry.Key, err)
	}
	return nil
}

func (a *MongoAdapter) Delete(ctx context.Context, key string) error {
	if _, err := a.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s from mongo: %w", key, err)
	}
	return nil
}

func (a *MongoAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *MongoAdapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}
