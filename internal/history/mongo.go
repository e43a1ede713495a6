// Package history keeps an append-only audit trail of entity status changes.
package history

import (
	"context"
	"fmt"
	"time"

	"tradehub/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionStatus = "history_status"

type Recorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Connect opens a Mongo client and returns a recorder writing to database
func Connect(ctx context.Context, url, database string) (*Recorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	r := NewRecorder(client, database)
	if _, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "timestamp", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	return r, nil
}

// NewRecorder creates a recorder on an existing client
func NewRecorder(client *mongo.Client, database string) *Recorder {
	return &Recorder{
		client:     client,
		collection: client.Database(database).Collection(CollectionStatus),
	}
}

// Record stores one status change
func (r *Recorder) Record(ctx context.Context, change models.StatusChange) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, change); err != nil {
		return fmt.Errorf("failed to insert history status to mongo: %w", err)
	}
	return nil
}

// List returns the recorded changes of one entity, oldest first
func (r *Recorder) List(ctx context.Context, entityType, entityID string) ([]models.StatusChange, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{"entity_type": entityType, "entity_id": entityID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.StatusChange
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return out, nil
}

// Close disconnects the underlying client
func (r *Recorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
