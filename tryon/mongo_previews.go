package tryon

import (
	"context"
	"fmt"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const PreviewsCollection = "tryons"

// MongoPreviewCollection stores published previews in the tryons collection.
type MongoPreviewCollection struct {
	coll *mongo.Collection
}

func NewMongoPreviewCollection(coll *mongo.Collection) *MongoPreviewCollection {
	return &MongoPreviewCollection{coll: coll}
}

// Append inserts the item. Inserting the same task id twice is rejected by the
// unique index created in EnsureIndexes.
func (c *MongoPreviewCollection) Append(ctx context.Context, item models.PreviewItem) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	if _, err := c.coll.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert preview: %w", err)
	}
	return nil
}

// EnsureIndexes makes task_id unique and speeds up gallery listing.
func (c *MongoPreviewCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create preview indexes: %w", err)
	}
	return nil
}

// List returns one page of a user's previews, newest first, and the total count.
func (c *MongoPreviewCollection) List(ctx context.Context, userID string, page, limit int) ([]models.PreviewItem, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{"user_id": userID, "is_deleted": bson.M{"$ne": true}}

	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count previews: %w", err)
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}}) // Show latest first
	findOptions.SetSkip(int64((page - 1) * limit))
	findOptions.SetLimit(int64(limit))

	cursor, err := c.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find previews: %w", err)
	}
	defer cursor.Close(ctx)

	items := []models.PreviewItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, fmt.Errorf("failed to decode previews: %w", err)
	}
	return items, total, nil
}
