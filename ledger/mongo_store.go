package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection   = "users"
	EntriesCollection = "ledger_entries"
)

// MongoStore reads and writes the balance field of the users collection.
type MongoStore struct {
	users *mongo.Collection
}

func NewMongoStore(users *mongo.Collection) *MongoStore {
	return &MongoStore{users: users}
}

func (s *MongoStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user id %q", ErrUserNotFound, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	opts := options.FindOne().SetProjection(bson.M{"balance": 1})
	err = s.users.FindOne(ctx, bson.M{"_id": objID}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return user.Balance, nil
}

// AdjustBalance applies delta with $inc. Debits carry a balance >= amount
// guard in the filter, so concurrent writers from any instance cannot take the
// balance below zero.
func (s *MongoStore) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user id %q", ErrUserNotFound, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{"_id": objID}
	if delta < 0 {
		filter["balance"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"balance": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"balance": 1})

	var user models.User
	err = s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("failed to adjust balance: %w", err)
		}
		// Either the user is gone or the guard did not match.
		balance, readErr := s.ReadBalance(ctx, userID)
		if readErr != nil {
			return 0, readErr
		}
		return balance, ErrInsufficientFunds
	}

	return user.Balance, nil
}

// MongoJournal appends ledger entries to their own collection.
type MongoJournal struct {
	entries *mongo.Collection
}

func NewMongoJournal(entries *mongo.Collection) *MongoJournal {
	return &MongoJournal{entries: entries}
}

func (j *MongoJournal) Record(ctx context.Context, entry models.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if _, err := j.entries.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}
