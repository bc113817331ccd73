package repository

import (
	"context"

	"herenow/pkg/config"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MessageCollectionName = "Messages"
)

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindBySession(ctx context.Context, sessionID string, limit int, offset int64) ([]*model.Message, error)
}

type mongoMessageRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoMessageRepository(cfg *config.Config) MessageRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoMessageRepository{
		cfg:        cfg,
		collection: db.Collection(MessageCollectionName),
	}
}

func (r *mongoMessageRepository) Create(ctx context.Context, message *model.Message) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, message); err != nil {
		return mongotx.StorageError("failed to create message", err)
	}
	return nil
}

// FindBySession returns messages oldest first.
func (r *mongoMessageRepository) FindBySession(ctx context.Context, sessionID string, limit int, offset int64) ([]*model.Message, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(offset).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, mongotx.StorageError("failed to find messages", err)
	}
	defer cursor.Close(ctx)

	messages := []*model.Message{}
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, mongotx.StorageError("failed to decode messages", err)
	}
	return messages, nil
}
