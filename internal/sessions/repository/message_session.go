package repository

import (
	"context"
	"errors"
	"time"

	sessionserrors "herenow/internal/sessions/errors"
	"herenow/pkg/config"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	SessionCollectionName = "Message_sessions"
)

type MessageSessionRepository interface {
	Create(ctx context.Context, session *model.MessageSession) error
	FindByID(ctx context.Context, id string) (*model.MessageSession, error)
	Close(ctx context.Context, id string, at time.Time) error
	Touch(ctx context.Context, id string, now time.Time) error
	ExpireActive(ctx context.Context, now time.Time) (int64, error)
	FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageSession, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoMessageSessionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoMessageSessionRepository(cfg *config.Config) MessageSessionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoMessageSessionRepository{
		cfg:        cfg,
		collection: db.Collection(SessionCollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// Create relies on the unique sparse index on source_request_id.
func (r *mongoMessageSessionRepository) Create(ctx context.Context, session *model.MessageSession) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sessionserrors.ErrDuplicateSource
		}
		return mongotx.StorageError("failed to create message session", err)
	}
	return nil
}

func (r *mongoMessageSessionRepository) FindByID(ctx context.Context, id string) (*model.MessageSession, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var session model.MessageSession
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sessionserrors.ErrNotFound
		}
		return nil, mongotx.StorageError("failed to find message session", err)
	}
	return &session, nil
}

func (r *mongoMessageSessionRepository) Close(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": model.SessionStatusActive}
	update := bson.M{
		"$set": bson.M{
			"status":    model.SessionStatusClosed,
			"closed_at": at,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongotx.StorageError("failed to close message session", err)
	}
	if result.MatchedCount == 0 {
		return sessionserrors.ErrNotActive
	}
	return nil
}

// Touch stamps last_message_at on a session that is still active and not
// past its expiry. Inside the send transaction it conflicts with a
// concurrent close, so a message never lands in a closed session.
func (r *mongoMessageSessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":    id,
		"status": model.SessionStatusActive,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
	update := bson.M{"$set": bson.M{"last_message_at": now}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongotx.StorageError("failed to touch message session", err)
	}
	if result.MatchedCount == 0 {
		return sessionserrors.ErrNotActive
	}
	return nil
}

func (r *mongoMessageSessionRepository) ExpireActive(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.SessionStatusActive,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{"status": model.SessionStatusExpired}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, mongotx.StorageError("failed to expire message sessions", err)
	}
	return result.ModifiedCount, nil
}

func (r *mongoMessageSessionRepository) FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageSession, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"place_id": placeID,
		"$or": bson.A{
			bson.M{"initiator_id": userID},
			bson.M{"initiatee_id": userID},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongotx.StorageError("failed to find message sessions", err)
	}
	defer cursor.Close(ctx)

	sessions := []*model.MessageSession{}
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, mongotx.StorageError("failed to decode message sessions", err)
	}
	return sessions, nil
}

func (r *mongoMessageSessionRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
