package repository

import (
	"context"
	"errors"
	"time"

	checkinserrors "herenow/internal/checkins/errors"
	"herenow/pkg/config"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Checkins"
)

type CheckinRepository interface {
	Create(ctx context.Context, checkin *model.Checkin) error
	DeactivateActive(ctx context.Context, userID string, at time.Time) (int64, error)
	FindCurrent(ctx context.Context, userID string, placeID string, since time.Time) (*model.Checkin, error)
	FindCurrentByPlace(ctx context.Context, placeID string, since time.Time, limit int) ([]*model.Checkin, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoCheckinRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoCheckinRepository(cfg *config.Config) CheckinRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoCheckinRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// Create relies on the partial unique index {user_id} where is_active=true;
// a duplicate key means another checkin for the user won the race.
func (r *mongoCheckinRepository) Create(ctx context.Context, checkin *model.Checkin) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, checkin); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return checkinserrors.ErrActiveExists
		}
		return mongotx.StorageError("failed to create checkin", err)
	}
	return nil
}

func (r *mongoCheckinRepository) DeactivateActive(ctx context.Context, userID string, at time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"user_id": userID, "is_active": true}
	update := bson.M{
		"$set": bson.M{
			"is_active":      false,
			"checked_out_at": at,
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, mongotx.StorageError("failed to deactivate checkins", err)
	}
	return result.ModifiedCount, nil
}

func (r *mongoCheckinRepository) FindCurrent(ctx context.Context, userID string, placeID string, since time.Time) (*model.Checkin, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"user_id":    userID,
		"place_id":   placeID,
		"is_active":  true,
		"created_at": bson.M{"$gte": since},
	}

	var checkin model.Checkin
	if err := r.collection.FindOne(ctx, filter).Decode(&checkin); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, checkinserrors.ErrNotFound
		}
		return nil, mongotx.StorageError("failed to find checkin", err)
	}
	return &checkin, nil
}

func (r *mongoCheckinRepository) FindCurrentByPlace(ctx context.Context, placeID string, since time.Time, limit int) ([]*model.Checkin, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"place_id":   placeID,
		"is_active":  true,
		"created_at": bson.M{"$gte": since},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongotx.StorageError("failed to find checkins", err)
	}
	defer cursor.Close(ctx)

	checkins := []*model.Checkin{}
	if err = cursor.All(ctx, &checkins); err != nil {
		return nil, mongotx.StorageError("failed to decode checkins", err)
	}
	return checkins, nil
}

func (r *mongoCheckinRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
