package repository

import (
	"context"
	"errors"
	"time"

	requestserrors "herenow/internal/requests/errors"
	"herenow/pkg/config"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Message_requests"
)

type MessageRequestRepository interface {
	Create(ctx context.Context, req *model.MessageRequest) error
	FindByID(ctx context.Context, id string) (*model.MessageRequest, error)
	Resolve(ctx context.Context, id string, status string, at time.Time) error
	ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error)
	FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageRequest, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoMessageRequestRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoMessageRequestRepository(cfg *config.Config) MessageRequestRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoMessageRequestRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// Create relies on the partial unique index {pair_key, place_id} where
// status=pending.
func (r *mongoMessageRequestRepository) Create(ctx context.Context, req *model.MessageRequest) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, req); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return requestserrors.ErrAlreadyPending
		}
		return mongotx.StorageError("failed to create message request", err)
	}
	return nil
}

func (r *mongoMessageRequestRepository) FindByID(ctx context.Context, id string) (*model.MessageRequest, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var req model.MessageRequest
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, requestserrors.ErrNotFound
		}
		return nil, mongotx.StorageError("failed to find message request", err)
	}
	return &req, nil
}

// Resolve moves a pending request to status. It matches nothing, and
// returns ErrNotPending, once any other transition has won.
func (r *mongoMessageRequestRepository) Resolve(ctx context.Context, id string, status string, at time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": model.RequestStatusPending}
	update := bson.M{
		"$set": bson.M{
			"status":       status,
			"responded_at": at,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongotx.StorageError("failed to resolve message request", err)
	}
	if result.MatchedCount == 0 {
		return requestserrors.ErrNotPending
	}
	return nil
}

func (r *mongoMessageRequestRepository) ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.RequestStatusPending,
		"created_at": bson.M{"$lt": createdBefore},
	}
	update := bson.M{"$set": bson.M{"status": model.RequestStatusExpired}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, mongotx.StorageError("failed to expire message requests", err)
	}
	return result.ModifiedCount, nil
}

func (r *mongoMessageRequestRepository) FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageRequest, error) {
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
		return nil, mongotx.StorageError("failed to find message requests", err)
	}
	defer cursor.Close(ctx)

	requests := []*model.MessageRequest{}
	if err = cursor.All(ctx, &requests); err != nil {
		return nil, mongotx.StorageError("failed to decode message requests", err)
	}
	return requests, nil
}

func (r *mongoMessageRequestRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
