package changefeed

import (
	"context"
	"errors"
	"time"

	"herenow/pkg/config"
	mongotx "herenow/pkg/db/mongo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CursorCollectionName = "Feed_cursors"

// CursorStore persists the resume token of the last change that was
// published, keyed by relay id.
type CursorStore interface {
	Load(ctx context.Context, id string) (bson.Raw, error)
	Save(ctx context.Context, id string, token bson.Raw) error
}

type cursorDocument struct {
	ID        string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoCursorStore struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoCursorStore(cfg *config.Config) CursorStore {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoCursorStore{
		cfg:        cfg,
		collection: db.Collection(CursorCollectionName),
	}
}

// Load returns a nil token when the relay has never published.
func (s *mongoCursorStore) Load(ctx context.Context, id string) (bson.Raw, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var doc cursorDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mongotx.StorageError("failed to load feed cursor", err)
	}
	return doc.Token, nil
}

func (s *mongoCursorStore) Save(ctx context.Context, id string, token bson.Raw) error {
	ctx, cancel := mongotx.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"token": token, "updated_at": time.Now().UTC()}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return mongotx.StorageError("failed to save feed cursor", err)
	}
	return nil
}
