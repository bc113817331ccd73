package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"herenow/internal/changefeed"
	checkinsRepo "herenow/internal/checkins/repository"
	"herenow/internal/migrations/mongo/validators"
	requestsRepo "herenow/internal/requests/repository"
	sessionsRepo "herenow/internal/sessions/repository"
	"herenow/pkg/logger"
)

var (
	// At most one active checkin per user. CheckIn relies on the duplicate
	// key error from this index when two checkins race.
	CheckinsIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName("one_active_checkin_per_user").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}),
		},
		{Keys: bson.D{
			{Key: "place_id", Value: 1},
			{Key: "is_active", Value: 1},
			{Key: "created_at", Value: -1},
		}},
	}

	// One pending request per unordered pair and place.
	MessageRequestsIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}, {Key: "place_id", Value: 1}},
			Options: options.Index().
				SetName("one_pending_request_per_pair").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "pending"}),
		},
		{Keys: bson.D{{Key: "place_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	}

	// A request produces at most one session.
	MessageSessionsIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "source_request_id", Value: 1}},
			Options: options.Index().
				SetName("one_session_per_request").
				SetUnique(true).
				SetSparse(true),
		},
		{Keys: bson.D{{Key: "place_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	}

	MessagesIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}}},
	}
)

type CollectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

func Collections() map[string]CollectionDef {
	return map[string]CollectionDef{
		checkinsRepo.CollectionName: {
			Indexes:   CheckinsIndexes,
			Validator: validators.CheckinValidator,
		},
		requestsRepo.CollectionName: {
			Indexes:   MessageRequestsIndexes,
			Validator: validators.MessageRequestValidator,
		},
		sessionsRepo.SessionCollectionName: {
			Indexes:   MessageSessionsIndexes,
			Validator: validators.MessageSessionValidator,
		},
		sessionsRepo.MessageCollectionName: {
			Indexes:   MessagesIndexes,
			Validator: validators.MessageValidator,
		},
		changefeed.CursorCollectionName: {},
	}
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	for name, def := range Collections() {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if len(def.Indexes) == 0 {
			continue
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection()
		if validator != nil {
			opts.SetValidator(validator)
		}
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	if validator == nil {
		return nil
	}
	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	coll := db.Collection(name)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
