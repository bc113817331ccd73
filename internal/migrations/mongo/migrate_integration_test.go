//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"herenow/pkg/logger"
	"herenow/pkg/model"
)

// Run with a replica set at MONGO_URI:
//
//	go test -tags integration ./internal/migrations/...
func connect(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/?replicaSet=rs0"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}

	dbName := "herenow_migrate_" + uuid.NewString()[:8]
	if err := RunMigration(ctx, client, dbName, logger.Discard()); err != nil {
		t.Fatalf("RunMigration() error = %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return client.Database(dbName)
}

func TestMigration_OneActiveCheckinPerUser(t *testing.T) {
	db := connect(t)
	ctx := context.Background()
	coll := db.Collection("Checkins")

	checkin := func(active bool) bson.M {
		return bson.M{
			"_id": uuid.NewString(), "user_id": "u1", "place_id": "p1",
			"status": "available", "is_active": active, "created_at": time.Now(),
		}
	}

	if _, err := coll.InsertOne(ctx, checkin(true)); err != nil {
		t.Fatalf("first active checkin: %v", err)
	}
	if _, err := coll.InsertOne(ctx, checkin(true)); !mongo.IsDuplicateKeyError(err) {
		t.Errorf("second active checkin error = %v, want duplicate key", err)
	}
	if _, err := coll.InsertOne(ctx, checkin(false)); err != nil {
		t.Errorf("inactive history row rejected: %v", err)
	}
}

func TestMigration_OnePendingRequestPerPair(t *testing.T) {
	db := connect(t)
	ctx := context.Background()
	coll := db.Collection("Message_requests")

	request := func(status string) bson.M {
		return bson.M{
			"_id": uuid.NewString(), "initiator_id": "a", "initiatee_id": "b", "place_id": "p1",
			"pair_key": model.PairKey("a", "b"), "status": status, "created_at": time.Now(),
		}
	}

	if _, err := coll.InsertOne(ctx, request("pending")); err != nil {
		t.Fatalf("first pending request: %v", err)
	}
	if _, err := coll.InsertOne(ctx, request("pending")); !mongo.IsDuplicateKeyError(err) {
		t.Errorf("second pending request error = %v, want duplicate key", err)
	}
	if _, err := coll.InsertOne(ctx, request("rejected")); err != nil {
		t.Errorf("resolved request rejected: %v", err)
	}
}

func TestMigration_ValidatorRejectsUnknownStatus(t *testing.T) {
	db := connect(t)

	_, err := db.Collection("Message_sessions").InsertOne(context.Background(), bson.M{
		"_id": uuid.NewString(), "place_id": "p1", "initiator_id": "a", "initiatee_id": "b",
		"status": "paused", "created_at": time.Now(),
	})
	if err == nil {
		t.Error("document with unknown status should fail validation")
	}
}

func TestMigration_Idempotent(t *testing.T) {
	db := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := RunMigration(ctx, db.Client(), db.Name(), logger.Discard()); err != nil {
		t.Errorf("second RunMigration() error = %v", err)
	}
}
