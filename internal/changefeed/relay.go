// Package changefeed turns Mongo change streams on the protocol collections
// into ChangeEvents on a Kafka topic. Delivery is at least once: the resume
// token is saved only after the broker acknowledged the event, so a crash
// between the two replays the change with the same event id.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/kafka"
	"herenow/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const source = "proximity-relay"

type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// ChangeStream is the part of *mongo.ChangeStream the relay drives.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// StreamOpener opens a change stream that starts after resumeAfter, or at
// the current time when resumeAfter is nil.
type StreamOpener func(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error)

// MongoStreamOpener watches the protocol collections of db with full
// documents looked up for updates.
func MongoStreamOpener(db *mongo.Database) StreamOpener {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"ns.coll":       bson.M{"$in": Collections()},
			"operationType": bson.M{"$in": []string{"insert", "update", "replace", "delete"}},
		}}},
	}

	return func(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if len(resumeAfter) > 0 {
			opts.SetResumeAfter(resumeAfter)
		}
		stream, err := db.Watch(ctx, pipeline, opts)
		if err != nil {
			return nil, mongotx.StorageError("failed to open change stream", err)
		}
		return stream, nil
	}
}

type Relay struct {
	open       StreamOpener
	publisher  Publisher
	cursors    CursorStore
	cursorID   string
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

func NewRelay(open StreamOpener, publisher Publisher, cursors CursorStore, cursorID string, log *logger.Logger) *Relay {
	return &Relay{
		open:      open,
		publisher: publisher,
		cursors:   cursors,
		cursorID:  cursorID,
		log:       log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 15 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run relays changes until ctx is canceled, reopening the stream from the
// last saved token whenever it fails.
func (r *Relay) Run(ctx context.Context) error {
	restart := r.newBackOff()

	for {
		published, err := r.relay(ctx)
		if ctx.Err() != nil {
			r.log.Info("Relay stopped", "cursor_id", r.cursorID)
			return nil
		}
		if published > 0 {
			restart.Reset()
		}

		wait := restart.NextBackOff()
		r.log.Warn("Change stream interrupted, reopening", "cursor_id", r.cursorID, "retry_in", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// relay drains one stream and returns how many events it published.
func (r *Relay) relay(ctx context.Context) (int, error) {
	token, err := r.cursors.Load(ctx, r.cursorID)
	if err != nil {
		return 0, err
	}

	stream, err := r.open(ctx, token)
	if err != nil {
		return 0, err
	}
	defer stream.Close(context.WithoutCancel(ctx))

	r.log.Info("Change stream opened", "cursor_id", r.cursorID, "resumed", len(token) > 0)

	published := 0
	for stream.Next(ctx) {
		var change changeDocument
		if err := stream.Decode(&change); err != nil {
			r.log.Error("Undecodable change skipped", "error", err)
		} else if err := r.forward(ctx, change); err != nil {
			if !errors.Is(err, errNotPublished) {
				return published, err
			}
		} else {
			published++
		}

		if err := r.cursors.Save(ctx, r.cursorID, stream.ResumeToken()); err != nil {
			return published, err
		}
	}

	if err := stream.Err(); err != nil {
		return published, mongotx.StorageError("change stream failed", err)
	}
	return published, errors.New("change stream closed")
}

// errNotPublished means the change was dropped and its token may be saved.
var errNotPublished = errors.New("change not published")

func (r *Relay) forward(ctx context.Context, change changeDocument) error {
	event, err := toEvent(change)
	if errors.Is(err, ErrSkipChange) {
		r.log.Debug("Change skipped", "collection", change.NS.Coll, "operation", change.OperationType)
		return errNotPublished
	}
	if err != nil {
		r.log.Error("Change could not be converted", "collection", change.NS.Coll, "error", err)
		return errNotPublished
	}

	msg, err := kafka.NewMessage().
		WithKey(event.DocumentID).
		WithEventID(event.EventID).
		WithEventType(event.Type).
		WithTable(event.Table).
		WithSource(source).
		WithTimestamp(event.OccurredAt).
		WithValue(event).
		Build()
	if err != nil {
		r.log.Error("Change could not be encoded", "event_id", event.EventID, "error", err)
		return errNotPublished
	}

	publish := func() error {
		err := r.publisher.Publish(ctx, msg)
		if err != nil && kafka.ClassifyError(err) != kafka.ErrorTypeTransient {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), 5), ctx)); err != nil {
		return fmt.Errorf("failed to publish %s %s: %w", event.Table, event.DocumentID, err)
	}
	return nil
}
