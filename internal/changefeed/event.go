package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	checkinrepo "herenow/internal/checkins/repository"
	requestrepo "herenow/internal/requests/repository"
	sessionrepo "herenow/internal/sessions/repository"
	"herenow/pkg/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrSkipChange marks a change that carries nothing to publish, such as an
// update whose document was deleted before the lookup ran.
var ErrSkipChange = errors.New("change has nothing to publish")

var tables = map[string]string{
	checkinrepo.CollectionName:        model.TableCheckins,
	requestrepo.CollectionName:        model.TableMessageRequests,
	sessionrepo.SessionCollectionName: model.TableMessageSessions,
	sessionrepo.MessageCollectionName: model.TableMessages,
}

// Collections lists the collections the relay watches.
func Collections() []string {
	return []string{
		checkinrepo.CollectionName,
		requestrepo.CollectionName,
		sessionrepo.SessionCollectionName,
		sessionrepo.MessageCollectionName,
	}
}

// changeDocument is the subset of a change stream event the relay reads.
type changeDocument struct {
	ID            bson.Raw            `bson:"_id"`
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	NS            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	// Null when the document was gone by the time the update was looked up.
	FullDocument bson.RawValue `bson:"fullDocument"`
}

// toEvent converts a change into its feed envelope. The event id is derived
// from the change's resume token, so a change replayed after a relay restart
// keeps the id it was first published with.
func toEvent(change changeDocument) (model.ChangeEvent, error) {
	table, ok := tables[change.NS.Coll]
	if !ok {
		return model.ChangeEvent{}, fmt.Errorf("unwatched collection %q", change.NS.Coll)
	}
	if change.DocumentKey.ID == "" {
		return model.ChangeEvent{}, fmt.Errorf("change on %s has no document id", table)
	}

	event := model.ChangeEvent{
		EventID:    uuid.NewSHA1(uuid.NameSpaceOID, change.ID).String(),
		Table:      table,
		DocumentID: change.DocumentKey.ID,
		OccurredAt: time.Unix(int64(change.ClusterTime.T), 0).UTC(),
	}

	switch change.OperationType {
	case "insert":
		event.Type = model.EventInsert
	case "update", "replace":
		event.Type = model.EventUpdate
	case "delete":
		event.Type = model.EventDelete
		return event, nil
	default:
		return model.ChangeEvent{}, ErrSkipChange
	}

	doc, ok := change.FullDocument.DocumentOK()
	if !ok {
		return model.ChangeEvent{}, ErrSkipChange
	}

	record, err := decodeRecord(table, doc)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to decode %s %s: %w", table, change.DocumentKey.ID, err)
	}
	event.Record = record
	return event, nil
}

// decodeRecord re-encodes a stored document as the JSON shape the API uses.
func decodeRecord(table string, raw bson.Raw) (json.RawMessage, error) {
	var entity any
	switch table {
	case model.TableCheckins:
		entity = &model.Checkin{}
	case model.TableMessageRequests:
		entity = &model.MessageRequest{}
	case model.TableMessageSessions:
		entity = &model.MessageSession{}
	case model.TableMessages:
		entity = &model.Message{}
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}

	if err := bson.Unmarshal(raw, entity); err != nil {
		return nil, err
	}
	return json.Marshal(entity)
}
