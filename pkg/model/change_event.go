package model

import (
	"encoding/json"
	"time"
)

const (
	TableCheckins        = "checkins"
	TableMessageRequests = "message_requests"
	TableMessageSessions = "message_sessions"
	TableMessages        = "messages"
)

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// ChangeEvent is one row mutation as carried on the change feed. Record holds
// the full document for inserts and updates and is empty for deletes.
type ChangeEvent struct {
	EventID    string          `json:"event_id" validate:"required"`
	Table      string          `json:"table" validate:"required,oneof=checkins message_requests message_sessions messages"`
	Type       string          `json:"type" validate:"required,oneof=insert update delete"`
	DocumentID string          `json:"document_id" validate:"required"`
	Record     json.RawMessage `json:"record,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

const (
	FrameSubscribed = "subscribed"
	FrameEvent      = "event"
	FrameError      = "error"
)

// Frame is one server-to-client websocket message on the realtime endpoint.
type Frame struct {
	Type    string       `json:"type"`
	PlaceID string       `json:"place_id,omitempty"`
	Event   *ChangeEvent `json:"event,omitempty"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}
