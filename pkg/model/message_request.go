package model

import (
	"strconv"
	"time"
)

const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
	RequestStatusCanceled = "canceled"
	RequestStatusExpired  = "expired"
)

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

type MessageRequest struct {
	ID          string     `json:"id" bson:"_id" validate:"required,uuid"`
	InitiatorID string     `json:"initiator_id" bson:"initiator_id" validate:"required,max=128"`
	InitiateeID string     `json:"initiatee_id" bson:"initiatee_id" validate:"required,max=128"`
	PlaceID     string     `json:"place_id" bson:"place_id" validate:"required,max=256"`
	PairKey     string     `json:"-" bson:"pair_key"`
	Status      string     `json:"status" bson:"status" validate:"required,oneof=pending accepted rejected canceled expired"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" validate:"required"`
	RespondedAt *time.Time `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
}

func (r *MessageRequest) IsParticipant(userID string) bool {
	return userID == r.InitiatorID || userID == r.InitiateeID
}

func (r *MessageRequest) IsTerminal() bool {
	return r.Status != RequestStatusPending && r.Status != RequestStatusAccepted
}

// PairKey is the same for (a, b) and (b, a). The first id is length
// prefixed, so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}

// RequestResolution is returned by respond and cancel. Session is set only
// when the request was accepted.
type RequestResolution struct {
	Request *MessageRequest `json:"request"`
	Session *MessageSession `json:"session,omitempty"`
}
