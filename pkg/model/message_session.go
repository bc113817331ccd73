package model

import "time"

const (
	SessionStatusActive  = "active"
	SessionStatusExpired = "expired"
	SessionStatusClosed  = "closed"
)

type MessageSession struct {
	ID              string     `json:"id" bson:"_id" validate:"required,uuid"`
	PlaceID         string     `json:"place_id" bson:"place_id" validate:"required,max=256"`
	InitiatorID     string     `json:"initiator_id" bson:"initiator_id" validate:"required,max=128"`
	InitiateeID     string     `json:"initiatee_id" bson:"initiatee_id" validate:"required,max=128"`
	SourceRequestID *string    `json:"source_request_id,omitempty" bson:"source_request_id,omitempty" validate:"omitempty,uuid"`
	Status          string     `json:"status" bson:"status" validate:"required,oneof=active expired closed"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at" validate:"required"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty" bson:"last_message_at,omitempty"`
}

func (s *MessageSession) IsParticipant(userID string) bool {
	return userID == s.InitiatorID || userID == s.InitiateeID
}

// Peer returns the other participant.
func (s *MessageSession) Peer(userID string) string {
	if userID == s.InitiatorID {
		return s.InitiateeID
	}
	return s.InitiatorID
}

// ActiveAt is false once the session is closed, swept, or past its expiry
// but not yet swept.
func (s *MessageSession) ActiveAt(now time.Time) bool {
	if s.Status != SessionStatusActive {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}
