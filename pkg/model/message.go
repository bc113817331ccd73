package model

import "time"

type Message struct {
	ID          string    `json:"id" bson:"_id" validate:"required,uuid"`
	SessionID   string    `json:"session_id" bson:"session_id" validate:"required,uuid"`
	SenderID    string    `json:"sender_id" bson:"sender_id" validate:"required,max=128"`
	RecipientID string    `json:"recipient_id" bson:"recipient_id" validate:"required,max=128"`
	PlaceID     string    `json:"place_id" bson:"place_id" validate:"required,max=256"`
	Content     string    `json:"content" bson:"content" validate:"required,max=2000"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at" validate:"required"`
}
