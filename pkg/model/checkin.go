package model

import "time"

const (
	CheckinStatusAvailable = "available"
	CheckinStatusBusy      = "busy"
)

type Checkin struct {
	ID           string     `json:"id" bson:"_id" validate:"required,uuid"`
	UserID       string     `json:"user_id" bson:"user_id" validate:"required,max=128"`
	PlaceID      string     `json:"place_id" bson:"place_id" validate:"required,max=256"`
	Status       string     `json:"status" bson:"status" validate:"required,oneof=available busy"`
	Topic        *string    `json:"topic,omitempty" bson:"topic,omitempty" validate:"omitempty,max=100"`
	IsActive     bool       `json:"is_active" bson:"is_active"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at" validate:"required"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty" bson:"checked_out_at,omitempty"`
}

// CurrentAt reports whether the checkin still counts for discovery at now.
func (c *Checkin) CurrentAt(now time.Time, relevance time.Duration) bool {
	return c.IsActive && !c.CreatedAt.Before(now.Add(-relevance))
}
