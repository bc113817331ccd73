package model

// Request bodies accepted by the API. Length bounds that depend on
// configuration are enforced by the domain validators, not by tags.

type CheckinInput struct {
	PlaceID string  `json:"place_id" validate:"required,max=256"`
	Status  string  `json:"status" validate:"required,oneof=available busy"`
	Topic   *string `json:"topic,omitempty"`
}

type MessageRequestInput struct {
	InitiateeID string `json:"initiatee_id" validate:"required,max=128"`
	PlaceID     string `json:"place_id" validate:"required,max=256"`
}

type RespondInput struct {
	Decision string `json:"decision" validate:"required,oneof=accept reject"`
}

type MessageInput struct {
	Content string `json:"content"`
}
