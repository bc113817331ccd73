package validator

import (
	"fmt"
	"unicode/utf8"

	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/validation"
)

type MessageValidator struct {
	maxLength int
	logger    *logger.Logger
}

func NewMessageValidator(log *logger.Logger, maxLength int) *MessageValidator {
	log.Info("Message validator initialized successfully", "max_length", maxLength)

	return &MessageValidator{
		maxLength: maxLength,
		logger:    log,
	}
}

// Validate expects content that was already trimmed.
func (v *MessageValidator) Validate(input *model.MessageInput) error {
	n := utf8.RuneCountInString(input.Content)
	switch {
	case n == 0:
		return validation.ValidationErrors{
			{Field: "content", Message: "content is required"},
		}
	case n > v.maxLength:
		return validation.ValidationErrors{
			{Field: "content", Message: fmt.Sprintf("content must be at most %d characters", v.maxLength)},
		}
	}
	return nil
}
