package validator

import (
	"fmt"
	"unicode/utf8"

	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type CheckinValidator struct {
	validate       *validator.Validate
	maxTopicLength int
	logger         *logger.Logger
}

func NewCheckinValidator(log *logger.Logger, maxTopicLength int) *CheckinValidator {
	log.Info("Checkin validator initialized successfully", "max_topic_length", maxTopicLength)

	return &CheckinValidator{
		validate:       validation.New(),
		maxTopicLength: maxTopicLength,
		logger:         log,
	}
}

// Validate expects input that already went through the sanitizer.
func (v *CheckinValidator) Validate(input *model.CheckinInput) error {
	if err := validation.Struct(v.validate, input); err != nil {
		return err
	}

	if input.Topic != nil && utf8.RuneCountInString(*input.Topic) > v.maxTopicLength {
		return validation.ValidationErrors{
			validation.ValidationError{
				Field:   "topic",
				Message: fmt.Sprintf("topic must be at most %d characters", v.maxTopicLength),
			},
		}
	}

	return nil
}
