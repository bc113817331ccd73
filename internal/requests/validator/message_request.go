package validator

import (
	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type MessageRequestValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewMessageRequestValidator(log *logger.Logger) *MessageRequestValidator {
	log.Info("Message request validator initialized successfully")

	return &MessageRequestValidator{
		validate: validation.New(),
		logger:   log,
	}
}

func (v *MessageRequestValidator) Validate(input *model.MessageRequestInput) error {
	return validation.Struct(v.validate, input)
}

func (v *MessageRequestValidator) ValidateResponse(input *model.RespondInput) error {
	return validation.Struct(v.validate, input)
}
