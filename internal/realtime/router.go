package realtime

import (
	"context"

	"herenow/pkg/kafka"
	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/validation"

	"github.com/go-playground/validator/v10"
)

// Router is the change-feed consumer handler of a gateway instance.
type Router struct {
	hub      *Hub
	validate *validator.Validate
	log      *logger.Logger
}

func NewRouter(hub *Hub, log *logger.Logger) *Router {
	return &Router{
		hub:      hub,
		validate: validation.New(),
		log:      log,
	}
}

// Handle decodes one feed record and publishes it to the hub. Malformed
// records fail permanently so the consumer commits past them.
func (r *Router) Handle(ctx context.Context, msg kafka.Message) error {
	var event model.ChangeEvent
	if err := msg.DecodeValue(&event); err != nil {
		return kafka.NewPermanentError("undecodable change event", err)
	}
	if err := validation.Struct(r.validate, &event); err != nil {
		return kafka.NewPermanentError("invalid change event", err)
	}
	if event.Type != model.EventDelete && len(event.Record) == 0 {
		return kafka.NewPermanentError("change event without record", nil)
	}

	delivered := r.hub.Publish(event)
	r.log.Debug("Change event routed",
		"event_id", event.EventID,
		"table", event.Table,
		"type", event.Type,
		"document_id", event.DocumentID,
		"delivered", delivered,
	)
	return nil
}
