package handler

import (
	"net/http"

	"herenow/internal/sessions/service"
	httputil "herenow/pkg/http"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type MessageSessionHandler struct {
	service  service.MessageSessionService
	identity identity.Provider
	log      *logger.Logger
}

func NewMessageSessionHandler(service service.MessageSessionService, identity identity.Provider, log *logger.Logger) *MessageSessionHandler {
	return &MessageSessionHandler{
		service:  service,
		identity: identity,
		log:      log,
	}
}

func (h *MessageSessionHandler) SendMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "SendMessage", err)
		return
	}

	var input model.MessageInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		h.writeError(w, "SendMessage", err)
		return
	}

	message, err := h.service.SendMessage(r.Context(), ps.ByName("id"), userID, &input)
	if err != nil {
		h.writeError(w, "SendMessage", err)
		return
	}

	if err := httputil.WriteCreated(w, message); err != nil {
		h.log.Error("failed to write created response", "handler", "SendMessage", "operation", "WriteCreated", "error", err)
	}
}

func (h *MessageSessionHandler) Close(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "Close", err)
		return
	}

	if err := h.service.Close(r.Context(), ps.ByName("id"), userID); err != nil {
		h.writeError(w, "Close", err)
		return
	}

	_ = httputil.WriteNoContent(w)
}

func (h *MessageSessionHandler) ListForUser(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "ListForUser", err)
		return
	}

	limit, _, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListForUser", err)
		return
	}

	sessions, err := h.service.ListForUser(r.Context(), userID, ps.ByName("placeId"), limit)
	if err != nil {
		h.writeError(w, "ListForUser", err)
		return
	}

	if err := httputil.WriteSuccess(w, sessions); err != nil {
		h.log.Error("failed to write success response", "handler", "ListForUser", "operation", "WriteSuccess", "error", err)
	}
}

func (h *MessageSessionHandler) ListMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "ListMessages", err)
		return
	}

	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListMessages", err)
		return
	}

	messages, err := h.service.ListMessages(r.Context(), ps.ByName("id"), userID, limit, offset)
	if err != nil {
		h.writeError(w, "ListMessages", err)
		return
	}

	if err := httputil.WritePaginated(w, messages, limit, int(offset)); err != nil {
		h.log.Error("failed to write paginated response", "handler", "ListMessages", "operation", "WritePaginated", "error", err)
	}
}

func (h *MessageSessionHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/sessions/:id/messages", h.SendMessage)
	router.GET("/api/v1/sessions/:id/messages", h.ListMessages)
	router.POST("/api/v1/sessions/:id/close", h.Close)
	router.GET("/api/v1/places/:placeId/sessions", h.ListForUser)
}

func (h *MessageSessionHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
