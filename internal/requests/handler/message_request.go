package handler

import (
	"net/http"

	"herenow/internal/requests/service"
	httputil "herenow/pkg/http"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type MessageRequestHandler struct {
	service  service.MessageRequestService
	identity identity.Provider
	log      *logger.Logger
}

func NewMessageRequestHandler(service service.MessageRequestService, identity identity.Provider, log *logger.Logger) *MessageRequestHandler {
	return &MessageRequestHandler{
		service:  service,
		identity: identity,
		log:      log,
	}
}

func (h *MessageRequestHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	var input model.MessageRequestInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	req, err := h.service.Create(r.Context(), userID, &input)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, req); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *MessageRequestHandler) Respond(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "Respond", err)
		return
	}

	var input model.RespondInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		h.writeError(w, "Respond", err)
		return
	}

	resolution, err := h.service.Respond(r.Context(), ps.ByName("id"), userID, &input)
	if err != nil {
		h.writeError(w, "Respond", err)
		return
	}

	if err := httputil.WriteSuccess(w, resolution); err != nil {
		h.log.Error("failed to write success response", "handler", "Respond", "operation", "WriteSuccess", "error", err)
	}
}

func (h *MessageRequestHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	resolution, err := h.service.Cancel(r.Context(), ps.ByName("id"), userID)
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := httputil.WriteSuccess(w, resolution); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *MessageRequestHandler) ListForUser(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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

	requests, err := h.service.ListForUser(r.Context(), userID, ps.ByName("placeId"), limit)
	if err != nil {
		h.writeError(w, "ListForUser", err)
		return
	}

	if err := httputil.WriteSuccess(w, requests); err != nil {
		h.log.Error("failed to write success response", "handler", "ListForUser", "operation", "WriteSuccess", "error", err)
	}
}

func (h *MessageRequestHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/message-requests", h.Create)
	router.POST("/api/v1/message-requests/:id/respond", h.Respond)
	router.POST("/api/v1/message-requests/:id/cancel", h.Cancel)
	router.GET("/api/v1/places/:placeId/message-requests", h.ListForUser)
}

func (h *MessageRequestHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
