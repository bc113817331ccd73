package handler

import (
	"net/http"

	"herenow/internal/checkins/service"
	httputil "herenow/pkg/http"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type CheckinHandler struct {
	service  service.CheckinService
	identity identity.Provider
	log      *logger.Logger
}

func NewCheckinHandler(service service.CheckinService, identity identity.Provider, log *logger.Logger) *CheckinHandler {
	return &CheckinHandler{
		service:  service,
		identity: identity,
		log:      log,
	}
}

func (h *CheckinHandler) CheckIn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "CheckIn", err)
		return
	}

	var input model.CheckinInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		h.writeError(w, "CheckIn", err)
		return
	}

	checkin, err := h.service.CheckIn(r.Context(), userID, &input)
	if err != nil {
		h.writeError(w, "CheckIn", err)
		return
	}

	if err := httputil.WriteCreated(w, checkin); err != nil {
		h.log.Error("failed to write created response", "handler", "CheckIn", "operation", "WriteCreated", "error", err)
	}
}

func (h *CheckinHandler) CheckOut(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := h.identity.UserID(r.Context())
	if err != nil {
		h.writeError(w, "CheckOut", err)
		return
	}

	if err := h.service.CheckOut(r.Context(), userID); err != nil {
		h.writeError(w, "CheckOut", err)
		return
	}

	_ = httputil.WriteNoContent(w)
}

func (h *CheckinHandler) ListCurrent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := h.identity.UserID(r.Context()); err != nil {
		h.writeError(w, "ListCurrent", err)
		return
	}

	limit, _, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListCurrent", err)
		return
	}

	checkins, err := h.service.ListCurrent(r.Context(), ps.ByName("placeId"), limit)
	if err != nil {
		h.writeError(w, "ListCurrent", err)
		return
	}

	if err := httputil.WriteSuccess(w, checkins); err != nil {
		h.log.Error("failed to write success response", "handler", "ListCurrent", "operation", "WriteSuccess", "error", err)
	}
}

func (h *CheckinHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/checkins", h.CheckIn)
	router.DELETE("/api/v1/checkins/current", h.CheckOut)
	router.GET("/api/v1/places/:placeId/checkins", h.ListCurrent)
}

func (h *CheckinHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
