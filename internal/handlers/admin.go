package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/observach/apiserver/internal/services"
	"github.com/observach/apiserver/types"
)

// AdminHandler exposes moderation decisions.
type AdminHandler struct {
	moderationService *services.ModerationService
	logger            *slog.Logger
}

func NewAdminHandler(moderationService *services.ModerationService, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{moderationService: moderationService, logger: logger}
}

// AdminRouter registers moderation routes. The role check itself happens in
// the moderation service, so a non-admin gets 403 from there.
func AdminRouter(r chi.Router, handler *AdminHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)

	r.Patch("/observations/{observationID}/status", handler.SetObservationStatus)
	r.Patch("/comments/{commentID}/status", handler.SetCommentStatus)
}

type StatusRequest struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	ID     string       `json:"id"`
	Status types.Status `json:"status"`
}

func (h *AdminHandler) SetObservationStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	obs, err := h.moderationService.SetObservationStatus(r.Context(), actor, pathID(r, "observationID"), parseStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update observation")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{ID: obs.ID, Status: obs.Status})
}

func (h *AdminHandler) SetCommentStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := pathID(r, "commentID")
	status := parseStatus(req.Status)
	if err := h.moderationService.SetCommentStatus(r.Context(), actor, id, status); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update comment")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{ID: id, Status: status})
}

func parseStatus(raw string) types.Status {
	return types.Status(strings.ToLower(strings.TrimSpace(raw)))
}
