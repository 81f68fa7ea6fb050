package assembly

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/handlers"
	"github.com/reviso/reviso/pkg/routes"
)

// Handler provides HTTP endpoints for the export gate.
type Handler struct {
	gate   *Gate
	logger *slog.Logger
}

// NewHandler creates a Handler with the given gate and logger.
func NewHandler(gate *Gate, logger *slog.Logger) *Handler {
	return &Handler{
		gate:   gate,
		logger: logger.With("handler", "assembly"),
	}
}

// Routes returns the route group definition for assembly endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/assembly",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{jobID}/status", Handler: h.Status},
			{Method: "GET", Pattern: "/{jobID}/content", Handler: h.Content},
		},
	}
}

// Status reports per-section review states and whether export is allowed.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("jobID"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	status, err := h.gate.Status(r.Context(), jobID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, status)
}

// Content returns the assembled document for a fully approved job.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("jobID"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	doc, err := h.gate.Resolve(r.Context(), jobID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, doc)
}
