package sections

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/handlers"
	"github.com/reviso/reviso/pkg/routes"
)

// Handler provides read-only HTTP endpoints for document structure.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "sections"),
	}
}

// Routes returns the route group definition for section endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/documents",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{id}", Handler: h.Document},
			{Method: "GET", Pattern: "/{id}/sections", Handler: h.List},
		},
	}
}

// Document returns a single document's ingestion state.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	doc, err := h.sys.Document(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, doc)
}

// List returns a document's sections in sequence order.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	secs, err := h.sys.List(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, secs)
}
