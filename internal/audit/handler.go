package audit

import (
	"log/slog"
	"net/http"

	"github.com/reviso/reviso/pkg/handlers"
	"github.com/reviso/reviso/pkg/pagination"
	"github.com/reviso/reviso/pkg/routes"
)

// Handler provides HTTP endpoints for ledger inspection. Append is not
// exposed: only the core writes to the ledger.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler over the given ledger.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "audit"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for audit endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/audit",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/verify", Handler: h.Verify},
		},
	}
}

// List returns a paginated, filterable page of ledger events in append order.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Verify recomputes the full hash chain and reports the first break, if any.
// A broken chain is reported, deliberately never auto-repaired.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.Verify(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}
