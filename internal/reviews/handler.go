package reviews

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/handlers"
	"github.com/reviso/reviso/pkg/routes"
)

// Handler provides HTTP endpoints for review operations.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "reviews"),
	}
}

// Routes returns the route group definition for review endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/reviews",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/rewrite/{rewriteID}", Handler: h.GetOrCreate},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "POST", Pattern: "/{id}/decide", Handler: h.Decide},
			{Method: "GET", Pattern: "/{id}/comments", Handler: h.Comments},
			{Method: "POST", Pattern: "/{id}/comments", Handler: h.AddComment},
		},
	}
}

// conflictResponse carries the current status back to a stale caller.
type conflictResponse struct {
	Error         string `json:"error"`
	CurrentStatus Status `json:"current_status"`
}

// GetOrCreate returns the review gating a rewrite, creating it on first
// access.
func (h *Handler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	rewriteID, err := uuid.Parse(r.PathValue("rewriteID"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	review, err := h.sys.GetOrCreate(r.Context(), rewriteID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, review)
}

// Find returns a review by id.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	review, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, review)
}

// Decide applies a reviewer decision. A stale decision returns 409 with
// the review's current status so the client can resynchronize.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var cmd DecideCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	review, err := h.sys.Decide(r.Context(), id, cmd)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			handlers.RespondJSON(w, http.StatusConflict, conflictResponse{
				Error:         conflict.Error(),
				CurrentStatus: conflict.Current,
			})
			return
		}
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, review)
}

// Comments returns the review's discussion thread in append order.
func (h *Handler) Comments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	comments, err := h.sys.Comments(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, comments)
}

// AddComment appends a comment to the thread.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var cmd CommentCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	comment, err := h.sys.AddComment(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, comment)
}
