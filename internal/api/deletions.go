package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

// DeletionsHandler handles the admin review of deletion requests.
type DeletionsHandler struct {
	DB *sql.DB
}

// List handles GET /api/deletion-requests.
func (h *DeletionsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !model.ValidRequestStatus(status) {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	requests, err := store.ListDeletionRequests(r.Context(), h.DB, status)
	if err != nil {
		slog.Error("failed to list deletion requests", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list deletion requests")
		return
	}
	if requests == nil {
		requests = []model.DeletionRequest{}
	}
	jsonResponse(w, http.StatusOK, requests)
}

// Approve handles POST /api/deletion-requests/{id}/approve. The item is
// deleted together with all of its requests.
func (h *DeletionsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, store.ApproveDeletionRequest, "approved")
}

// Reject handles POST /api/deletion-requests/{id}/reject.
func (h *DeletionsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, store.RejectDeletionRequest, "rejected")
}

func (h *DeletionsHandler) resolve(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, db *sql.DB, id, adminID int64) (*model.DeletionRequest, error), verb string) {
	claims := GetClaims(r.Context())
	id, ok := pathID(w, r, "deletion request")
	if !ok {
		return
	}

	dr, err := fn(r.Context(), h.DB, id, claims.UserID)
	if errors.Is(err, store.ErrAlreadyResolved) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to resolve deletion request", "request_id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to resolve deletion request")
		return
	}
	if dr == nil {
		jsonError(w, http.StatusNotFound, "deletion request not found")
		return
	}

	slog.Info("deletion request "+verb, "user", claims.Username, "request_id", dr.ID,
		"item", dr.ItemTitle, "requested_by", dr.Username)
	jsonResponse(w, http.StatusOK, dr)
}
