// Package http provides HTTP handlers for the wallet sync server.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkravets/credwallet/internal/models"
	"github.com/dkravets/credwallet/internal/service"
)

// MutationService defines the interface for applying replayed mutations,
// as required by the MutationHandler.
type MutationService interface {
	// Apply validates and applies one mutation against the store.
	Apply(ctx context.Context, resource models.ResourceKind, m service.Mutation) error
}

// validResources lists the resource kinds the API accepts.
var validResources = map[models.ResourceKind]bool{
	models.ResourceCredential: true,
	models.ResourceHandshake:  true,
	models.ResourceProfile:    true,
}

// MutationHandler handles mutation replay requests from wallet clients.
type MutationHandler struct {
	// MutationService performs the underlying apply operations.
	MutationService MutationService
}

// Apply handles POST /api/mutations/{resource} requests.
// It decodes a JSON mutation body, applies it, and returns 204 on success.
// A payload the server refuses is a 400 so clients stop retrying it;
// transient store errors are 500 so clients retry.
func (h *MutationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	resource := models.ResourceKind(chi.URLParam(r, "resource"))
	if !validResources[resource] {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return
	}

	var m service.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := h.MutationService.Apply(r.Context(), resource, m); err != nil {
		if errors.Is(err, service.ErrInvalidMutation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
