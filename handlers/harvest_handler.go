// handlers/harvest_handler.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/openadresse/moissonneur/services"
)

// Handler bundles the services the read API exposes.
type Handler struct {
	Sources   services.SourceStore
	Harvests  services.HarvestStore
	Revisions services.RevisionStore
}

// ListSourcesHandler handles GET /api/sources
func (h *Handler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	sources, err := h.Sources.ListSources(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list sources: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, sources)
}

// SourceHarvestsHandler handles GET /api/sources/{sourceId}/harvests
func (h *Handler) SourceHarvestsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected path: api/sources/{sourceId}/harvests
	if len(pathParts) < 4 || pathParts[3] != "harvests" {
		respondWithError(w, http.StatusBadRequest, "Invalid path. Expected /api/sources/{sourceId}/harvests")
		return
	}
	sourceID := pathParts[2]

	src, err := h.Sources.GetSource(r.Context(), sourceID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get source: "+err.Error())
		return
	}
	if src == nil {
		respondWithError(w, http.StatusNotFound, "Source not found: "+sourceID)
		return
	}

	harvests, err := h.Harvests.ListHarvestsBySource(r.Context(), sourceID, 100)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list harvests: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, harvests)
}

// HarvestRevisionsHandler handles GET /api/harvests/{harvestId}/revisions
func (h *Handler) HarvestRevisionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected path: api/harvests/{harvestId}/revisions
	if len(pathParts) < 4 || pathParts[3] != "revisions" {
		respondWithError(w, http.StatusBadRequest, "Invalid path. Expected /api/harvests/{harvestId}/revisions")
		return
	}
	harvestID := pathParts[2]

	revisions, err := h.Revisions.GetRevisionsByHarvest(r.Context(), harvestID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list revisions: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, revisions)
}
