// handlers/admin_handler.go
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/openadresse/moissonneur/services"
)

// AdminHandler exposes the manual triggers: harvest one source, harvest
// everything due, resync the source catalog.
type AdminHandler struct {
	Batch     *services.BatchService
	Harvester services.SourceHarvester
	Sync      *services.SyncService
}

// HarvestHandler handles POST /api/admin/harvest/{sourceId|all}.
// A single source is harvested synchronously; "all" kicks off a batch in
// the background and returns immediately.
func (h *AdminHandler) HarvestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected path: api/admin/harvest/{sourceId|all}
	if len(pathParts) < 4 {
		respondWithError(w, http.StatusBadRequest, "Invalid path. Expected /api/admin/harvest/{sourceId|all}")
		return
	}
	target := pathParts[3]

	if target == "all" {
		go func() {
			if _, err := h.Batch.Run(context.Background()); err != nil {
				log.Printf("ERROR API: background batch run failed: %v", err)
			}
		}()
		respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Batch harvest started."})
		return
	}

	result, err := h.Harvester.HarvestSource(r.Context(), target)
	if errors.Is(err, services.ErrSourceLocked) {
		respondWithJSON(w, http.StatusConflict, map[string]string{"message": "Source already has a harvest in progress."})
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to harvest source: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, result.Harvest)
}

// SyncSourcesHandler handles POST /api/admin/sync-sources
func (h *AdminHandler) SyncSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	synced, err := h.Sync.SyncSources(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to sync sources: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"synced": synced})
}
