package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmc/geosnap/models"
)

// ListPairs handles GET /api/gallery/pairs. Pairs with dangling record
// references are stale and silently omitted.
func (gh *GalleryHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": gh.Store.VisiblePairs()})
}

// ResolvePair handles POST /api/gallery/pairs/{pair_id}/resolve. The decision
// is recorded with the backend first; only on its success is local state
// mutated. A failed decision-save leaves the pair and both records unchanged.
func (gh *GalleryHandler) ResolvePair(w http.ResponseWriter, r *http.Request) {
	pairID := chi.URLParam(r, "pair_id")

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if !models.IsValidAction(req.Action) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action: " + req.Action})
		return
	}

	pair, ok := gh.Store.PairByID(pairID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Pair not found"})
		return
	}

	_, firstOK := gh.Store.Get(pair.ImageID1)
	_, secondOK := gh.Store.Get(pair.ImageID2)
	if !firstOK || !secondOK {
		// stale pair: a referenced record was removed by other means
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Pair references a removed image"})
		return
	}

	if err := gh.Dedupe.SaveDecision(r.Context(), pair.PairID, req.Action, pair.ImageID1, pair.ImageID2); err != nil {
		log.Printf("Resolve: decision save for pair %s failed: %v", pair.PairID, err)
		WriteAPIError(w, http.StatusBadGateway, ErrCodeDecisionSaveFailed, err.Error())
		return
	}

	gh.Store.ApplyResolution(pair, req.Action)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"action": req.Action,
		"pairs":  gh.Store.VisiblePairs(),
	})
}
