package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/database"
)

// AdminHandlers handles admin operations on the chunk store.
type AdminHandlers struct {
	cfg    *config.Config
	chunks *database.ChunkStore
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(chunks *database.ChunkStore, cfg *config.Config) *AdminHandlers {
	return &AdminHandlers{
		cfg:    cfg,
		chunks: chunks,
	}
}

// RelinkChunks handles POST /api/v1/admin/chunks/relink.
// Replays the neighbor linking pass over every stored chunk, repairing
// adjacency gaps left by linking failures or bulk imports. The sweep runs in
// the background; progress lands in the server log.
func (h *AdminHandlers) RelinkChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := h.chunks.ChunkStats()
	if err != nil {
		log.Printf("Error counting chunks for relink: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to start relink")
		return
	}

	log.Printf("Admin: Relinking neighbors for %d chunks...", stats.TotalChunks)

	go func() {
		visited, linked, failed, err := h.chunks.RelinkAll()
		if err != nil {
			log.Printf("Error relinking chunks: %v", err)
			return
		}
		log.Printf("✓ Relink complete: %d chunks visited, %d links written, %d failed", visited, linked, failed)
	}()

	response := map[string]interface{}{
		"started": true,
		"chunks":  stats.TotalChunks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode relink response: %v", err)
	}
}

// ResetAllChunks handles DELETE /api/v1/admin/chunks/reset.
// Refused outside development environments since there is no way to undo
// it.
func (h *AdminHandlers) ResetAllChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.cfg.Server.IsDevelopment() {
		respondWithError(w, http.StatusForbidden, "Chunk reset is only available in development")
		return
	}

	log.Printf("Admin: Resetting all chunks...")

	deletedCount, err := h.chunks.DeleteAllChunks()
	if err != nil {
		log.Printf("Error resetting chunks: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to reset chunks")
		return
	}

	log.Printf("✓ Successfully deleted %d chunks", deletedCount)

	response := map[string]interface{}{
		"success":       true,
		"message":       "All chunks deleted successfully",
		"deleted_count": deletedCount,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode reset chunks response: %v", err)
	}
}
