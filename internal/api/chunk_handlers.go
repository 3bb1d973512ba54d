package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/performance"
	"github.com/placedotfun/server/internal/world"
)

// ChunkNotifier receives chunk save events for fanout to streaming clients.
type ChunkNotifier interface {
	NotifyChunkSaved(chunk *world.Chunk, created bool)
}

// ChunkHandlers handles chunk-related HTTP requests.
type ChunkHandlers struct {
	service   *world.ChunkService
	config    *config.Config
	notifier  ChunkNotifier
	profiler  *performance.Profiler
	validator *validator.Validate
}

// NewChunkHandlers creates a new instance of ChunkHandlers. notifier may be
// nil when no streaming fanout is wanted.
func NewChunkHandlers(service *world.ChunkService, cfg *config.Config, notifier ChunkNotifier, profiler *performance.Profiler) *ChunkHandlers {
	return &ChunkHandlers{
		service:   service,
		config:    cfg,
		notifier:  notifier,
		profiler:  profiler,
		validator: validator.New(),
	}
}

// SaveChunk handles POST /api/v1/chunks requests.
// Stores the model payload, upserts the chunk record by position, and links
// the chunk to its neighbors. Responds 201 when a new chunk was created and
// 200 when an existing position was overwritten.
func (h *ChunkHandlers) SaveChunk(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.save_chunk")()

	var req SaveChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	modelData, err := base64.StdEncoding.DecodeString(req.ModelData)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "model_data must be valid base64")
		return
	}

	chunk, created, err := h.service.SaveChunk(r.Context(), world.SaveChunkInput{
		Position:    world.ChunkPosition{X: *req.X, Z: *req.Z},
		ModelData:   modelData,
		Vertices:    req.Vertices,
		Faces:       req.Faces,
		SourceImage: req.SourceImage,
		GeneratedBy: req.GeneratedBy,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to save chunk")
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyChunkSaved(chunk, created)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(world.ToDTO(chunk)); err != nil {
		log.Printf("Failed to encode chunk response: %v", err)
	}
}

// GetChunks handles GET /api/v1/chunks requests.
// With x and z query parameters it looks up the chunk at that exact position,
// or, when a radius parameter is also given, returns the chunks inside the
// square window around it. Without coordinates it lists stored chunks newest
// first, capped by the limit parameter.
func (h *ChunkHandlers) GetChunks(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.get_chunks")()

	query := r.URL.Query()
	if query.Get("x") != "" || query.Get("z") != "" {
		x, err := strconv.Atoi(query.Get("x"))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid x coordinate")
			return
		}
		z, err := strconv.Atoi(query.Get("z"))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid z coordinate")
			return
		}

		pos := world.ChunkPosition{X: x, Z: z}
		if query.Get("radius") != "" {
			h.getChunksInRadius(w, r, pos)
			return
		}
		h.getChunkAtPosition(w, pos)
		return
	}
	h.listChunks(w, r)
}

func (h *ChunkHandlers) getChunkAtPosition(w http.ResponseWriter, pos world.ChunkPosition) {
	chunk, err := h.service.GetChunk(pos)
	if err != nil {
		respondWithServiceError(w, err, "Failed to retrieve chunk")
		return
	}
	if chunk == nil {
		respondWithError(w, http.StatusNotFound, "Chunk not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(world.ToDTO(chunk)); err != nil {
		log.Printf("Failed to encode chunk response: %v", err)
	}
}

func (h *ChunkHandlers) getChunksInRadius(w http.ResponseWriter, r *http.Request, center world.ChunkPosition) {
	radius, err := strconv.Atoi(r.URL.Query().Get("radius"))
	if err != nil || radius < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid radius")
		return
	}
	if radius > h.config.World.MaxRadius {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Radius cannot exceed %d", h.config.World.MaxRadius))
		return
	}

	chunks, err := h.service.ChunksInRadius(center, radius)
	if err != nil {
		respondWithServiceError(w, err, "Failed to query chunks")
		return
	}

	response := ChunkListResponse{Chunks: world.ToDTOs(chunks), Count: len(chunks)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode chunk list response: %v", err)
	}
}

func (h *ChunkHandlers) listChunks(w http.ResponseWriter, r *http.Request) {
	limit := world.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	if limit > h.config.World.MaxListLimit {
		limit = h.config.World.MaxListLimit
	}

	chunks, err := h.service.AllChunks(limit)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list chunks")
		return
	}

	response := ChunkListResponse{Chunks: world.ToDTOs(chunks), Count: len(chunks)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode chunk list response: %v", err)
	}
}

// GetChunk handles GET /api/v1/chunks/{id} requests.
func (h *ChunkHandlers) GetChunk(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.get_chunk")()

	chunkID, ok := chunkIDFromPath(w, r)
	if !ok {
		return
	}

	chunk, err := h.service.GetChunkByID(chunkID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to retrieve chunk")
		return
	}
	if chunk == nil {
		respondWithError(w, http.StatusNotFound, "Chunk not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(world.ToDTO(chunk)); err != nil {
		log.Printf("Failed to encode chunk response: %v", err)
	}
}

// GetChunkModel handles GET /api/v1/chunks/{id}/model requests.
// Streams the stored binary model for the chunk. The model bytes live in
// blob storage; this endpoint is the stable indirection clients follow from
// the model_url field of a chunk projection.
func (h *ChunkHandlers) GetChunkModel(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.get_chunk_model")()

	chunkID, ok := chunkIDFromPath(w, r)
	if !ok {
		return
	}

	data, err := h.service.ChunkModel(r.Context(), chunkID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to retrieve chunk model")
		return
	}

	w.Header().Set("Content-Type", world.ModelContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Failed to write chunk model response: %v", err)
	}
}

// DeleteChunk handles DELETE /api/v1/chunks/{id} requests.
// Removes the chunk record; neighbor references held by adjacent chunks are
// cleared as part of the delete. The stored model blob is left in place.
func (h *ChunkHandlers) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.delete_chunk")()

	chunkID, ok := chunkIDFromPath(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteChunk(chunkID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to delete chunk")
		return
	}
	if !deleted {
		respondWithError(w, http.StatusNotFound, "Chunk not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(DeleteChunkResponse{Deleted: true, ID: chunkID}); err != nil {
		log.Printf("Failed to encode delete response: %v", err)
	}
}

// GetWorldStats handles GET /api/v1/chunks/stats requests.
func (h *ChunkHandlers) GetWorldStats(w http.ResponseWriter, r *http.Request) {
	defer h.profiler.Track("api.world_stats")()

	stats, err := h.service.ChunkStats()
	if err != nil {
		respondWithServiceError(w, err, "Failed to compute world stats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("Failed to encode world stats response: %v", err)
	}
}

// GetMetrics handles GET /api/v1/metrics requests and serves the profiler
// report.
func (h *ChunkHandlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := h.profiler.JSONReport()
	if err != nil {
		log.Printf("Failed to render metrics report: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to render metrics")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report); err != nil {
		log.Printf("Failed to write metrics response: %v", err)
	}
}

// chunkIDFromPath extracts the chunk id segment from /api/v1/chunks/{id}
// paths, responding with an error when the path is malformed.
func chunkIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "v1" || parts[2] != "chunks" {
		respondWithError(w, http.StatusBadRequest, "Invalid path")
		return "", false
	}
	chunkID := parts[3]
	if chunkID == "" {
		respondWithError(w, http.StatusBadRequest, "Chunk ID is required")
		return "", false
	}
	return chunkID, true
}

// respondWithServiceError maps service errors onto HTTP statuses. Unknown
// errors are logged and reported with the generic fallback message.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		validationErr *world.ValidationError
		notFoundErr   *world.NotFoundError
		storageErr    *world.UpstreamStorageError
	)
	switch {
	case errors.As(err, &validationErr):
		respondWithError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		respondWithError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &storageErr):
		log.Printf("Blob storage error: %v", err)
		respondWithError(w, http.StatusBadGateway, "Model storage is unavailable")
	default:
		log.Printf("%s: %v", fallback, err)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

// respondWithError sends an error response in JSON format.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validationMessage flattens validator errors into a single readable line.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "Invalid request"
	}

	var messages []string
	for _, fe := range ve {
		messages = append(messages, fmt.Sprintf("%s %s", fe.Field(), fieldErrorMessage(fe)))
	}
	return strings.Join(messages, "; ")
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "base64":
		return "must be valid base64"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
