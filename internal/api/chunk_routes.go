package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/performance"
	"github.com/placedotfun/server/internal/world"
)

// SetupChunkRoutes registers the chunk, stats, and metrics routes.
func SetupChunkRoutes(mux *http.ServeMux, service *world.ChunkService, cfg *config.Config, notifier ChunkNotifier, profiler *performance.Profiler) {
	handlers := NewChunkHandlers(service, cfg, notifier, profiler)

	cors := CORSMiddleware(cfg.Server.AllowedOrigins)
	rateLimit := RateLimitMiddleware(cfg.RateLimit.RequestsPerMinute, 1*time.Minute)

	// Handler that routes based on path and method
	chunkHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/chunks")
		path = strings.Trim(path, "/")

		switch {
		case r.Method == "POST" && path == "":
			handlers.SaveChunk(w, r)
		case r.Method == "GET" && path == "":
			handlers.GetChunks(w, r)
		case r.Method == "GET" && path == "stats":
			handlers.GetWorldStats(w, r)
		case r.Method == "GET" && strings.HasSuffix(path, "/model"):
			handlers.GetChunkModel(w, r)
		case r.Method == "GET" && path != "":
			handlers.GetChunk(w, r)
		case r.Method == "DELETE" && path != "":
			handlers.DeleteChunk(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	// Apply middleware chain
	wrapped := rateLimit(cors(chunkHandler))

	mux.Handle("/api/v1/chunks/", wrapped)
	mux.Handle("/api/v1/chunks", wrapped)

	mux.Handle("/api/v1/metrics", cors(http.HandlerFunc(handlers.GetMetrics)))
}
