package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/database"
)

// SetupAdminRoutes registers admin management routes.
func SetupAdminRoutes(mux *http.ServeMux, chunks *database.ChunkStore, cfg *config.Config) {
	handlers := NewAdminHandlers(chunks, cfg)

	cors := CORSMiddleware(cfg.Server.AllowedOrigins)
	rateLimit := RateLimitMiddleware(10, 1*time.Minute) // Lower rate limit for admin operations

	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/admin")
		path = strings.Trim(path, "/")

		switch {
		case r.Method == http.MethodPost && path == "chunks/relink":
			handlers.RelinkChunks(w, r)
		case r.Method == http.MethodDelete && path == "chunks/reset":
			handlers.ResetAllChunks(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	rateLimited := rateLimit(cors(adminHandler))

	mux.Handle("/api/v1/admin/", rateLimited)
	mux.Handle("/api/v1/admin", rateLimited)
}
