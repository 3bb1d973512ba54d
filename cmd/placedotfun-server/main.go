package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/placedotfun/server/internal/api"
	"github.com/placedotfun/server/internal/blobstore"
	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/database"
	"github.com/placedotfun/server/internal/performance"
	"github.com/placedotfun/server/internal/world"
)

const serverVersion = "1.0.0"

// main starts the placedotfun world server.
// It wires the chunk store, blob storage, and streaming hub together, then
// serves the REST API and WebSocket endpoint until interrupted.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("✓ Database connection established")

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to apply database schema: %v", err)
	}
	log.Printf("✓ Database schema ready")

	blobs, err := blobstore.New(cfg)
	if err != nil {
		log.Fatalf("Failed to configure blob storage: %v", err)
	}
	log.Printf("✓ Blob storage configured: bucket=%s", cfg.Storage.Bucket)

	store := database.NewChunkStore(db, cfg.World.LinkLocking)
	service := world.NewChunkService(store, blobs)
	profiler := performance.NewProfiler(cfg.Server.Profiling)

	wsHandlers := api.NewWebSocketHandlers(service, cfg, profiler)
	go wsHandlers.Run()

	if profiler.IsEnabled() {
		go reportMetrics(profiler, 5*time.Minute)
	}

	mux := http.NewServeMux()
	api.SetupChunkRoutes(mux, service, cfg, wsHandlers, profiler)
	api.SetupAdminRoutes(mux, store, cfg)
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
	mux.HandleFunc("/health", healthHandler)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("placedotfun server v%s starting on %s (environment: %s)", serverVersion, addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down...")
	profiler.LogReport()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	log.Printf("✓ Server stopped")
}

// reportMetrics logs the profiler report on a fixed interval.
func reportMetrics(profiler *performance.Profiler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		profiler.LogReport()
	}
}

// healthHandler responds to health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"placedotfun-server","version":"%s"}`, serverVersion)
}
