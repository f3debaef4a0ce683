/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the metrics synchronization engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store and offline cache
  3. Construct the engine (merge, anomalies, phases, sync)
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: metrics.db)
              Use ":memory:" for in-memory database
  -cache      Offline cache file path (default: metrics-cache.json)
  -device-id  Stable device identifier for peer sync (default: generated)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Detach the engine from the sync bus
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/metrics.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run two peers sharing a bus requires embedding; each standalone
  # process gets its own in-process bus.

SEE ALSO:
  - api/server.go: Router configuration
  - engine/engine.go: Engine construction
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/metrics-engine/api"
	"github.com/warp/metrics-engine/engine"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/offline"
	"github.com/warp/metrics-engine/store/sqlite"
	"github.com/warp/metrics-engine/syncbus"
	"github.com/warp/metrics-engine/wellness"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "metrics.db", "SQLite database path")
	cachePath := flag.String("cache", "metrics-cache.json", "offline cache file path")
	deviceID := flag.String("device-id", "", "stable device identifier for peer sync")
	rangesPath := flag.String("ranges", "", "expected-range table JSON (default: built-in table)")
	flag.Parse()

	if *deviceID == "" {
		*deviceID = uuid.NewString()
	}

	// Nil keeps the engine on the built-in default table.
	var ranges metrics.RangeSource
	if *rangesPath != "" {
		table, err := wellness.LoadRangeTable(*rangesPath)
		if err != nil {
			log.Fatalf("Failed to load range table: %v", err)
		}
		ranges = table
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize offline cache
	cache, err := offline.NewFileCache(*cachePath)
	if err != nil {
		log.Fatalf("Failed to initialize offline cache: %v", err)
	}

	// Initialize engine
	registry := prometheus.NewRegistry()
	bus := syncbus.NewInProcessBus()
	eng := engine.New(engine.Config{
		DeviceID:  *deviceID,
		Store:     store.Metrics(),
		Anomalies: store.Anomalies(),
		Baselines: store.Baselines(),
		Ranges:    ranges,
		Bus:       bus,
		Cache:     cache,
		Registry:  registry,
	})
	defer eng.Close()

	// Create router
	handler := api.NewHandler(eng, *deviceID)
	router := api.NewRouter(handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d (device %s)", *port, *deviceID)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	bus.Close()
	log.Println("Server stopped")
}
