// memcored is the relational memory daemon: it stores agent memories,
// serves hybrid retrieval over HTTP and runs the background enrichment and
// maintenance jobs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/awarenet/memcore/internal/config"
	"github.com/awarenet/memcore/internal/engine"
	"github.com/awarenet/memcore/internal/provider"
	"github.com/awarenet/memcore/internal/server"
	"github.com/awarenet/memcore/internal/storage"
	"github.com/awarenet/memcore/internal/storage/memstore"
	"github.com/awarenet/memcore/internal/storage/postgres"
	"github.com/awarenet/memcore/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envPath := flag.String("env", "", "path to a .env file (default: .env if present)")
	flag.Parse()

	loadEnvFile(*envPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, vectors, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	embedder, reasoner, err := provider.Build(cfg.Provider, cfg.Storage.EmbeddingDim)
	if err != nil {
		log.Fatalf("Failed to initialize provider: %v", err)
	}

	queue, err := buildQueue(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize task queue: %v", err)
	}

	eng := engine.New(cfg, store, vectors, embedder, reasoner, queue)
	if err := eng.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	srv := server.New(cfg.Server, eng)
	addr, err := srv.Start()
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("memcored listening on http://%s (storage=%s, provider=%s)",
		addr, cfg.Storage.Engine, cfg.Provider.Provider)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := eng.Close(); err != nil {
		log.Printf("Engine shutdown error: %v", err)
	}
}

// loadEnvFile loads environment variables from a .env file before config
// resolution so MEMCORE_ overrides in it take effect.
func loadEnvFile(path string) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Fatalf("Failed to load env file %s: %v", path, err)
		}
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: failed to load .env: %v", err)
		}
	}
}

func buildStorage(cfg *config.Config) (storage.Store, storage.VectorStore, error) {
	if cfg.Storage.Engine == "postgres" {
		store, err := postgres.New(cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDim)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	store := memstore.New()
	vectors, err := memstore.NewVectorIndex(cfg.Storage.EmbeddingDim)
	if err != nil {
		return nil, nil, err
	}
	return store, vectors, nil
}

func buildQueue(cfg *config.Config) (tasks.Backend, error) {
	if cfg.Tasks.QueuePath == "" {
		log.Println("Task queue path not set; queued tasks will not survive restarts")
		return tasks.NewMemoryBackend(), nil
	}
	return tasks.NewSQLiteBackend(cfg.Tasks.QueuePath)
}
