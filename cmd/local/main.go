package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bnn-backend/internal/api"
	"bnn-backend/internal/core"
	"bnn-backend/internal/database"
	"bnn-backend/internal/messaging"
	"bnn-backend/internal/storage"
	"bnn-backend/pkg/models"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root    string `env:"ROOT" envDefault:"./bnn-local"`
	Port    int    `env:"PORT" envDefault:"3001"`
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
}

const artifactBucket = "run-artifacts"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "bnn-backend.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue requeues runs that were interrupted mid-flight on the previous
// shutdown, then returns the queue for new submissions.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var pending []database.Run
	if err := db.Where("status IN ?", []string{database.RunQueued, database.RunRunning}).Find(&pending).Error; err != nil {
		log.Fatalf("Failed to fetch runs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, run := range pending {
		var err error
		if run.BaseRunId.Valid {
			err = queue.PublishPredictTask(context.Background(), models.PredictTaskPayload{RunId: run.Id})
		} else {
			err = queue.PublishTrainTask(context.Background(), models.TrainTaskPayload{RunId: run.Id})
		}
		if err != nil {
			log.Fatalf("Failed to requeue run: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	backend := api.NewBackendService(db, queue, store, artifactBucket)

	r.Route("/api/v1", func(r chi.Router) {
		backend.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "data_dir", cfg.DataDir)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	if err := store.CreateBucket(context.Background(), artifactBucket); err != nil {
		log.Fatalf("Failed to create artifact bucket: %v", err)
	}

	queue := createQueue(db)

	worker := core.NewTaskProcessor(db, store, queue, cfg.DataDir, artifactBucket)

	server := createServer(db, store, queue, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
