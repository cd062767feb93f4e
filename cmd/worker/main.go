package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"bnn-backend/internal/config"
	"bnn-backend/internal/core"
	"bnn-backend/internal/database"
	"bnn-backend/internal/messaging"
	"bnn-backend/internal/storage"
)

func main() {
	log.Println("Starting Worker Process...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(db, store, reciever, cfg.DataDir, cfg.ArtifactBucket)

	for i := 0; i < cfg.WorkerConcurrency; i++ {
		go processor.Start()
	}

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	processor.Stop()

	log.Println("Worker process stopped.")
}
