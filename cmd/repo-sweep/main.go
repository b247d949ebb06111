package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/maintenance"
	"repofs/pkg/storage"
)

func main() {
	// Initialize logger first
	_ = log.Logger

	dataDir := flag.String("data", "build/data", "Data directory path")
	storeName := flag.String("store", "default", "Blob store name")
	batchSize := flag.Int("batch", maintenance.DefaultBatchSize, "Blobs inspected per transaction")
	retention := flag.Duration("retention", 0, "Hard-delete soft-deleted blobs older than this (0 disables)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	database, err := db.Open(filepath.Join(*dataDir, "metadata.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open metadata database")
	}
	blobs, err := blob.NewFileStore(*storeName, filepath.Join(*dataDir, "blobs"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open blob store")
	}

	store := storage.New(database, blobs)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Interrupted, finishing current batch...")
		cancel()
	}()

	started := time.Now()
	result, err := maintenance.NewSweeper(store,
		maintenance.WithBatchSize(*batchSize),
		maintenance.WithRetention(*retention),
	).Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}

	log.Info().
		Int("scanned", result.Scanned).
		Int("swept", result.Swept).
		Int("purged", result.Purged).
		Dur("took", time.Since(started)).
		Msg("Sweep complete")
}
