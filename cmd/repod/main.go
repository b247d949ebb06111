package main

import (
	"context"
	_ "embed"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"repofs/pkg/blob"
	"repofs/pkg/db"
	"repofs/pkg/log"
	"repofs/pkg/models"
	"repofs/pkg/replicate"
	"repofs/pkg/server"
	"repofs/pkg/storage"
)

const dataDirPerm = 0750

//go:embed VERSION
var Version string

func main() {
	// Initialize logger first
	_ = log.Logger

	dataDir := flag.String("data", "build/data", "Data directory path")
	addr := flag.String("addr", ":8080", "Listen address")
	storeName := flag.String("store", "default", "Blob store name")
	compress := flag.Bool("compress", false, "Compress blobs at rest")
	strict := flag.Bool("strict-content", false, "Reject uploads whose content does not match the declared type")
	writePolicy := flag.String("write-policy", "ALLOW", "Write policy: ALLOW, ALLOW_ONCE or DENY")
	peers := flag.String("peers", "", "Comma-separated peer URLs to replicate from")
	pullInterval := flag.Duration("pull-interval", 30*time.Second, "Replication pull interval")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	policy := models.WritePolicy(*writePolicy)
	switch policy {
	case models.WritePolicyAllow, models.WritePolicyAllowOnce, models.WritePolicyDeny:
	default:
		log.Fatal().Str("write_policy", *writePolicy).Msg("Unknown write policy")
	}

	if err := os.MkdirAll(*dataDir, dataDirPerm); err != nil {
		log.Fatal().Err(err).Str("data_dir", *dataDir).Msg("Failed to create data directory")
	}

	database, err := db.Open(filepath.Join(*dataDir, "metadata.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open metadata database")
	}

	var blobOpts []blob.Option
	if *compress {
		blobOpts = append(blobOpts, blob.WithCompression())
	}
	blobs, err := blob.NewFileStore(*storeName, filepath.Join(*dataDir, "blobs"), blobOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open blob store")
	}

	store := storage.New(database, blobs,
		storage.WithContentValidator(blob.NewContentValidator(*strict)),
		storage.WithWritePolicySelector(func(*models.Asset) models.WritePolicy { return policy }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *peers != "" {
		peerURLs := strings.Split(*peers, ",")
		peerManager := replicate.NewPeerManager(peerURLs, 0, 0)
		peerManager.Start()
		defer peerManager.Stop()

		puller := replicate.NewPuller(store, peerManager, *pullInterval)
		go puller.Run(ctx)
	}

	srv := server.New(store, *dataDir, strings.TrimSpace(Version))
	if err := srv.Start(*addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	os.Exit(0)
}
