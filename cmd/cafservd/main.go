// cafservd is the retrieval façade daemon: it serves individual packed
// files back out over HTTP by mounting the container that holds them
// from the local cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/cache"
	"github.com/cafpack/cafpack/internal/catalog"
	"github.com/cafpack/cafpack/internal/config"
	"github.com/cafpack/cafpack/internal/proofcache"
	"github.com/cafpack/cafpack/internal/retrieval"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	addr := flag.String("addr", "", "listen address, overrides worker_id-derived default")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	if err := run(*configPath, *addr, log); err != nil {
		log.Error("cafservd: initialization failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, addrOverride string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	cat, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	if _, err := cat.GetWorker(ctx, cfg.WorkerID); err != nil {
		return fmt.Errorf("resolve worker %d: %w", cfg.WorkerID, err)
	}

	blobStore, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:          cfg.BlobService.Bucket,
		Prefix:          cfg.BlobService.Prefix,
		Region:          cfg.BlobService.Region,
		Endpoint:        cfg.BlobService.Endpoint,
		PathStyle:       cfg.BlobService.PathStyle,
		AccessKey:       cfg.BlobService.AccessKey,
		SecretKey:       cfg.BlobService.SecretKey,
		SessionToken:    cfg.BlobService.SessionToken,
		ProofServiceURL: cfg.BlobService.ProofServiceURL,
	})
	if err != nil {
		return fmt.Errorf("build blob store: %w", err)
	}
	blobs := blobstore.NewRetrying(blobStore, blobstore.DefaultRetryConfig())

	containers, err := cache.New(cfg.TempDir, blobs)
	if err != nil {
		return fmt.Errorf("open container cache: %w", err)
	}
	containers.DownloadTimeout = cfg.DownloadTimeout()

	proofs := proofcache.New(blobs)
	defer proofs.Close()

	addr := addrOverride
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.ListenPort())
	}
	scfg := retrieval.DefaultConfig(addr)
	scfg.AllowedOrigins = cfg.Retrieval.AllowedOrigins
	scfg.WorkerID = fmt.Sprintf("%d", cfg.WorkerID)
	scfg.KeepCAFFiles = cfg.KeepCAFFiles

	server := retrieval.New(scfg, cat, containers, proofs, log)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("cafservd starting", zap.String("addr", addr), zap.Int64("worker_id", cfg.WorkerID))

	if err := server.Start(runCtx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	log.Info("cafservd shut down")
	return nil
}
