// cafpackd is the packing pipeline daemon: it drains the upload queue,
// packs files into CAF containers, ships them to the remote blob
// service, and indexes them in the catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/catalog"
	"github.com/cafpack/cafpack/internal/config"
	"github.com/cafpack/cafpack/internal/objectstore"
	"github.com/cafpack/cafpack/internal/pipeline"
	"github.com/cafpack/cafpack/internal/queue"
)

func xdgDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

func pidPath() string {
	return filepath.Join(xdgDataHome(), "cafpack", "cafpackd.pid")
}

func writePid(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Error("cafpackd: initialization failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, log *zap.Logger) error {
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

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build blob store: %w", err)
	}

	consumer, err := queue.NewDirConsumer(cfg.QueueDir)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}

	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	pcfg := pipeline.DefaultConfig(fmt.Sprintf("%d", cfg.WorkerID))
	pcfg.MaxContainerBytes = cfg.MaxContainerBytes()
	pcfg.InactivityTimeout = cfg.InactivityTimeout()
	pcfg.DownloadTimeout = cfg.DownloadTimeout()
	pcfg.TempDir = cfg.TempDir
	pcfg.KeepCAFFiles = cfg.KeepCAFFiles

	p := pipeline.New(pcfg, consumer, objects, blobs, cat, log)

	if err := writePid(pidPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath())

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("cafpackd starting",
		zap.Int64("worker_id", cfg.WorkerID),
		zap.String("chain_mode", string(cfg.ChainMode)),
		zap.String("queue_dir", cfg.QueueDir),
	)

	if err := p.Run(runCtx); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	log.Info("cafpackd shut down")
	return nil
}

func buildObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Backend {
	case "", "fs":
		store := objectstore.NewFSStore(cfg.ObjectStore.Root)
		return store, nil
	case "s3":
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:    cfg.ObjectStore.Bucket,
			Prefix:    cfg.ObjectStore.Prefix,
			Region:    cfg.ObjectStore.Region,
			Endpoint:  cfg.ObjectStore.Endpoint,
			PathStyle: cfg.ObjectStore.PathStyle,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.ObjectStore.Backend)
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
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
		return nil, err
	}
	return blobstore.NewRetrying(store, blobstore.DefaultRetryConfig()), nil
}
