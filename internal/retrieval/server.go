// Package retrieval serves individual packed files back out over
// HTTP: it resolves a task/file pair through the catalog, mounts the
// container that holds it from the cache, and slices out the exact
// byte range.
package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/caf"
	"github.com/cafpack/cafpack/internal/catalog"
)

// containerMounter is the subset of internal/cache.Cache the façade
// needs, narrowed so handlers can be tested against a fake.
type containerMounter interface {
	Get(ctx context.Context, containerID string) (*caf.Reader, error)
	Release(containerID string) error
}

// proofSource is the subset of internal/proofcache.Cache the façade
// needs.
type proofSource interface {
	Get(ctx context.Context, containerID, taskID, filePath string) ([]blobstore.Proof, error)
}

// Config configures the HTTP façade.
type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// WorkerID is reported by GET /health.
	WorkerID string
	// KeepCAFFiles controls post-serve cleanup: false deletes a
	// container's local copy after each file is served from it.
	KeepCAFFiles bool
}

// DefaultConfig returns sane HTTP server timeouts, matching the
// teacher's own relay server's explicit timeout discipline.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
}

// Server is the retrieval façade's HTTP server.
type Server struct {
	cfg     Config
	catalog catalog.Store
	cache   containerMounter
	proofs  proofSource
	log     *zap.Logger

	httpServer *http.Server
}

// New builds a Server. It does not start listening until Start is
// called.
func New(cfg Config, cat catalog.Store, cache containerMounter, proofs proofSource, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, catalog: cat, cache: cache, proofs: proofs, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /file/{taskId}/{filePath...}", s.handleFile)
	mux.HandleFunc("GET /file-info/{taskId}/{filePath...}", s.handleFileInfo)
	mux.HandleFunc("GET /file-proof/{taskId}/{filePath...}", s.handleFileProof)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      corsMiddleware(cfg.AllowedOrigins, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("retrieval: serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("retrieval: shutdown: %w", err)
		}
		return <-errCh
	}
}
