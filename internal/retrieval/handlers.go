package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/catalog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"workerId":  s.cfg.WorkerID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// resolvedFile is the catalog lookup plus the member path derived from
// it, shared by the three /file* handlers.
type resolvedFile struct {
	entry      catalog.Entry
	memberPath string
}

func (s *Server) resolveFile(w http.ResponseWriter, r *http.Request) (resolvedFile, bool) {
	taskID := r.PathValue("taskId")
	filePath := r.PathValue("filePath")

	if err := validateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return resolvedFile{}, false
	}
	if err := validateFilePath(filePath); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return resolvedFile{}, false
	}

	entry, err := s.catalog.Lookup(r.Context(), taskID, filePath)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			s.log.Error("catalog lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errInternal)
		}
		return resolvedFile{}, false
	}

	return resolvedFile{entry: entry, memberPath: taskID + "/" + filePath}, true
}

// handleFile serves a single packed file's bytes.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolveFile(w, r)
	if !ok {
		return
	}

	reader, err := s.cache.Get(r.Context(), resolved.entry.BundleID)
	if err != nil {
		s.log.Error("mount container failed", zap.String("bundle_id", resolved.entry.BundleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	data, err := reader.Extract(resolved.memberPath)
	if err != nil {
		s.log.Error("extract member failed", zap.String("member", resolved.memberPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	filename := path.Base(resolved.entry.FilePath)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)

	if !s.cfg.KeepCAFFiles {
		if err := s.cache.Release(resolved.entry.BundleID); err != nil {
			s.log.Warn("release container failed", zap.String("bundle_id", resolved.entry.BundleID), zap.Error(err))
		}
	}
}

// handleFileInfo serves a file's catalog record without its bytes.
func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolveFile(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filePath":   resolved.entry.FilePath,
		"taskId":     resolved.entry.TaskID,
		"bundleId":   resolved.entry.BundleID,
		"jsWorkerId": resolved.entry.WorkerID,
		"createdAt":  resolved.entry.CreatedAt,
		"updatedAt":  resolved.entry.UpdatedAt,
	})
}

// handleFileProof serves the remote blob service's integrity proofs
// for a packed file.
func (s *Server) handleFileProof(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolveFile(w, r)
	if !ok {
		return
	}

	proofs, err := s.proofs.Get(r.Context(), resolved.entry.BundleID, resolved.entry.TaskID, resolved.entry.FilePath)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			s.log.Error("fetch proof failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errInternal)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
}

var errInternal = errors.New("retrieval: internal error")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
