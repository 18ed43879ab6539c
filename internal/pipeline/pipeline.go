// Package pipeline drives the single-writer state machine that
// accumulates per-file upload requests into CAF containers, ships each
// finished container to the remote blob service, indexes it in the
// catalog, and only then acknowledges the queue messages it holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cafpack/cafpack/internal/blobstore"
	"github.com/cafpack/cafpack/internal/caf"
	"github.com/cafpack/cafpack/internal/catalog"
	"github.com/cafpack/cafpack/internal/objectstore"
	"github.com/cafpack/cafpack/internal/queue"
)

// Config configures one pipeline worker.
type Config struct {
	WorkerID             string
	MaxContainerBytes    int64
	MaxFilesPerContainer int
	InactivityTimeout    time.Duration
	DownloadTimeout      time.Duration
	TempDir              string
	KeepCAFFiles         bool
}

// DefaultConfig returns the limits defined in limits.go for workerID.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:             workerID,
		MaxContainerBytes:    DefaultMaxContainerBytes,
		MaxFilesPerContainer: DefaultMaxFilesPerContainer,
		InactivityTimeout:    DefaultInactivityTimeout,
		DownloadTimeout:      DefaultDownloadTimeout,
		TempDir:              os.TempDir(),
	}
}

// Pipeline is a single-writer packing worker. One Pipeline drives at
// most one Open container at a time; Run must not be called
// concurrently from more than one goroutine.
type Pipeline struct {
	cfg      Config
	consumer queue.Consumer
	objects  objectstore.Store
	blobs    blobstore.Store
	cat      catalog.Store
	log      *zap.Logger

	mu    sync.Mutex
	state State
}

// New builds a Pipeline from its collaborators.
func New(cfg Config, consumer queue.Consumer, objects objectstore.Store, blobs blobstore.Store, cat catalog.Store, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		consumer: consumer,
		objects:  objects,
		blobs:    blobs,
		cat:      cat,
		log:      log,
	}
}

// State reports the pipeline's current stage. Safe to call from any
// goroutine.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// inflightFile is one member accumulated into the currently Open
// container, carrying everything needed to build its catalog entry and
// ack or nack its queue message.
type inflightFile struct {
	msg        *queue.Message
	memberPath string
}

// Run drives containers through the state machine until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := p.runOneContainer(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// runOneContainer blocks for the first message of a new container,
// accumulates further messages until a finalize trigger fires, then
// finalizes, uploads, indexes, and acks.
func (p *Pipeline) runOneContainer(ctx context.Context) error {
	p.setState(StateIdle)

	first, err := p.consumer.Receive(ctx)
	if err != nil {
		return err
	}

	containerID := fmt.Sprintf("batch_%d.caf", time.Now().UnixMilli())
	tempPath := filepath.Join(p.cfg.TempDir, containerID)
	writer, err := caf.NewWriter(tempPath, p.cfg.MaxContainerBytes)
	if err != nil {
		p.nack(ctx, first)
		return fmt.Errorf("pipeline: open container: %w", err)
	}

	p.setState(StateOpen)
	lastActivity := time.Now()

	pending, carry, reason, err := p.fillContainer(ctx, writer, first, &lastActivity)
	if err != nil {
		p.nackAll(ctx, pending)
		writer.Cleanup()
		return err
	}
	if reason == reasonShutdown {
		// ctx is already cancelled; finalizing and shipping against a
		// dead context would just fail PutContainer. Return every held
		// message to the broker unacked instead.
		p.nackAll(ctx, pending)
		p.nack(ctx, carry)
		writer.Cleanup()
		return nil
	}
	if len(pending) == 0 {
		// Every message offered to this container was dropped as
		// unpackable (e.g. oversized); there is nothing to finalize.
		writer.Cleanup()
		return nil
	}

	p.log.Info("finalizing container",
		zap.String("container_id", containerID),
		zap.Int("files", len(pending)),
		zap.Int64("bytes", writer.Size()),
		zap.String("reason", string(reason)),
	)

	p.setState(StateFinalizing)
	finalPath, err := writer.Finalize()
	if err != nil {
		p.nackAll(ctx, pending)
		p.nack(ctx, carry)
		writer.Cleanup()
		return fmt.Errorf("pipeline: finalize container %s: %w", containerID, err)
	}

	if err := p.uploadAndIndex(ctx, containerID, finalPath, pending); err != nil {
		p.nackAll(ctx, pending)
		p.nack(ctx, carry)
		p.removeContainerFile(finalPath)
		return err
	}

	p.setState(StateAcking)
	for i := range pending {
		p.ack(ctx, pending[i].msg)
	}

	if carry != nil {
		// carry did not fit this container; make it visible again so
		// the next container's fill picks it straight up.
		p.nack(ctx, carry)
	}

	p.removeContainerFile(finalPath)
	return nil
}

// fillContainer accumulates messages into writer until a finalize
// trigger fires. It returns the accumulated files, an optional message
// that was received but did not fit (and must start the next
// container), and why accumulation stopped.
func (p *Pipeline) fillContainer(ctx context.Context, writer *caf.Writer, first *queue.Message, lastActivity *time.Time) ([]inflightFile, *queue.Message, finalizeReason, error) {
	var pending []inflightFile
	msg := first

	for {
		file, appended, dropped, err := p.appendMessage(ctx, writer, msg)
		if err != nil {
			p.nack(ctx, msg)
			return pending, nil, "", err
		}

		switch {
		case dropped:
			p.log.Error("dropping unpackable message",
				zap.String("task_id", msg.Request.TaskID),
				zap.String("file_path", msg.Request.FilePath),
			)
			p.ack(ctx, msg)
		case appended:
			pending = append(pending, *file)
			*lastActivity = time.Now()
		default:
			// Not dropped, not appended: the file is valid but does
			// not fit the remaining budget of this container.
			return pending, msg, reasonCapacity, nil
		}

		if len(pending) == 0 {
			next, err := p.consumer.Receive(ctx)
			if err != nil {
				return pending, nil, "", err
			}
			msg = next
			continue
		}

		if len(pending) >= p.cfg.MaxFilesPerContainer {
			return pending, nil, reasonFileCount, nil
		}
		if writer.Size() >= p.cfg.MaxContainerBytes {
			return pending, nil, reasonCapacity, nil
		}

		waitCtx, cancel := context.WithDeadline(ctx, lastActivity.Add(p.cfg.InactivityTimeout))
		next, err := p.consumer.Receive(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return pending, nil, reasonShutdown, nil
			}
			return pending, nil, reasonInactivity, nil
		}
		msg = next
	}
}

// appendMessage streams one message's object into writer.
//
//   - appended=true: the file was written; file describes its range.
//   - dropped=true: the file can never be packed (oversized relative
//     to the container budget, empty, or a duplicate member path
//     within this container) and has been permanently consumed.
//   - neither: the file is valid but does not fit the remaining budget
//     of this specific container; the caller must carry it forward.
func (p *Pipeline) appendMessage(ctx context.Context, writer *caf.Writer, msg *queue.Message) (file *inflightFile, appended bool, dropped bool, err error) {
	downloadCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	// file_path doubles as the object-store key; each Store
	// implementation is responsible for making it filesystem- or
	// API-safe (objectstore.Sanitize for the local backend).
	stream, size, err := p.objects.OpenStream(downloadCtx, msg.Request.FilePath)
	if err != nil {
		return nil, false, false, fmt.Errorf("pipeline: open object %q: %w", msg.Request.FilePath, err)
	}
	defer stream.Close()

	if size == 0 {
		return nil, false, true, nil
	}

	memberPath := msg.Request.TaskID + "/" + msg.Request.FilePath
	ok, err := writer.AppendStream(downloadCtx, memberPath, stream, size)
	if err != nil {
		if errors.Is(err, caf.ErrDuplicateMember) {
			return nil, false, true, nil
		}
		return nil, false, false, fmt.Errorf("pipeline: append %q: %w", memberPath, err)
	}
	if !ok {
		if size > p.cfg.MaxContainerBytes {
			return nil, false, true, nil
		}
		return nil, false, false, nil
	}
	return &inflightFile{msg: msg, memberPath: memberPath}, true, false, nil
}

func (p *Pipeline) uploadAndIndex(ctx context.Context, containerID, finalPath string, pending []inflightFile) error {
	p.setState(StateUploading)
	f, err := os.Open(finalPath)
	if err != nil {
		return fmt.Errorf("pipeline: open finalized container: %w", err)
	}
	info, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return fmt.Errorf("pipeline: stat finalized container: %w", statErr)
	}
	err = p.blobs.PutContainer(ctx, containerID, f, info.Size())
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: container %s: %v", blobstore.ErrPutFailed, containerID, err)
	}

	p.setState(StateIndexing)
	entries := make([]catalog.Entry, 0, len(pending))
	now := time.Now()
	for _, file := range pending {
		entries = append(entries, catalog.Entry{
			TaskID:    file.msg.Request.TaskID,
			FilePath:  file.msg.Request.FilePath,
			BundleID:  containerID,
			WorkerID:  p.cfg.WorkerID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := p.cat.Insert(ctx, entries); err != nil {
		return fmt.Errorf("pipeline: index container %s: %w", containerID, err)
	}
	return nil
}

func (p *Pipeline) removeContainerFile(path string) {
	if p.cfg.KeepCAFFiles {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("failed to remove container file", zap.String("path", path), zap.Error(err))
	}
}

func (p *Pipeline) ack(ctx context.Context, msg *queue.Message) {
	if msg == nil {
		return
	}
	if err := p.consumer.Ack(ctx, msg); err != nil {
		p.log.Error("ack failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (p *Pipeline) nack(ctx context.Context, msg *queue.Message) {
	if msg == nil {
		return
	}
	if err := p.consumer.Nack(ctx, msg); err != nil {
		p.log.Error("nack failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (p *Pipeline) nackAll(ctx context.Context, files []inflightFile) {
	for _, file := range files {
		p.nack(ctx, file.msg)
	}
}
