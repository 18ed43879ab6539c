package caf

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Reader opens a finalized CAF container for random-access reads.
// LoadIndex must be called before any other operation.
type Reader struct {
	path       string
	fileLength int64
	loaded     bool
	files      map[string]fileMetadata
}

// NewReader returns a Reader for the container at path. Call LoadIndex
// before using it.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// LoadIndex reads the footer and index region and validates the format
// version and every member's byte range.
func (r *Reader) LoadIndex() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("caf: stat container: %w", err)
	}
	fileLength := info.Size()
	if fileLength < 4 {
		return fmt.Errorf("%w: file shorter than footer", ErrCorruptContainer)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("caf: open container: %w", err)
	}
	defer f.Close()

	footer := make([]byte, 4)
	if _, err := f.ReadAt(footer, fileLength-4); err != nil {
		return fmt.Errorf("caf: read footer: %w", err)
	}
	indexSize := int64(binary.LittleEndian.Uint32(footer))
	if indexSize+4 > fileLength {
		return fmt.Errorf("%w: index size %d exceeds file length %d", ErrCorruptContainer, indexSize, fileLength)
	}

	indexStart := fileLength - 4 - indexSize
	indexBytes := make([]byte, indexSize)
	if _, err := f.ReadAt(indexBytes, indexStart); err != nil {
		return fmt.Errorf("caf: read index region: %w", err)
	}

	var idx index
	if err := json.Unmarshal(indexBytes, &idx); err != nil {
		return fmt.Errorf("%w: parse index JSON: %v", ErrCorruptContainer, err)
	}
	if idx.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrUnsupportedVersion, idx.FormatVersion, FormatVersion)
	}

	payloadLength := indexStart
	for member, meta := range idx.Files {
		if meta.StartByte < 0 || meta.StartByte >= meta.EndByte || meta.EndByte > payloadLength {
			return fmt.Errorf("%w: member %q has invalid range [%d, %d) for payload length %d",
				ErrCorruptContainer, member, meta.StartByte, meta.EndByte, payloadLength)
		}
	}

	r.fileLength = fileLength
	r.files = idx.Files
	r.loaded = true
	return nil
}

func (r *Reader) requireLoaded() error {
	if !r.loaded {
		return ErrIndexNotLoaded
	}
	return nil
}

// List returns every indexed member path, in unspecified order.
func (r *Reader) List() ([]string, error) {
	if err := r.requireLoaded(); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	return paths, nil
}

// Has reports whether memberPath is present in the container.
func (r *Reader) Has(memberPath string) (bool, error) {
	if err := r.requireLoaded(); err != nil {
		return false, err
	}
	_, ok := r.files[memberPath]
	return ok, nil
}

// Metadata returns the byte range of a member.
type Metadata struct {
	StartByte int64
	EndByte   int64
}

// Metadata returns the start/end byte offsets of memberPath within the
// payload region.
func (r *Reader) Metadata(memberPath string) (Metadata, error) {
	if err := r.requireLoaded(); err != nil {
		return Metadata{}, err
	}
	m, ok := r.files[memberPath]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrMemberNotFound, memberPath)
	}
	return Metadata{StartByte: m.StartByte, EndByte: m.EndByte}, nil
}

// Extract reads and returns the exact bytes of a member.
func (r *Reader) Extract(memberPath string) ([]byte, error) {
	if err := r.requireLoaded(); err != nil {
		return nil, err
	}
	m, ok := r.files[memberPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMemberNotFound, memberPath)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("caf: open container: %w", err)
	}
	defer f.Close()

	buf := make([]byte, m.EndByte-m.StartByte)
	if _, err := f.ReadAt(buf, m.StartByte); err != nil {
		return nil, fmt.Errorf("caf: read member %q: %w", memberPath, err)
	}
	return buf, nil
}

// ExtractRange reads a sub-range [from, to) of a member's bytes, relative
// to the member's own start, without loading the whole member into
// memory. The retrieval façade serves whole members through Extract and
// does not call ExtractRange.
func (r *Reader) ExtractRange(memberPath string, from, to int64) ([]byte, error) {
	if err := r.requireLoaded(); err != nil {
		return nil, err
	}
	m, ok := r.files[memberPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMemberNotFound, memberPath)
	}
	memberLen := m.EndByte - m.StartByte
	if from < 0 || to > memberLen || from > to {
		return nil, fmt.Errorf("caf: invalid range [%d, %d) for member %q of length %d", from, to, memberPath, memberLen)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("caf: open container: %w", err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	if _, err := f.ReadAt(buf, m.StartByte+from); err != nil {
		return nil, fmt.Errorf("caf: read member %q range: %w", memberPath, err)
	}
	return buf, nil
}

// ExtractAll writes every member to dir, recreating the member path's
// directory components beneath it. Files are written 0644, directories
// 0755.
func (r *Reader) ExtractAll(dir string) error {
	if err := r.requireLoaded(); err != nil {
		return err
	}
	for member := range r.files {
		data, err := r.Extract(member)
		if err != nil {
			return fmt.Errorf("caf: extract %q: %w", member, err)
		}
		outPath := filepath.Join(dir, member)
		if err := os.MkdirAll(memberPathDir(dir, member), 0755); err != nil {
			return fmt.Errorf("caf: create directories for %q: %w", member, err)
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("caf: write %q: %w", member, err)
		}
	}
	return nil
}

// FileLength returns the total container size in bytes, valid after
// LoadIndex.
func (r *Reader) FileLength() (int64, error) {
	if err := r.requireLoaded(); err != nil {
		return 0, err
	}
	return r.fileLength, nil
}
