package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File stores the snapshot as one document on local disk.
type File struct {
	path  string
	codec Codec
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot: empty file path")
	}
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, codec: codec}, nil
}

func (f *File) String() string {
	return fmt.Sprintf("file:%s (%s)", f.path, f.codec.Name())
}

// Load reads and validates the snapshot. A missing file wraps ErrNotFound;
// an undecodable or invalid document wraps ErrCorrupt.
func (f *File) Load(ctx context.Context) (map[string]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, f.path)
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", f.path, err)
	}
	doc, err := f.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, f.path, err)
	}
	return Decode(doc)
}

// Save writes the snapshot to a temporary file in the same directory,
// fsyncs it, and renames it into place. On failure the previous file is
// left untouched.
func (f *File) Save(ctx context.Context, counts map[string]uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := Encode(counts)
	if err != nil {
		return err
	}
	data, err := f.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", f.codec.Name(), err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}

	// Rename durability depends on the directory entry reaching disk.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
