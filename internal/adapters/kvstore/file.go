package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/okian/podium/pkg/metrics"
)

const filePermission = 0o600

// File is a Store persisted as a flat YAML mapping. Save rewrites the whole
// file through a temp file and rename so a crash never leaves a torn file.
type File struct {
	*Memory
	path string
}

// OpenFile loads path if it exists; a missing file starts empty.
func OpenFile(path string) (*File, error) {
	f := &File{Memory: NewMemory(), path: path}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	vals := map[string]string{}
	if err := yaml.Unmarshal(b, &vals); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	for k, v := range vals {
		f.vals[k] = v
	}
	return f, nil
}

// Save writes the current values to disk.
func (f *File) Save(context.Context) error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()
	return f.flush()
}

// Commit applies b and writes the result to disk.
func (f *File) Commit(_ context.Context, b Batch) error {
	return f.commit(b, f.flush)
}

func (f *File) flush() error {
	b, err := yaml.Marshal(f.snapshot())
	if err != nil {
		metrics.RecordStoreSave("file", "error")
		return fmt.Errorf("%w: encode: %w", ErrSave, err)
	}
	if err := writeAtomic(f.path, b); err != nil {
		metrics.RecordStoreSave("file", "error")
		return fmt.Errorf("%w: %s: %w", ErrSave, f.path, err)
	}
	metrics.RecordStoreSave("file", "ok")
	return f.Memory.count()
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(filePermission); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
