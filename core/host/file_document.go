package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileDocument is a working copy on disk standing in for an editor buffer.
type FileDocument struct {
	path string

	mu    sync.RWMutex
	dirty bool
}

// NewFileDocument wraps the working copy at path.
func NewFileDocument(path string) *FileDocument {
	return &FileDocument{path: path}
}

// Path returns the working copy's path.
func (d *FileDocument) Path() string {
	return d.path
}

// Content reads the working copy.
func (d *FileDocument) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return "", fmt.Errorf("read working copy: %w", err)
	}
	return string(data), nil
}

// Write replaces the working copy through a temp file and rename, keeping
// the existing file mode.
func (d *FileDocument) Write(content string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(d.path); err == nil {
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return fmt.Errorf("write working copy: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write working copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write working copy: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write working copy: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write working copy: %w", err)
	}
	return nil
}

func (d *FileDocument) SetDirty(dirty bool) {
	d.mu.Lock()
	d.dirty = dirty
	d.mu.Unlock()
}

func (d *FileDocument) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// StaticDocument serves fixed content. Useful for hosts that capture the
// buffer before committing.
type StaticDocument struct {
	mu      sync.RWMutex
	content string
	dirty   bool
}

func NewStaticDocument(content string) *StaticDocument {
	return &StaticDocument{content: content}
}

func (d *StaticDocument) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content, nil
}

// Set replaces the content.
func (d *StaticDocument) Set(content string) {
	d.mu.Lock()
	d.content = content
	d.mu.Unlock()
}

func (d *StaticDocument) SetDirty(dirty bool) {
	d.mu.Lock()
	d.dirty = dirty
	d.mu.Unlock()
}

func (d *StaticDocument) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}
