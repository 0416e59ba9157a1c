package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var errEscapesRoot = errors.New("path escapes archive root")

// FileSystem is the archive's view of disk: every path is relative to a
// root directory and may not leave it.
type FileSystem struct {
	root string
	// appendMu keeps concurrent workers from interleaving lines in runs.jsonl.
	appendMu sync.Mutex
}

func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: filepath.Clean(root)}
}

// within rejects absolute and parent-relative paths.
func within(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, errEscapesRoot)
	}
	return cleaned, nil
}

func (fs *FileSystem) resolve(rel string) (string, error) {
	cleaned, err := within(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(fs.root, cleaned)
	if full != fs.root && !strings.HasPrefix(full, fs.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, errEscapesRoot)
	}
	return full, nil
}

// create resolves rel and makes its parent directory.
func (fs *FileSystem) create(rel string) (string, error) {
	full, err := fs.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	return full, nil
}

// Save replaces the file at rel.
func (fs *FileSystem) Save(ctx context.Context, rel string, data []byte) error {
	full, err := fs.create(rel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

// Append adds data to the end of rel, creating it if needed.
func (fs *FileSystem) Append(ctx context.Context, rel string, data []byte) error {
	full, err := fs.create(rel)
	if err != nil {
		return err
	}

	fs.appendMu.Lock()
	defer fs.appendMu.Unlock()

	f, err := os.OpenFile(full, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", rel, err)
	}
	return f.Close()
}

func (fs *FileSystem) Load(ctx context.Context, rel string) ([]byte, error) {
	full, err := fs.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}

// List returns the root-relative paths matching a glob pattern.
func (fs *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	cleaned, err := within(pattern)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(fs.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}

	var out []string
	for _, m := range matches {
		rel, err := filepath.Rel(fs.root, m)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}
