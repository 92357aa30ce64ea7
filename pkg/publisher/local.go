package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore stores objects as files below a root directory.
type LocalStore struct {
	root string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates root if needed and returns a store over it.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, storeFailed("mkdir", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute directory path.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) file(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes body to a temporary file next to the target and renames it
// into place. The content type is not recorded.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storeFailed("put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return storeFailed("put", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return storeFailed("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return storeFailed("put", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return storeFailed("put", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return storeFailed("put", key, err)
	}
	return nil
}

// Get reads the object file.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.file(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, storeFailed("get", key, err)
	}
	return data, nil
}

// Exists reports whether the object file exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Head stats the object file. Directories are reported as missing.
func (s *LocalStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	target, err := s.file(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return ObjectInfo{}, notFound(key, err)
	}
	if err != nil {
		return ObjectInfo{}, storeFailed("head", key, err)
	}
	return ObjectInfo{
		Path:        key,
		Size:        info.Size(),
		ContentType: DetectContentType(target),
		ModTime:     info.ModTime(),
	}, nil
}
