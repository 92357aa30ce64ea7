package publisher

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// Output types reported by OutputType.
const (
	OutputLocal  = "local"
	OutputS3     = "s3"
	OutputSFTP   = "sftp"
	OutputCustom = "custom"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// ObjectStore is a flat key space addressed by layout paths.
type ObjectStore interface {
	// Put stores body at path, replacing any existing object.
	Put(ctx context.Context, path string, body io.Reader, contentType string) error

	// Get returns the object content. A missing object is a NOT_FOUND error.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Head returns object metadata. A missing object is a NOT_FOUND error.
	Head(ctx context.Context, path string) (ObjectInfo, error)

	// Root is the absolute reference of the store, e.g. s3://bucket.
	Root() string
}

// OutputType names the kind of store.
func OutputType(store ObjectStore) string {
	switch store.(type) {
	case *LocalStore:
		return OutputLocal
	case *S3Store:
		return OutputS3
	case *SFTPStore:
		return OutputSFTP
	}
	return OutputCustom
}

// CloseStore releases store resources when the store holds any.
func CloseStore(store ObjectStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", engine.NewValidationError("object path %q must be a non-empty relative path", key)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", engine.NewValidationError("object path %q escapes the store root", key)
	}
	return cleaned, nil
}

func notFound(key string, err error) *engine.EngineError {
	return engine.NewPermanentError("object not found", err).
		WithCode(engine.ErrCodeNotFound).
		WithResource(key)
}

func storeFailed(op, key string, err error) *engine.EngineError {
	return engine.NewTransientError(fmt.Sprintf("object store %s failed", op), err).
		WithCode(engine.ErrCodeStoreFailed).
		WithResource(key).
		WithOperation(op)
}

// DetectContentType sniffs the media type of a local file.
func DetectContentType(localPath string) string {
	mt, err := mimetype.DetectFile(localPath)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func isNotFound(err error) bool {
	return engine.HasCode(err, engine.ErrCodeNotFound)
}
