// Package ssh provides an SFTP file transport over SSH.
package ssh

import (
	"context"
	"io"
	"os"
	"time"
)

// Transport is the set of remote file operations the SFTP object store uses.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// HealthCheck sends a keep-alive over the open connection.
	HealthCheck(ctx context.Context) error

	// WriteFile streams r to remotePath, creating parent directories. A
	// non-zero mode is applied after the write.
	WriteFile(ctx context.Context, remotePath string, r io.Reader, mode uint32) (*FileTransferResult, error)

	ReadFile(ctx context.Context, remotePath string) ([]byte, error)

	// Stat fails with an error matching os.ErrNotExist for missing files.
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)

	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo describes the current connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// FileTransferResult reports one upload.
type FileTransferResult struct {
	BytesTransferred int64
	Duration         time.Duration

	// Checksum is the hex sha256 of the bytes sent.
	Checksum string
}

// TransportError wraps a failed remote operation.
type TransportError struct {
	Op  string
	Err error

	// IsTemporary marks failures worth retrying: dropped connections and
	// interrupted copies, not missing files or rejected credentials.
	IsTemporary bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Temporary() bool { return e.IsTemporary }

func opError(op string, err error, temporary bool) error {
	return &TransportError{Op: op, Err: err, IsTemporary: temporary}
}
