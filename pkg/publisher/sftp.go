package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/geoexhibit/geoexhibit/pkg/transports/ssh"
)

// SFTPStore stores objects below a remote directory over SFTP.
type SFTPStore struct {
	transport ssh.Transport
	host      string
	port      int
	root      string
}

var _ ObjectStore = (*SFTPStore)(nil)

// NewSFTPStore wraps a transport. The transport is connected on first use.
func NewSFTPStore(transport ssh.Transport, host string, port int, root string) (*SFTPStore, error) {
	if !strings.HasPrefix(root, "/") {
		return nil, fmt.Errorf("sftp root %q must be an absolute path", root)
	}
	return &SFTPStore{
		transport: transport,
		host:      host,
		port:      port,
		root:      path.Clean(root),
	}, nil
}

// Root returns sftp://host[:port]/root.
func (s *SFTPStore) Root() string {
	host := s.host
	if s.port != 0 && s.port != 22 {
		host = fmt.Sprintf("%s:%d", s.host, s.port)
	}
	return "sftp://" + host + strings.TrimRight(s.root, "/")
}

// Close disconnects the transport.
func (s *SFTPStore) Close() error {
	return s.transport.Disconnect()
}

func (s *SFTPStore) remote(ctx context.Context, key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if !s.transport.IsConnected() {
		if err := s.transport.Connect(ctx); err != nil {
			return "", storeFailed("connect", s.Root(), err)
		}
	}
	return path.Join(s.root, cleaned), nil
}

// Put writes body to the remote file. SFTP keeps no content type.
func (s *SFTPStore) Put(ctx context.Context, key string, body io.Reader, _ string) error {
	remote, err := s.remote(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.transport.WriteFile(ctx, remote, body, 0o644); err != nil {
		return storeFailed("put", key, err)
	}
	return nil
}

// Get reads the remote file.
func (s *SFTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	remote, err := s.remote(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := s.transport.ReadFile(ctx, remote)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, storeFailed("get", key, err)
	}
	return data, nil
}

// Exists stats the remote file.
func (s *SFTPStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Head stats the remote file.
func (s *SFTPStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	remote, err := s.remote(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.transport.Stat(ctx, remote)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return ObjectInfo{}, notFound(key, err)
	}
	if err != nil {
		return ObjectInfo{}, storeFailed("head", key, err)
	}
	return ObjectInfo{Path: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}
