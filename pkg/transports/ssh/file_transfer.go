package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog/log"
)

// WriteFile streams r to remotePath, creating parent directories.
func (c *SSHClient) WriteFile(ctx context.Context, remotePath string, r io.Reader, mode uint32) (*FileTransferResult, error) {
	session, err := c.session("write")
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.transferContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, opError("write", err, false)
	}

	started := time.Now()
	if err := session.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, opError("write", fmt.Errorf("mkdir %s: %w", path.Dir(remotePath), err), false)
	}
	f, err := session.Create(remotePath)
	if err != nil {
		return nil, opError("write", fmt.Errorf("create %s: %w", remotePath, err), true)
	}

	sum := sha256.New()
	n, err := copyWithContext(ctx, io.MultiWriter(f, sum), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, opError("write", fmt.Errorf("copy to %s: %w", remotePath, err), ctx.Err() == nil)
	}

	if mode != 0 {
		if err := session.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("chmod failed")
		}
	}
	c.touch()

	result := &FileTransferResult{
		BytesTransferred: n,
		Duration:         time.Since(started),
		Checksum:         hex.EncodeToString(sum.Sum(nil)),
	}
	log.Debug().Str("remote", remotePath).Int64("bytes", n).Dur("duration", result.Duration).Msg("uploaded")
	return result, nil
}

// ReadFile returns the content of remotePath.
func (c *SSHClient) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	session, err := c.session("read")
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.transferContext(ctx)
	defer cancel()

	f, err := session.Open(remotePath)
	if err != nil {
		return nil, opError("read", err, !os.IsNotExist(err))
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, f); err != nil {
		return nil, opError("read", err, ctx.Err() == nil)
	}
	c.touch()
	return buf.Bytes(), nil
}

// Stat returns file information for remotePath.
func (c *SSHClient) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	session, err := c.session("stat")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := session.Stat(remotePath)
	if err != nil {
		return nil, opError("stat", err, !os.IsNotExist(err))
	}
	return info, nil
}

func (c *SSHClient) transferContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.TransferTimeout > 0 {
		return context.WithTimeout(ctx, c.config.TransferTimeout)
	}
	return context.WithCancel(ctx)
}

// copyWithContext copies src to dst in 32 KiB chunks, stopping between
// chunks when ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
