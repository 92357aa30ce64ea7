package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

var errNotConnected = errors.New("not connected")

// SSHClient is a Transport over one SSH connection and its SFTP session.
type SSHClient struct {
	config *Config

	mu          sync.RWMutex
	conn        *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	lastUsed    time.Time
	stopKeep    chan struct{}
}

var _ Transport = (*SSHClient)(nil)

// NewSSHClient validates config. No connection is made until Connect.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	return &SSHClient{config: config}, nil
}

// Connect dials the server and opens an SFTP session. A live connection is
// reused; a dead one is replaced.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if c.ping() == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("SFTP connection lost, reconnecting")
		_ = c.closeLocked()
	}

	clientConfig, err := c.config.ClientConfig()
	if err != nil {
		return opError("connect", err, false)
	}

	conn, err := dial(ctx, c.config.Address(), clientConfig)
	if err != nil {
		return err
	}

	session, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return opError("sftp-init", err, true)
	}

	c.conn, c.sftp = conn, session
	c.connectedAt = time.Now()
	c.lastUsed = c.connectedAt
	if c.config.KeepAlive > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(conn, c.stopKeep)
	}

	log.Debug().Str("address", c.config.Address()).Msg("SFTP session opened")
	return nil
}

// dial opens the TCP connection under ctx and runs the SSH handshake on it.
// Handshake failures, including rejected credentials, are not temporary.
func dial(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	tcp, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, opError("connect", err, true)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = tcp.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, address, config)
	if err != nil {
		_ = tcp.Close()
		return nil, opError("connect", err, false)
	}
	_ = tcp.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Disconnect closes the session. Calling it when not connected is a no-op.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.closeLocked(); err != nil {
		return opError("disconnect", err, false)
	}
	return nil
}

func (c *SSHClient) closeLocked() error {
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *SSHClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *SSHClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return opError("healthcheck", errNotConnected, false)
	}
	return c.ping()
}

// ping must be called with the lock held.
func (c *SSHClient) ping() error {
	if _, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return opError("healthcheck", err, true)
	}
	return nil
}

// keepAlive pings conn every KeepAlive until stop is closed or
// MaxMissedKeepAlives pings in a row fail.
func (c *SSHClient) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			missed++
			log.Warn().Err(err).Int("missed", missed).Msg("SFTP keep-alive failed")
			if missed >= c.config.MaxMissedKeepAlives {
				return
			}
			continue
		}
		missed = 0
		c.touch()
	}
}

func (c *SSHClient) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsed,
	}
}

func (c *SSHClient) session(op string) (*sftp.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.sftp == nil {
		return nil, opError(op, errNotConnected, false)
	}
	return c.sftp, nil
}
