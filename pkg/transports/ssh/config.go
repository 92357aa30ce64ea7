package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes an SFTP endpoint. A key file takes precedence over a
// password; with neither set, the usual keys under ~/.ssh are tried.
type Config struct {
	Host string
	Port int
	User string

	KeyFile       string
	KeyPassphrase string
	Password      string

	// KnownHosts is a known_hosts file. Host keys are not verified when empty.
	KnownHosts string

	DialTimeout time.Duration

	// TransferTimeout bounds a single upload or download. Zero disables it.
	TransferTimeout time.Duration

	// KeepAlive is the keep-alive interval; zero disables keep-alives.
	KeepAlive           time.Duration
	MaxMissedKeepAlives int
}

// defaultKeyNames are tried in order when no key file or password is set.
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// NewConfig returns a Config for host and user with default timeouts.
func NewConfig(host, user string) *Config {
	return &Config{
		Host:                host,
		Port:                22,
		User:                user,
		DialTimeout:         30 * time.Second,
		TransferTimeout:     10 * time.Minute,
		MaxMissedKeepAlives: 3,
	}
}

// Validate checks the endpoint and resolves a default key file when no
// credentials are configured.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.DialTimeout <= 0:
		return errors.New("dial timeout must be positive")
	case c.TransferTimeout < 0:
		return errors.New("transfer timeout must not be negative")
	}

	if c.KeyFile == "" && c.Password == "" {
		c.KeyFile = findDefaultKey()
		if c.KeyFile == "" {
			return errors.New("no credentials: set a key file or password, no default key found")
		}
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("key file: %w", err)
		}
	}
	return nil
}

func findDefaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range defaultKeyNames {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ClientConfig builds the x/crypto client configuration.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.DialTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	if c.KeyFile != "" {
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if c.Password == "" {
		return nil, errors.New("no credentials configured")
	}

	// Many servers only offer keyboard-interactive for the password prompt.
	answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = c.Password
		}
		return answers, nil
	}
	return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var signer ssh.Signer
	if c.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", c.KeyFile, err)
	}
	return signer, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return callback, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
