package publisher

import (
	"context"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/transports/ssh"
)

// OpenStore selects the publishing target: localOut when set, else the S3
// bucket, else the SFTP server.
func OpenStore(ctx context.Context, cfg *config.Config, localOut string) (ObjectStore, error) {
	switch {
	case localOut != "":
		return NewLocalStore(localOut)

	case cfg.AWS.S3Bucket != "":
		store, err := NewS3Store(ctx, S3Options{
			Bucket:   cfg.AWS.S3Bucket,
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Check(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case cfg.SFTP != nil && cfg.SFTP.Host != "":
		client, err := ssh.NewSSHClient(SSHConfig(cfg.SFTP))
		if err != nil {
			return nil, engine.NewPermanentError("invalid sftp configuration", err).
				WithCode(engine.ErrCodeConfig)
		}
		return NewSFTPStore(client, cfg.SFTP.Host, cfg.SFTP.Port, cfg.SFTP.Root)
	}

	return nil, engine.NewConfigError("no publishing target: set aws.s3_bucket, sftp.host or a local output directory")
}

// SSHConfig maps the sftp section onto a transport configuration.
func SSHConfig(c *config.SFTPConfig) *ssh.Config {
	sc := ssh.NewConfig(c.Host, c.User)
	if c.Port != 0 {
		sc.Port = c.Port
	}
	sc.KeyFile = c.KeyPath
	sc.Password = c.Password
	sc.KnownHosts = c.KnownHosts
	return sc
}
