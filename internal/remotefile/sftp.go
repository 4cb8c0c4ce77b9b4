package remotefile

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Config holds SFTP session settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// HostKeyFingerprint pins the server key (ssh-keygen SHA256 format).
	// Empty accepts any key.
	HostKeyFingerprint string
	Timeout            time.Duration
}

// Client transfers files over one SFTP session per call
type Client struct {
	cfg Config
}

// NewClient creates a remote file client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HostKeyFingerprint == "" {
		log.Warn().
			Str("host", cfg.Host).
			Msg("SFTP host key is not pinned, any server key will be accepted")
	}
	return &Client{cfg: cfg}
}

// Get copies remotePath into localPath, returning bytes written
func (c *Client) Get(ctx context.Context, remotePath, localPath string) (int64, error) {
	var n int64
	err := c.withSession(ctx, func(client *sftp.Client) error {
		src, err := client.Open(remotePath)
		if err != nil {
			return &domain.TransportError{Op: "sftp open " + remotePath, Err: err}
		}
		defer src.Close()

		dst, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("failed to create local file: %w", err)
		}
		defer dst.Close()

		n, err = io.Copy(dst, src)
		if err != nil {
			return &domain.TransportError{Op: "sftp get " + remotePath, Err: err}
		}
		return dst.Sync()
	})
	return n, err
}

// Put copies localPath to remotePath, replacing any existing file
func (c *Client) Put(ctx context.Context, localPath, remotePath string) (int64, error) {
	var n int64
	err := c.withSession(ctx, func(client *sftp.Client) error {
		src, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("failed to open local file: %w", err)
		}
		defer src.Close()

		dst, err := client.Create(remotePath)
		if err != nil {
			return &domain.TransportError{Op: "sftp create " + remotePath, Err: err}
		}
		defer dst.Close()

		n, err = io.Copy(dst, src)
		if err != nil {
			return &domain.TransportError{Op: "sftp put " + remotePath, Err: err}
		}
		return nil
	})
	return n, err
}

// withSession dials SSH, opens SFTP, runs fn and tears both down
func (c *Client) withSession(ctx context.Context, fn func(*sftp.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	sshCfg := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.cfg.Password)},
		HostKeyCallback: c.hostKeyCallback(),
		Timeout:         c.cfg.Timeout,
	}

	sshClient, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return &domain.TransportError{Op: "ssh dial", Err: err}
	}
	defer sshClient.Close()

	// Abort a stuck transfer when the caller gives up
	stop := context.AfterFunc(ctx, func() { sshClient.Close() })
	defer stop()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return &domain.TransportError{Op: "sftp session", Err: err}
	}
	defer client.Close()

	return fn(client)
}

func (c *Client) hostKeyCallback() ssh.HostKeyCallback {
	if c.cfg.HostKeyFingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}

	want := c.cfg.HostKeyFingerprint
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		if got := ssh.FingerprintSHA256(key); got != want {
			return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
		}
		return nil
	}
}
