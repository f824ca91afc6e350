package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artpar/apppublish/internal/core/agent"
	"github.com/artpar/apppublish/internal/core/crypto"
	"golang.org/x/crypto/ssh"
)

// =============================================================================
// SSH Channel
// =============================================================================

// SSHConfig configures an SSH channel.
type SSHConfig struct {
	Host           string
	Port           int // Default: 22
	User           string
	PrivateKey     []byte // PEM encoded private key
	HostKey        string // Expected host key in authorized_keys format; empty accepts any
	AgentPath      string // Default: apppublish-agent
	ConnectTimeout time.Duration
	Logger         *slog.Logger // Default: slog.Default()
}

// SSHChannel runs agent commands over SSH exec sessions.
type SSHChannel struct {
	cfg       SSHConfig
	signer    ssh.Signer
	hostKey   ssh.HostKeyCallback
	sshClient *ssh.Client
	mu        sync.Mutex // Protects sshClient
}

// NewSSHChannel creates an SSH channel. The connection is opened lazily.
func NewSSHChannel(cfg SSHConfig) (*SSHChannel, error) {
	signer, err := crypto.ParseSSHPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.AgentPath == "" {
		cfg.AgentPath = DefaultAgentPath
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey == "" {
		cfg.Logger.Warn("ssh host key checking disabled, set a host key to verify the server",
			"host", cfg.Host, "port", cfg.Port)
	} else {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		hostKey = ssh.FixedHostKey(key)
	}

	return &SSHChannel{cfg: cfg, signer: signer, hostKey: hostKey}, nil
}

// connect establishes the SSH connection if not already connected.
func (c *SSHChannel) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		// Check if connection is still alive
		if _, _, err := c.sshClient.SendRequest("keepalive@apppublish", true, nil); err == nil {
			return c.sshClient, nil
		}
		c.sshClient.Close()
		c.sshClient = nil
	}

	config := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.hostKey,
		Timeout:         c.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}

	c.sshClient = ssh.NewClient(sshConn, chans, reqs)
	return c.sshClient, nil
}

// Close closes the SSH connection.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		err := c.sshClient.Close()
		c.sshClient = nil
		return err
	}
	return nil
}

// Execute runs one agent command. There is no timeout besides ctx; publish
// and upgrade of large apps can take long.
func (c *SSHChannel) Execute(ctx context.Context, command agent.Command, request any) (*agent.Response, error) {
	input, err := encodeRequest(request)
	if err != nil {
		return nil, err
	}

	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	if input != nil {
		session.Stdin = bytes.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := strings.Join([]string{c.cfg.AgentPath, string(command)}, " ")

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		return nil, ctx.Err()
	case err := <-done:
		return decode(command, stdout.Bytes(), stderr.Bytes(), err)
	}
}
