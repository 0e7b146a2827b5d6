// Package ssh provides the SSH transport used for remote command execution.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/caravel-sh/caravel/pkg/resilience"
)

// DefaultPort is used when the deployment target does not specify one.
const DefaultPort = 22

// Client wraps an SSH connection to a single host.
type Client struct {
	config *ssh.ClientConfig
	host   string
	port   int
	conn   *ssh.Client
	mu     sync.Mutex
}

// NewClient creates an SSH client authenticating with the private key at
// keyPath. The connection is established lazily on first use.
func NewClient(host string, port int, user, keyPath string) (*Client, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}

	if port <= 0 {
		port = DefaultPort
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: TOFU host key verification
		Timeout:         60 * time.Second,
		ClientVersion:   "SSH-2.0-Caravel",
	}

	return &Client{
		config: config,
		host:   host,
		port:   port,
	}, nil
}

// Connect establishes the SSH connection, retrying transient failures with
// exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))

	return resilience.Retry(ctx, func() error {
		dialer := &net.Dialer{
			Timeout:   60 * time.Second,
			KeepAlive: 30 * time.Second,
		}

		tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("TCP dial failed: %w", err)
		}

		sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, c.config)
		if err != nil {
			tcpConn.Close()
			return fmt.Errorf("SSH handshake failed: %w", err)
		}

		c.conn = ssh.NewClient(sshConn, chans, reqs)
		return nil
	}, resilience.WithMaxRetries(3), resilience.WithInitialDelay(time.Second))
}

// Run executes a shell line on the remote host and returns stdout, stderr
// and the remote exit code. A non-zero exit is reported through err as an
// *ssh.ExitError; callers translate it to their own error type.
func (c *Client) Run(ctx context.Context, line string) (stdout, stderr string, exitCode int, err error) {
	if err := c.Connect(ctx); err != nil {
		return "", "", -1, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	session, err := conn.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	// Sessions have no native context support; close the session when the
	// context is cancelled so Run does not block forever.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	runErr := session.Run(line)
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	if ctx.Err() != nil {
		return stdout, stderr, -1, ctx.Err()
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitStatus(), runErr
	}
	return stdout, stderr, -1, fmt.Errorf("remote execution failed: %w", runErr)
}

// Host returns the host this client connects to.
func (c *Client) Host() string {
	return c.host
}

// Close tears down the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
