// Package vice talks to the VICE remote monitor over its TCP text
// protocol.
package vice

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/demovault/retro-agent/internal/logger"
)

const defaultTimeout = time.Second

// DefaultDrive is the first C64 disk drive.
const DefaultDrive = 8

// Client issues commands against a VICE remote monitor.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a monitor client for the given address
// (host:port, monitor default port is 6510).
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: defaultTimeout}
}

// AttachImage mounts a disk image into the given drive and returns the
// monitor's response text.
func (c *Client) AttachImage(ctx context.Context, imagePath string, drive int) (string, error) {
	logger.Infof("vice: attaching image %s to drive %d", imagePath, drive)

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("vice monitor dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	reader := bufio.NewReader(conn)

	// The monitor greets with a prompt before accepting commands.
	if _, err := readUntilPrompt(reader); err != nil {
		return "", fmt.Errorf("vice monitor prompt: %w", err)
	}

	command := fmt.Sprintf("attach %q %d\n", imagePath, drive)
	logger.Debugf("vice: sending %q", command)
	if _, err := conn.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("vice monitor write: %w", err)
	}

	result, err := readUntilPrompt(reader)
	if err != nil {
		return "", fmt.Errorf("vice monitor response: %w", err)
	}
	logger.Debugf("vice: attach result %q", result)
	return result, nil
}

// readUntilPrompt consumes bytes up to and including the next '>' prompt.
func readUntilPrompt(r *bufio.Reader) (string, error) {
	data, err := r.ReadString('>')
	if err != nil {
		return "", err
	}
	return data, nil
}
