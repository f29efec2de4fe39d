// Package ipc owns the duplex byte stream between the daemon and the
// interpreter subprocess.
//
// The interpreter's stdin, stdout and stderr all share the remote end of an
// AF_UNIX stream socketpair, so the local end carries newline-terminated
// directives out and free-text diagnostics in. Nothing is parsed out of the
// inbound stream.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// ReadBufferSize bounds a single diagnostic read.
const ReadBufferSize = 512

var (
	// ErrPeerGone is returned by Send when the interpreter closed its end
	// (EPIPE or ECONNRESET).
	ErrPeerGone = errors.New("interpreter closed the channel")

	// ErrRetryLater is returned by Recv when no data is available yet.
	ErrRetryLater = errors.New("no data available")
)

// Channel is the local end of the interpreter socketpair.
type Channel struct {
	fd     int
	logger *slog.Logger
}

// NewPair creates a connected socketpair. The local end stays in this
// process; the remote end is meant to be handed to the child as its stdio
// and closed here once the child has been spawned. Both ends are
// close-on-exec, so the local end never leaks into the child.
func NewPair(logger *slog.Logger) (*Channel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("create socketpair: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	local := &Channel{fd: fds[0], logger: logger}
	remote := os.NewFile(uintptr(fds[1]), "interpreter-stdio")
	return local, remote, nil
}

// FD returns the underlying descriptor, for reactor registration.
func (c *Channel) FD() int { return c.fd }

// Send writes all of p, advancing over partial writes and retrying when
// interrupted by a signal. A vanished peer yields ErrPeerGone; anything else
// is an unexpected environment failure.
func (c *Channel) Send(p []byte) error {
	for len(p) > 0 {
		n, err := unix.SendmsgN(c.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				c.logger.Warn("interrupted while writing to interpreter, retrying")
				continue
			case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
				return ErrPeerGone
			default:
				return fmt.Errorf("write to interpreter: %w", err)
			}
		}
		p = p[n:]
	}
	return nil
}

// Recv performs one non-blocking read into buf.
//
// It returns ErrRetryLater when the read would block or was interrupted,
// io.EOF on an orderly shutdown or a reset connection, and a wrapped errno
// for anything else.
func (c *Channel) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return 0, ErrRetryLater
		case errors.Is(err, unix.ECONNRESET):
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("read from interpreter: %w", err)
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the local descriptor.
func (c *Channel) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("close interpreter channel: %w", err)
	}
	return nil
}

// FormatDiagnostic turns a chunk of interpreter output into a single log
// line: one trailing newline is dropped and the remaining ones become '\'.
func FormatDiagnostic(chunk []byte) string {
	s := string(chunk)
	s = strings.TrimSuffix(s, "\n")
	return strings.ReplaceAll(s, "\n", `\`)
}
