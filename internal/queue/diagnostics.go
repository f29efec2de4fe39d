package queue

import (
	"errors"
	"io"

	"github.com/mattjoyce/fwup/internal/ipc"
)

// HandleReadable implements reactor.ReadHandler. It performs exactly one
// non-blocking read on the interpreter channel.
func (q *Queue) HandleReadable(fd int) {
	ch := q.channelFor(fd)
	if ch == nil {
		q.logger.Warn("readable event for unknown descriptor", "fd", fd)
		return
	}

	buf := make([]byte, ipc.ReadBufferSize)
	n, err := ch.Recv(buf)
	switch {
	case err == nil:
		text := ipc.FormatDiagnostic(buf[:n])
		q.logger.Warn("interpreter output", "output", text)
		q.publish("queue.output", map[string]any{"output": text})
	case errors.Is(err, ipc.ErrRetryLater):
		// It might work next time.
	case errors.Is(err, io.EOF):
		q.logger.Warn("interpreter closed the channel", "fd", fd)
		if q.active && ch == q.conn {
			q.lost(true)
			return
		}
		// The interpreter is gone and its leftover output has been read.
		delete(q.draining, fd)
		q.reactor.Unregister(fd)
		if err := ch.Close(); err != nil {
			q.fatalf("%v", err)
		}
	default:
		q.fatalf("%v", err)
	}
}

func (q *Queue) channelFor(fd int) *ipc.Channel {
	if q.conn != nil && q.conn.FD() == fd {
		return q.conn
	}
	return q.draining[fd]
}
