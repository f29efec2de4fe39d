// Package queue supervises the long-lived `ipset restore` interpreter.
//
// Directives are written straight through to the interpreter's stdin as they
// are enqueued; the interpreter is started lazily and closed again once the
// queue has been idle for the flush interval. Losing the interpreter (write
// error, end of stream, or termination) puts the queue into a broken state in
// which directives are dropped until the retry timer fires and the recovery
// hook replays the desired state.
//
// A Queue is not safe for concurrent use. Every method must be called from
// the goroutine running the reactor the queue was built with.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/fwup/internal/ipc"
	"github.com/mattjoyce/fwup/internal/log"
	"github.com/mattjoyce/fwup/internal/reactor"
)

const (
	DefaultInterpreter   = "/usr/sbin/ipset"
	DefaultFlushInterval = 5 * time.Second
	DefaultRetryInterval = 60 * time.Second
)

// DefaultArgs runs ipset in idempotent restore mode.
var DefaultArgs = []string{"-exist", "restore"}

// Config describes the interpreter and the queue's fixed timings.
type Config struct {
	Path          string
	Args          []string
	FlushInterval time.Duration
	RetryInterval time.Duration
}

// DefaultConfig returns the stock ipset configuration.
func DefaultConfig() Config {
	return Config{
		Path:          DefaultInterpreter,
		Args:          append([]string(nil), DefaultArgs...),
		FlushInterval: DefaultFlushInterval,
		RetryInterval: DefaultRetryInterval,
	}
}

// Publisher receives queue lifecycle notifications. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Status is a point-in-time view of the queue.
type Status struct {
	Active            bool   `json:"active"`
	Broken            bool   `json:"broken"`
	PID               int    `json:"pid,omitempty"`
	FlushArmed        bool   `json:"flush_armed"`
	Draining          int    `json:"draining"`
	Starts            uint64 `json:"starts"`
	DirectivesWritten uint64 `json:"directives_written"`
	DirectivesDropped uint64 `json:"directives_dropped"`
}

// Queue batches directives for one interpreter subprocess.
type Queue struct {
	reactor reactor.Reactor
	cfg     Config
	logger  *slog.Logger
	events  Publisher
	reload  func()

	active     bool
	broken     bool
	flushArmed bool
	flushTimer reactor.TimerID
	retryTimer reactor.TimerID
	conn       *ipc.Channel
	pid        int

	// Read ends kept open after a failure so trailing diagnostics can be
	// logged. They are closed on their own end of stream.
	draining map[int]*ipc.Channel

	starts  uint64
	written uint64
	dropped uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithConfig overrides the interpreter and timings. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(q *Queue) {
		if cfg.Path != "" {
			q.cfg.Path = cfg.Path
			q.cfg.Args = append([]string(nil), cfg.Args...)
		}
		if cfg.FlushInterval > 0 {
			q.cfg.FlushInterval = cfg.FlushInterval
		}
		if cfg.RetryInterval > 0 {
			q.cfg.RetryInterval = cfg.RetryInterval
		}
	}
}

// WithPublisher forwards lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) {
		q.events = p
	}
}

// New creates an idle queue. reload is called every time the queue leaves
// the broken state and is expected to re-enqueue the full desired state.
func New(r reactor.Reactor, reload func(), opts ...Option) *Queue {
	if r == nil {
		panic("queue: nil reactor")
	}
	if reload == nil {
		panic("queue: nil recovery hook")
	}
	q := &Queue{
		reactor:  r,
		cfg:      DefaultConfig(),
		logger:   log.WithComponent("queue"),
		reload:   reload,
		draining: make(map[int]*ipc.Channel),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue writes one directive to the interpreter, starting it if needed.
//
// directive must be non-empty and end in its only newline; anything else is
// a caller bug and panics. While the queue is broken the directive is
// silently dropped.
func (q *Queue) Enqueue(directive string) {
	if directive == "" {
		q.fatalf("empty directive")
	}
	if i := strings.IndexByte(directive, '\n'); i != len(directive)-1 {
		q.fatalf("directive %q is not terminated by a single newline", directive)
	}
	line := directive[:len(directive)-1]

	if q.broken {
		q.dropped++
		q.logger.Log(context.Background(), log.LevelTrace, "not queueing directive, interpreter is broken", "directive", line)
		return
	}
	if !q.active {
		q.start()
	}
	if !q.active || q.conn == nil {
		q.fatalf("interpreter failed to start")
	}

	q.logger.Log(context.Background(), log.LevelTrace, "directive", "directive", line)
	if err := q.conn.Send([]byte(directive)); err != nil {
		if errors.Is(err, ipc.ErrPeerGone) {
			q.lost(true)
			return
		}
		q.fatalf("%v", err)
	}
	q.written++

	if !q.flushArmed {
		q.flushArmed = true
		q.flushTimer = q.reactor.AfterFunc(q.cfg.FlushInterval, q.flushTimeout)
	}
}

// Flush closes the interpreter's input so it applies everything sent so
// far and exits. It does not mark the queue broken. Flushing a broken or
// idle queue does nothing.
func (q *Queue) Flush() {
	q.lost(false)
}

func (q *Queue) flushTimeout() {
	q.flushArmed = false
	q.flushTimer = 0
	q.Flush()
}

// Status reports the current state.
func (q *Queue) Status() Status {
	return Status{
		Active:            q.active,
		Broken:            q.broken,
		PID:               q.pid,
		FlushArmed:        q.flushArmed,
		Draining:          len(q.draining),
		Starts:            q.starts,
		DirectivesWritten: q.written,
		DirectivesDropped: q.dropped,
	}
}

// Broken reports whether directives are currently being dropped.
func (q *Queue) Broken() bool { return q.broken }

func (q *Queue) publish(eventType string, data map[string]any) {
	if q.events == nil {
		return
	}
	q.events.Publish(eventType, data)
}

// fatalf reports an environment or programming error. These are not
// recoverable; the panic is expected to take the process down.
func (q *Queue) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	q.logger.Error("queue invariant violated", "error", msg)
	panic("queue: " + msg)
}
