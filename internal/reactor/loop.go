package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("reactor stopped")

// unknownStatus is reported when a child's wait status cannot be read.
// It is neither an exit nor a signal termination.
const unknownStatus = syscall.WaitStatus(0xffff)

const defaultQueueSize = 64

// Loop is the concrete Reactor.
type Loop struct {
	events   chan func()
	quit     chan struct{}
	quitOnce sync.Once
	logger   *slog.Logger

	// Owned by the loop goroutine.
	watchers  map[int]*watcher
	timers    map[TimerID]*time.Timer
	nextTimer TimerID
	children  []ChildHandler
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithQueueSize sets how many posted callbacks may be pending before
// posters block.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.events = make(chan func(), n)
		}
	}
}

// New creates a Loop. Nothing runs until Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		events:   make(chan func(), defaultQueueSize),
		quit:     make(chan struct{}),
		logger:   slog.Default(),
		watchers: make(map[int]*watcher),
		timers:   make(map[TimerID]*time.Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Reactor = (*Loop)(nil)

// Run dispatches callbacks until ctx is cancelled. It must be called at most
// once. On return all timers are stopped and all watchers are released; the
// registered descriptors themselves are left to their owners.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("reactor loop started")
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

func (l *Loop) shutdown() {
	l.quitOnce.Do(func() { close(l.quit) })
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	for fd := range l.watchers {
		l.Unregister(fd)
	}
	l.logger.Debug("reactor loop stopped")
}

// Post queues fn to run on the loop. It reports false if the loop has
// already stopped. Post may be called from any goroutine.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrStopped
	}
}

// OnChildExit adds a handler for child terminations. Call it before Run or
// from the loop goroutine.
func (l *Loop) OnChildExit(h ChildHandler) {
	l.children = append(l.children, h)
}

// AfterFunc implements Reactor.
func (l *Loop) AfterFunc(d time.Duration, fn func()) TimerID {
	l.nextTimer++
	id := l.nextTimer
	l.timers[id] = time.AfterFunc(d, func() {
		l.Post(func() {
			if _, ok := l.timers[id]; !ok {
				return // cancelled after the timer fired
			}
			delete(l.timers, id)
			fn()
		})
	})
	return id
}

// Cancel implements Reactor.
func (l *Loop) Cancel(id TimerID) {
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// PendingTimers reports how many timers are armed.
func (l *Loop) PendingTimers() int {
	return len(l.timers)
}

// Spawn implements Reactor. The child is reaped on a background goroutine
// and its status is delivered on the loop.
func (l *Loop) Spawn(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	pid := cmd.Process.Pid
	l.logger.Debug("child started", "pid", pid, "path", cmd.Path)

	go func() {
		err := cmd.Wait()
		status := unknownStatus
		if cmd.ProcessState != nil {
			if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
				status = ws
			}
		} else if err != nil {
			l.logger.Error("waiting for child failed", "pid", pid, "error", err)
		}
		l.Post(func() {
			for _, h := range l.children {
				h.ChildExited(pid, status)
			}
		})
	}()
	return pid, nil
}

// watcher polls one descriptor on behalf of the loop.
type watcher struct {
	fd    int
	h     ReadHandler
	wakeR int
	wakeW int
	stop  chan struct{}
	done  chan struct{}
}

// Register implements Reactor. Registering the same fd twice is a
// programming error.
func (l *Loop) Register(fd int, h ReadHandler) {
	if _, ok := l.watchers[fd]; ok {
		panic(fmt.Sprintf("reactor: descriptor %d registered twice", fd))
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		panic(fmt.Sprintf("reactor: create wake pipe: %v", err))
	}
	w := &watcher{
		fd:    fd,
		h:     h,
		wakeR: p[0],
		wakeW: p[1],
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	l.watchers[fd] = w
	go l.watch(w)
}

// Unregister implements Reactor.
func (l *Loop) Unregister(fd int) {
	w, ok := l.watchers[fd]
	if !ok {
		return
	}
	delete(l.watchers, fd)
	close(w.stop)
	_, _ = unix.Write(w.wakeW, []byte{1})
	<-w.done
	_ = unix.Close(w.wakeR)
	_ = unix.Close(w.wakeW)
}

// Registered reports whether fd currently has a watcher.
func (l *Loop) Registered(fd int) bool {
	_, ok := l.watchers[fd]
	return ok
}

func (l *Loop) watch(w *watcher) {
	defer close(w.done)

	fds := []unix.PollFd{
		{Fd: int32(w.fd), Events: unix.POLLIN},
		{Fd: int32(w.wakeR), Events: unix.POLLIN},
	}
	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.logger.Error("poll failed", "fd", w.fd, "error", err)
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			l.logger.Error("polled descriptor is not open", "fd", w.fd)
			return
		}

		handled := make(chan struct{})
		ev := func() {
			defer close(handled)
			if l.watchers[w.fd] != w {
				return // unregistered while queued
			}
			w.h.HandleReadable(w.fd)
		}
		select {
		case l.events <- ev:
		case <-w.stop:
			return
		case <-l.quit:
			return
		}
		select {
		case <-handled:
		case <-w.stop:
			return
		case <-l.quit:
			return
		}
	}
}
