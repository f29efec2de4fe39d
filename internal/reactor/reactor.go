// Package reactor provides the single-threaded event loop that drives the
// interpreter queue.
//
// All callbacks (readable descriptors, timer expiry, child termination) are
// dispatched one at a time on the goroutine running Loop.Run, so code driven
// by the loop needs no locking. Other goroutines hand work to the loop with
// Post or Call.
package reactor

import (
	"os/exec"
	"syscall"
	"time"
)

// TimerID identifies a pending timer. The zero value is never issued.
type TimerID uint64

// ReadHandler is notified when a registered descriptor becomes readable or
// its peer hangs up. Each notification is expected to perform one read.
type ReadHandler interface {
	HandleReadable(fd int)
}

// ChildHandler receives termination notices for processes started through
// Spawn. Every handler sees every child; filtering by pid is up to the
// handler.
type ChildHandler interface {
	ChildExited(pid int, status syscall.WaitStatus)
}

// ChildHandlerFunc adapts a function to ChildHandler.
type ChildHandlerFunc func(pid int, status syscall.WaitStatus)

// ChildExited calls f(pid, status).
func (f ChildHandlerFunc) ChildExited(pid int, status syscall.WaitStatus) { f(pid, status) }

// Reactor is the capability the queue needs from the loop. Every method must
// be called from the loop goroutine.
type Reactor interface {
	// Register starts delivering readable events for fd to h.
	Register(fd int, h ReadHandler)
	// Unregister stops delivery for fd. Once it returns, no further
	// HandleReadable call for fd is made and the caller may close fd.
	Unregister(fd int)
	// Spawn starts cmd; its termination is reported to the child handlers.
	Spawn(cmd *exec.Cmd) (pid int, err error)
	// AfterFunc runs fn on the loop after d.
	AfterFunc(d time.Duration, fn func()) TimerID
	// Cancel disarms a timer. fn will not run after Cancel returns.
	Cancel(id TimerID)
}
