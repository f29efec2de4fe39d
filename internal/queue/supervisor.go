package queue

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/mattjoyce/fwup/internal/ipc"
)

// start spawns the interpreter with its stdin, stdout and stderr all bound
// to the remote end of a fresh socketpair.
func (q *Queue) start() {
	q.logger.Debug("starting interpreter", "path", q.cfg.Path, "args", q.cfg.Args)
	if q.active {
		q.fatalf("trying to start an already active interpreter")
	}

	local, remote, err := ipc.NewPair(q.logger)
	if err != nil {
		q.fatalf("%v", err)
	}
	// The local end is close-on-exec, so the child never sees it.
	q.reactor.Register(local.FD(), q)

	cmd := exec.Command(q.cfg.Path, q.cfg.Args...)
	cmd.Stdin = remote
	cmd.Stdout = remote
	cmd.Stderr = remote
	// Keep terminal job-control signals away from the interpreter; it is
	// stopped by closing its input.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pid, spawnErr := q.reactor.Spawn(cmd)
	// The parent never needs the remote end, whether or not the spawn worked.
	if err := remote.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		q.fatalf("close remote end of interpreter channel: %v", err)
	}
	if spawnErr != nil {
		// Nobody holds the remote end now, so the first write fails and the
		// read side sees end of stream; the usual loss path takes it from here.
		q.logger.Error("could not exec interpreter", "path", q.cfg.Path, "error", spawnErr)
		pid = 0
	}

	q.active = true
	q.conn = local
	q.pid = pid
	q.starts++
	q.publish("queue.started", map[string]any{"pid": pid})
}

// ChildExited handles a termination notice from the reactor. Notices for
// other processes, or arriving after the queue already let go of the
// interpreter, are ignored.
func (q *Queue) ChildExited(pid int, status syscall.WaitStatus) {
	if !q.active {
		return // no interpreter of ours is running
	}
	if q.pid != pid {
		return // some other child
	}

	logger := q.logger.With("pid", pid)
	switch {
	case status.Exited() && status.ExitStatus() != 0:
		logger.Error("interpreter terminated with non-zero status", "status", status.ExitStatus())
	case status.Exited():
		// Its input is still open, so it had no business exiting.
		logger.Warn("interpreter exited while still in use")
	case status.Signaled():
		logger.Error("interpreter terminated by signal", "signal", status.Signal().String())
	default:
		logger.Error("interpreter died for an unknown reason", "wait_status", uint32(status))
	}
	q.lost(true)
}
