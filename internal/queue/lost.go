package queue

// lost is the single transition every failure signal and every voluntary
// close goes through. It is keyed on the current state, not on which
// signal fired, so EOF and child termination may arrive in either order and
// only the first one counts.
func (q *Queue) lost(failed bool) {
	if q.broken {
		return
	}

	if q.active {
		fd := q.conn.FD()
		if failed {
			q.logger.Warn("interpreter died, sets may be out of sync", "pid", q.pid)
			// Keep reading: the channel may still hold the reason it died.
			q.draining[fd] = q.conn
		} else {
			q.logger.Debug("closing interpreter", "pid", q.pid)
			q.reactor.Unregister(fd)
			if err := q.conn.Close(); err != nil {
				q.fatalf("%v", err)
			}
		}
		if failed {
			q.publish("queue.lost", map[string]any{"pid": q.pid})
		} else {
			q.publish("queue.flushed", map[string]any{"pid": q.pid})
		}
		q.conn = nil
		q.active = false
		q.pid = 0
		if q.flushArmed {
			q.flushArmed = false
			q.reactor.Cancel(q.flushTimer)
			q.flushTimer = 0
		}
	} else if failed {
		q.logger.Warn("interpreter considered broken post-mortem")
	}

	if failed {
		q.broken = true
		q.retryTimer = q.reactor.AfterFunc(q.cfg.RetryInterval, q.retryTimeout)
		q.publish("queue.broken", map[string]any{"retry_in": q.cfg.RetryInterval.String()})
	}
}

func (q *Queue) retryTimeout() {
	if q.flushArmed {
		q.fatalf("flush timer armed while the retry timer fired")
	}
	if !q.broken {
		q.fatalf("retry timer fired but the queue is not broken")
	}
	q.logger.Warn("trying to re-fill sets now")

	q.broken = false
	q.retryTimer = 0
	q.publish("queue.recovered", nil)
	q.reload()
}
