// Package firewall keeps the kernel's ipsets in line with the desired state
// held in the store. Changes are persisted first and then streamed to the
// interpreter queue as incremental directives; whenever the queue recovers
// from a failure every set is replayed from the store.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/log"
	"github.com/mattjoyce/fwup/internal/queue"
	"github.com/mattjoyce/fwup/internal/reactor"
	"github.com/mattjoyce/fwup/internal/state"
)

// Loop is the part of the reactor the manager needs: the queue's
// capabilities plus a way to run work on the loop from other goroutines.
type Loop interface {
	reactor.Reactor
	OnChildExit(h reactor.ChildHandler)
	Call(ctx context.Context, fn func()) error
}

// Publisher receives firewall and queue events.
type Publisher interface {
	Publish(eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

const resyncTimeout = 30 * time.Second

// SetView is a set with its current desired members.
type SetView struct {
	ipset.Set
	Members []string `json:"members"`
	Digest  string   `json:"digest"`
}

// Status combines the queue snapshot with store totals.
type Status struct {
	Queue        queue.Status `json:"queue"`
	Sets         int          `json:"sets"`
	LastReplayID string       `json:"last_replay_id,omitempty"`
	LastReplayAt *time.Time   `json:"last_replay_at,omitempty"`
}

// Manager owns the interpreter queue. Construct it before the loop starts
// running.
type Manager struct {
	loop   Loop
	store  *state.Store
	queue  *queue.Queue
	events Publisher
	logger *slog.Logger

	// Loop-owned.
	resyncRetry time.Duration
	resyncTimer reactor.TimerID

	mu           sync.Mutex
	lastReplayID string
	lastReplayAt time.Time
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger *slog.Logger
	events Publisher
	queue  queue.Config
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithPublisher(p Publisher) Option {
	return func(o *options) { o.events = p }
}

// WithQueueConfig overrides the interpreter command and timings.
func WithQueueConfig(cfg queue.Config) Option {
	return func(o *options) { o.queue = cfg }
}

func New(loop Loop, store *state.Store, opts ...Option) *Manager {
	o := options{events: nopPublisher{}}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		loop:        loop,
		store:       store,
		events:      o.events,
		logger:      o.logger,
		resyncRetry: queue.DefaultRetryInterval,
	}
	if o.queue.RetryInterval > 0 {
		m.resyncRetry = o.queue.RetryInterval
	}
	if m.logger == nil {
		m.logger = log.WithComponent("firewall")
	}
	m.queue = queue.New(loop, m.resync,
		queue.WithLogger(o.logger),
		queue.WithConfig(o.queue),
		queue.WithPublisher(o.events),
	)
	loop.OnChildExit(m.queue)
	return m
}

// Start replays the stored state so the kernel matches it after a restart.
func (m *Manager) Start(ctx context.Context) error {
	return m.Resync(ctx)
}

// Resync replays every stored set through the queue.
func (m *Manager) Resync(ctx context.Context) error {
	return m.onLoop(ctx, m.resync)
}

// resync runs on the loop, either on request or as the queue's recovery
// hook. Sets deleted while the interpreter was unreachable are destroyed
// first, then every stored set is replayed. A set that cannot be read is
// skipped and the whole replay is tried again after the retry interval.
func (m *Manager) resync() {
	if id := m.resyncTimer; id != 0 {
		m.resyncTimer = 0
		m.loop.Cancel(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	replayID := uuid.NewString()
	logger := m.logger.With("replay_id", replayID)
	failed := 0

	pending, err := m.store.PendingDestroys(ctx)
	if err != nil {
		logger.Error("resync: listing pending destroys failed", "error", err)
		failed++
	} else {
		m.destroy(ctx, pending, true)
	}

	sets, err := m.store.ListSets(ctx)
	if err != nil {
		logger.Error("resync: listing sets failed", "error", err)
		m.retryResync(logger)
		return
	}

	replayed, total := 0, 0
	for _, set := range sets {
		members, err := m.store.Members(ctx, set.Name)
		if err != nil {
			if errors.Is(err, state.ErrSetNotFound) {
				continue // deleted meanwhile
			}
			logger.Error("resync: listing members failed, skipping set", "ipset", set.Name, "error", err)
			failed++
			continue
		}
		for _, d := range ipset.Replay(set, members) {
			m.queue.Enqueue(d)
		}
		replayed++
		total += len(members)
	}

	now := time.Now().UTC()
	m.mu.Lock()
	m.lastReplayID = replayID
	m.lastReplayAt = now
	m.mu.Unlock()

	logger.Info("replayed sets",
		"sets", replayed,
		"destroyed", len(pending),
		"members", total,
		"failed", failed,
		"queue_broken", m.queue.Broken(),
	)
	m.events.Publish("firewall.resync", map[string]any{
		"replay_id": replayID,
		"sets":      replayed,
		"destroyed": len(pending),
		"members":   total,
		"failed":    failed,
	})
	if failed > 0 {
		m.retryResync(logger)
	}
}

// retryResync schedules another full replay. A broken queue replays on
// its own when it recovers, so nothing is armed then.
func (m *Manager) retryResync(logger *slog.Logger) {
	if m.queue.Broken() || m.resyncTimer != 0 {
		return
	}
	logger.Warn("resync incomplete, retrying", "retry_in", m.resyncRetry)
	m.resyncTimer = m.loop.AfterFunc(m.resyncRetry, m.resync)
}

// destroy sends destroy directives for deleted sets and forgets them once
// they were written. With ensure, each destroy is preceded by a create of
// the same definition so it also succeeds when the set never reached the
// kernel. Runs on the loop.
func (m *Manager) destroy(ctx context.Context, sets []ipset.Set, ensure bool) {
	if len(sets) == 0 {
		return
	}
	names := make([]string, 0, len(sets))
	for _, set := range sets {
		if ensure {
			m.queue.Enqueue(ipset.Create(set))
		}
		m.queue.Enqueue(ipset.Destroy(set.Name))
		names = append(names, set.Name)
	}
	if m.queue.Broken() {
		m.logger.Warn("interpreter broken, destroy deferred to recovery", "sets", names)
		return
	}
	if err := m.store.ClearDestroys(ctx, names...); err != nil {
		m.logger.Error("clearing pending destroys failed", "sets", names, "error", err)
	}
}

// CreateSet records a set and creates it in the kernel. It reports false
// when an identical set already existed.
func (m *Manager) CreateSet(ctx context.Context, set ipset.Set) (bool, error) {
	set = set.WithDefaults()
	created, err := m.store.PutSet(ctx, set)
	if err != nil || !created {
		return created, err
	}
	m.logger.Info("set created", "ipset", set.Name, "type", set.Type, "family", set.Family)
	m.events.Publish("firewall.set_created", set)
	return true, m.onLoop(ctx, func() {
		// A set of this name whose destroy never arrived may still exist
		// in the kernel with another definition.
		pending, err := m.store.PendingDestroys(ctx)
		if err != nil {
			m.logger.Error("listing pending destroys failed", "ipset", set.Name, "error", err)
		}
		for _, old := range pending {
			if old.Name == set.Name {
				m.destroy(ctx, []ipset.Set{old}, true)
			}
		}
		m.queue.Enqueue(ipset.Create(set))
	})
}

// DeleteSet forgets a set and destroys it in the kernel.
func (m *Manager) DeleteSet(ctx context.Context, name string) error {
	set, err := m.store.DeleteSet(ctx, name)
	if err != nil {
		return err
	}
	m.logger.Info("set deleted", "ipset", name)
	m.events.Publish("firewall.set_deleted", map[string]any{"name": name})
	return m.onLoop(ctx, func() { m.destroy(ctx, []ipset.Set{set}, false) })
}

// AddMembers records members and adds the new ones to the kernel set. It
// returns the members that were not already present, canonicalised.
func (m *Manager) AddMembers(ctx context.Context, name string, members []string) ([]string, error) {
	added, err := m.store.AddMembers(ctx, name, members)
	if err != nil || len(added) == 0 {
		return added, err
	}
	directives := make([]string, 0, len(added))
	for _, member := range added {
		directives = append(directives, ipset.Add(name, member))
	}
	m.logger.Debug("members added", "ipset", name, "count", len(added))
	return added, m.enqueue(ctx, directives...)
}

// RemoveMember drops one member. It reports whether it was present.
func (m *Manager) RemoveMember(ctx context.Context, name, member string) (bool, error) {
	canonical, removed, err := m.store.RemoveMember(ctx, name, member)
	if err != nil || !removed {
		return removed, err
	}
	m.logger.Debug("member removed", "ipset", name, "member", canonical)
	return true, m.enqueue(ctx, ipset.Del(name, canonical))
}

// ListSets returns all set definitions.
func (m *Manager) ListSets(ctx context.Context) ([]ipset.Set, error) {
	return m.store.ListSets(ctx)
}

// GetSet returns a set with its members and digest.
func (m *Manager) GetSet(ctx context.Context, name string) (SetView, error) {
	set, err := m.store.GetSet(ctx, name)
	if err != nil {
		return SetView{}, err
	}
	members, err := m.store.Members(ctx, name)
	if err != nil {
		return SetView{}, err
	}
	digest, err := m.store.Digest(ctx, name)
	if err != nil {
		return SetView{}, err
	}
	return SetView{Set: set, Members: members, Digest: digest}, nil
}

// Flush closes the current batch so the interpreter applies it now.
func (m *Manager) Flush(ctx context.Context) error {
	return m.onLoop(ctx, m.queue.Flush)
}

// Status reports queue and store state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := m.onLoop(ctx, func() { st.Queue = m.queue.Status() }); err != nil {
		return Status{}, err
	}
	sets, err := m.store.ListSets(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Sets = len(sets)

	m.mu.Lock()
	st.LastReplayID = m.lastReplayID
	if !m.lastReplayAt.IsZero() {
		at := m.lastReplayAt
		st.LastReplayAt = &at
	}
	m.mu.Unlock()
	return st, nil
}

func (m *Manager) enqueue(ctx context.Context, directives ...string) error {
	return m.onLoop(ctx, func() {
		for _, d := range directives {
			m.queue.Enqueue(d)
		}
	})
}

func (m *Manager) onLoop(ctx context.Context, fn func()) error {
	if err := m.loop.Call(ctx, fn); err != nil {
		return fmt.Errorf("firewall loop: %w", err)
	}
	return nil
}
