package watch

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/fwup/internal/api"
	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/ipset"
)

const (
	statusInterval = 2 * time.Second
	setsInterval   = 10 * time.Second
)

// --- Message types ---

type eventMsg events.Event

type statusMsg api.StatusResponse

type setsMsg []ipset.Set

type tickMsg time.Time

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{ err error }
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents feeds the daemon's event stream into ch, resuming after
// lastID. It returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(c *api.Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		err := c.Subscribe(context.Background(), lastID, nil, func(e events.Event) {
			ch <- e
		})
		return sseDisconnectedMsg{err: err}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchStatus(c *api.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return errMsg{err}
	}
	return statusMsg(st)
}

func fetchSets(c *api.Client) tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sets, err := c.ListSets(ctx)
	if err != nil {
		return errMsg{err}
	}
	return setsMsg(sets)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
