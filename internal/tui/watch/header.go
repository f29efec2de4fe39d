package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/fwup/internal/api"
)

// DaemonState is the last /status answer plus connection bookkeeping.
type DaemonState struct {
	Status    api.StatusResponse
	Connected bool
	LastCheck time.Time
}

// queueLabel classifies the interpreter the way an operator reads it.
func queueLabel(s DaemonState, theme Theme) string {
	q := s.Status.Queue
	switch {
	case !s.Connected:
		return theme.StatusBroken.Render("DISCONNECTED")
	case q.Broken:
		return theme.StatusBroken.Render("BROKEN")
	case q.Active:
		return theme.StatusActive.Render(fmt.Sprintf("ACTIVE pid %d", q.PID))
	default:
		return theme.StatusIdle.Render("IDLE")
	}
}

func renderHeader(s DaemonState, spin spinner.Model, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	indicator := " "
	if s.Connected && s.Status.Queue.Active {
		indicator = spin.View()
	}
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" FWUP WATCH %s", indicator)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	q := s.Status.Queue
	statsLine := fmt.Sprintf(" Interpreter: %s  ⏱ %s  Sets: %d  Starts: %d",
		queueLabel(s, theme),
		formatDuration(time.Duration(s.Status.UptimeSeconds)*time.Second),
		s.Status.Sets,
		q.Starts,
	)

	countersLine := fmt.Sprintf(" Written: %d  Dropped: %s  Draining: %d  Flush armed: %t",
		q.DirectivesWritten,
		dropped(q.DirectivesDropped, theme),
		q.Draining,
		q.FlushArmed,
	)

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.LastEvent()).Round(time.Second))
	}
	replay := "none"
	if s.Status.LastReplayAt != nil {
		replay = s.Status.LastReplayAt.Local().Format("15:04:05")
	}
	activityLine := fmt.Sprintf(" Last replay: %s  Last event: %s %s",
		replay, lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		countersLine,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func dropped(n uint64, theme Theme) string {
	s := fmt.Sprintf("%d", n)
	if n > 0 {
		return theme.StatusBroken.Render(s)
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
