package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/fwup/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func eventStyle(eventType string, theme Theme) lipgloss.Style {
	switch eventType {
	case "queue.broken", "queue.lost":
		return theme.StatusBroken
	case "queue.recovered", "queue.flushed":
		return theme.StatusOK
	case "queue.started":
		return theme.StatusActive
	case "queue.output":
		return theme.Highlight
	}
	if strings.HasPrefix(eventType, "firewall.") {
		return theme.Header
	}
	return theme.Dim
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := eventStyle(e.Type, theme).Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc renders the payload as sorted key=value pairs.
func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	if err := json.Unmarshal(e.Data, &data); err != nil || len(data) == 0 {
		raw := string(e.Data)
		if raw == "{}" {
			return ""
		}
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(data[k])
		if k == "replay_id" && len(v) > 8 {
			v = v[:8]
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// setsChanged reports whether an event should trigger a /sets refresh.
func setsChanged(e events.Event) bool {
	switch e.Type {
	case "firewall.set_created", "firewall.set_deleted":
		return true
	}
	return false
}
