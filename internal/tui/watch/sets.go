package watch

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/fwup/internal/ipset"
)

func newSetsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Set", Width: 32},
			{Title: "Type", Width: 9},
			{Title: "Family", Width: 7},
			{Title: "Maxelem", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func setRows(sets []ipset.Set) []table.Row {
	rows := make([]table.Row, 0, len(sets))
	for _, s := range sets {
		rows = append(rows, table.Row{
			s.Name,
			string(s.Type),
			string(s.Family),
			strconv.Itoa(s.MaxElem),
		})
	}
	return rows
}

func renderSets(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render("SETS")
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No sets defined")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
