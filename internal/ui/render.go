package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/clanhub/internal/collection"
	"github.com/five82/clanhub/internal/logtail"
	"github.com/five82/clanhub/internal/model"
)

const leadWidth = 10

func (m Model) renderMain() string {
	header := m.renderHeader()
	tabs := m.renderTabs()
	status := m.renderStatus()
	footer := m.renderFooter()

	used := lipgloss.Height(header) + lipgloss.Height(tabs) + lipgloss.Height(status) + lipgloss.Height(footer)
	bodyHeight := m.height - used
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	body := m.renderList(bodyHeight)

	return lipgloss.JoinVertical(lipgloss.Left, header, tabs, body, status, footer)
}

func (m Model) renderHeader() string {
	styles := m.theme.Styles()

	left := styles.Logo.Render("clanhub")

	viewer := "anonymous"
	if m.hub != nil {
		v := m.hub.Viewer()
		switch {
		case v.Email != "":
			viewer = v.Email
		case v.ID != "":
			viewer = v.ID
		}
		if v.Privileged {
			viewer += " " + styles.WarningText.Render("[admin]")
		}
	}

	parts := []string{left, styles.MutedText.Render(viewer)}
	if m.unread > 0 {
		parts = append(parts, styles.DangerText.Render(fmt.Sprintf("%d unread", m.unread)))
	}
	if m.online != nil && !m.online() {
		parts = append(parts, styles.WarningText.Render("offline"))
	}

	return styles.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderTabs() string {
	styles := m.theme.Styles()
	rendered := make([]string, 0, len(m.kinds))
	for i, k := range m.kinds {
		label := k.Title()
		if k == model.KindNotifications && m.unread > 0 {
			label = fmt.Sprintf("%s (%d)", label, m.unread)
		}
		if i == m.tab {
			rendered = append(rendered, styles.TabActive.Render(label))
		} else {
			rendered = append(rendered, styles.Tab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderList(height int) string {
	styles := m.theme.Styles()
	records := m.snapshot.Records

	if len(records) == 0 {
		msg := "Nothing here yet."
		switch {
		case m.snapshot.Loading():
			msg = "Loading..."
		case m.snapshot.LastError != nil:
			msg = "Could not load " + m.currentKind().Title() + "."
		}
		return lipgloss.NewStyle().Height(height).Padding(1, 2).Render(styles.FaintText.Render(msg))
	}

	sel := m.selected[m.currentKind()]
	start := 0
	if sel >= height {
		start = sel - height + 1
	}
	end := min(start+height, len(records))

	now := time.Now()
	textWidth := max(m.width-leadWidth-14, 10)
	lines := make([]string, 0, height)
	for i := start; i < end; i++ {
		line := summarize(m.currentKind(), records[i], now)
		lines = append(lines, m.renderRow(line, i == sel, textWidth, styles))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(line recordLine, selected bool, textWidth int, styles Styles) string {
	marker := "  "
	if line.unread {
		marker = "● "
	}
	lead := lipgloss.NewStyle().Width(leadWidth).Render(truncate(line.lead, leadWidth-1))
	text := truncate(line.text, textWidth)

	if selected {
		row := marker + lead + text
		if line.badge != "" {
			row += "  [" + line.badge + "]"
		}
		return styles.Selected.Width(m.width).Render(row)
	}

	row := styles.AccentText.Render(marker) + styles.MutedText.Render(lead)
	if line.unread {
		row += styles.Text.Bold(true).Render(text)
	} else {
		row += styles.Text.Render(text)
	}
	if line.badge != "" {
		row += "  " + styles.StatusStyle(line.badge).Render(line.badge)
	}
	return row
}

func (m Model) renderStatus() string {
	styles := m.theme.Styles()
	if m.notice != "" {
		if m.noticeErr {
			return styles.Footer.Render(styles.DangerText.Render(m.notice))
		}
		return styles.Footer.Render(styles.SuccessText.Render(m.notice))
	}
	return styles.Footer.Render(statusText(m.snapshot, time.Now(), styles))
}

func statusText(s collection.Snapshot, now time.Time, styles Styles) string {
	count := fmt.Sprintf("%d records", len(s.Records))
	switch {
	case s.Closed:
		return styles.FaintText.Render("closed")
	case s.Loading():
		return styles.WarningText.Render("loading") + "  " + count
	case s.IsOffline():
		return styles.DangerText.Render(fmt.Sprintf("offline (%d failed loads)", s.ConsecutiveFailures)) + "  " + count
	case s.LastError != nil:
		return styles.DangerText.Render("error: "+s.LastError.Error()) + "  " + count
	case s.Paused:
		return styles.WarningText.Render("paused, waiting for realtime") + "  " + count
	}
	updated := "never updated"
	if !s.LastUpdated.IsZero() {
		updated = "updated " + relativeTime(s.LastUpdated, now)
	}
	return count + "  " + styles.FaintText.Render(updated)
}

func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	return styles.Footer.Render(m.help.View(m.keys))
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	title := styles.Header.Width(m.width).Render(styles.Logo.Render("clanhub") + "  " + styles.MutedText.Render(m.logFile))

	height := max(m.height-2, 1)
	var lines []string
	switch {
	case m.logErr != nil:
		lines = []string{styles.DangerText.Render(m.logErr.Error())}
	case len(m.logLines) == 0:
		lines = []string{styles.FaintText.Render("Log is empty.")}
	default:
		start := max(len(m.logLines)-height, 0)
		for _, line := range m.logLines[start:] {
			text := truncate(line, m.width-2)
			switch logtail.Classify(line) {
			case logtail.Error:
				lines = append(lines, styles.DangerText.Render(text))
			case logtail.Warn:
				lines = append(lines, styles.WarningText.Render(text))
			default:
				lines = append(lines, styles.Text.Render(text))
			}
		}
	}
	for len(lines) < height {
		lines = append(lines, "")
	}

	footer := styles.Footer.Render(styles.FaintText.Render("L to return"))
	return lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), footer)
}
