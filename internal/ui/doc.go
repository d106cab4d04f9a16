// Package ui provides a terminal console for the clan hub.
//
// # Overview
//
// The console is a Bubble Tea program over a [Hub]. Each synchronized
// collection gets a tab; the active tab lists the collection's records in
// the order the hub keeps them. The UI never holds records of its own: it
// reads a snapshot whenever the hub reports a change and on a slow timer.
//
// # Actions
//
// Notifications can be marked read one at a time or all at once. Admins can
// approve or reject clan requests from the Requests tab. Every action runs as
// a tea.Cmd and reports its outcome on the status line.
//
// # Files
//
//   - app.go: Model, messages, commands and Run
//   - render.go: header, tabs, record list, status line and footer
//   - format.go: per-collection row summaries
//   - help.go: keyboard shortcut overlay
//   - keys.go: key bindings
//   - theme.go: color themes and Lipgloss styles
//
// Theme and active tab are saved to the prefs file when they change.
package ui
