// Package ui styles the CLI's terminal output with lipgloss.
//
// Commands print through a [Palette] so headings, outcomes and hints read the same everywhere.
// [Table] renders the small key/value summaries the session commands print.
package ui
