// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Color palette shared by all CLI output, tuned for dark terminals.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
	ColorBorder    = lipgloss.Color("240")
)

var (
	// TitleStyle is for section headers.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	// SubtitleStyle is for secondary text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	// SuccessStyle marks positive outcomes.
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	// ErrorStyle marks failures.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	// WarningStyle marks things that need attention.
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	// KeyStyle is for labels and module names.
	KeyStyle = lipgloss.NewStyle().Foreground(ColorHighlight)

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorHighlight).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns a bordered table with styled headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}
