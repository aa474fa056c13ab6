// Package cli renders command output: lipgloss styles for summaries and
// tables, a progress bar for running jobs and line-based confirmation prompts.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/statement-spice/internal/model"
)

var (
	// PrimaryColor is the main theme color (spicy red).
	PrimaryColor = lipgloss.Color("#FF6B6B")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor)
	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)
	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)
	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				PaddingRight(2).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("#333"))

	// TableCellStyle formats table cells with appropriate padding.
	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	SpiceIcon   = "🌶️"
	RobotIcon   = "🤖"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the spice icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(SpiceIcon + " " + title)
}

// FormatJobStatus colors a job status by how it ended.
func FormatJobStatus(status model.JobStatus) string {
	switch status {
	case model.JobStatusCompleted:
		return SuccessStyle.Render(string(status))
	case model.JobStatusFailed, model.JobStatusCancelled:
		return ErrorStyle.Render(string(status))
	case model.JobStatusInProgress:
		return WarningStyle.Render(string(status))
	default:
		return SubtleStyle.Render(string(status))
	}
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// RenderKeyValues renders aligned "key: value" lines in insertion order.
func RenderKeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, lipgloss.Width(p[0]))
	}

	lines := make([]string, len(pairs))
	for i, p := range pairs {
		key := BoldStyle.Render(p[0] + ":")
		lines[i] = key + strings.Repeat(" ", width-lipgloss.Width(p[0])+1) + p[1]
	}
	return strings.Join(lines, "\n")
}

// RenderTable lays out rows under headers with each column padded to its
// widest cell.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}

	headerCells := make([]string, len(headers))
	for i, h := range headers {
		headerCells[i] = TableHeaderStyle.Width(widths[i] + 2).Render(h)
	}

	lines := []string{lipgloss.JoinHorizontal(lipgloss.Top, headerCells...)}
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			cells[i] = TableCellStyle.Width(widths[i] + 2).Render(value)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(lines, "\n")
}

// FormatPercent formats a percentage with one decimal.
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}
