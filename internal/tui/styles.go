package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("118")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

const (
	glyphMicOn     = "🎤"
	glyphMicOff    = "🔇"
	selfBadge      = "(You)"
	listenOnlyNote = "(listen-only: no microphone track published)"
)
