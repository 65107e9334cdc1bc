package cli

import "github.com/charmbracelet/lipgloss"

var (
	okMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓")
	warnMark = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("⚠")
	failMark = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	headingStyle = lipgloss.NewStyle().Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)
