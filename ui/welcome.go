package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// starterQuestions are offered on an empty chat.
var starterQuestions = []string{
	"Help me understand delegation procedures",
	"What are the approval limits for different roles?",
	"Show me financial delegation guidelines",
	"Explain procurement authority levels",
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	featureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	buttonStyle = lipgloss.NewStyle().
			Width(56).
			Align(lipgloss.Left).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8"))

	selectedButtonStyle = lipgloss.NewStyle().
				Width(56).
				Align(lipgloss.Left).
				Padding(0, 2).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("10")).
				Foreground(lipgloss.Color("10")).
				Bold(true)
)

// renderWelcome draws the starter questions shown in place of an empty
// transcript. selected is -1 when none is highlighted.
func renderWelcome(selected, width, height int) string {
	title := titleStyle.Render("Delegation of Powers Assistant")
	subtitle := featureStyle.Render("Ask about delegation, approval limits and procurement authority.")

	var buttons []string
	for i, q := range starterQuestions {
		style := buttonStyle
		if i == selected {
			style = selectedButtonStyle
		}
		buttons = append(buttons, style.Render(q))
	}

	hint := DimStyle.Render("Tab to pick a question, Enter to ask it")

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		subtitle,
		"",
		lipgloss.JoinVertical(lipgloss.Left, buttons...),
		"",
		hint,
	)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// nextSuggestion cycles the highlighted starter question.
func nextSuggestion(current int, reverse bool) int {
	n := len(starterQuestions)
	if n == 0 {
		return -1
	}
	if reverse {
		if current <= 0 {
			return n - 1
		}
		return current - 1
	}
	return (current + 1) % n
}
