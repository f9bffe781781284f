package ui

import (
	"fmt"
	"strings"

	"dopchat/storage"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const sidebarWidth = 32

// historyState is the chat history sidebar.
type historyState struct {
	visible      bool
	filterMode   bool
	filterInput  textinput.Model
	items        []storage.Conversation
	total        int
	selected     int
	confirmClear bool
}

func newHistoryState() historyState {
	in := textinput.New()
	in.Prompt = "Search: "
	in.CharLimit = 64
	return historyState{filterInput: in}
}

// refresh reloads the list for the current filter and keeps the selection in range.
func (h *historyState) refresh(list func(query string) []storage.Conversation) {
	h.total = len(list(""))
	h.items = list(h.filterInput.Value())
	if h.selected >= len(h.items) {
		h.selected = len(h.items) - 1
	}
	if h.selected < 0 {
		h.selected = 0
	}
}

func (h *historyState) move(delta int) {
	if len(h.items) == 0 {
		return
	}
	h.selected += delta
	if h.selected < 0 {
		h.selected = 0
	}
	if h.selected >= len(h.items) {
		h.selected = len(h.items) - 1
	}
}

func (h historyState) current() (storage.Conversation, bool) {
	if h.selected < 0 || h.selected >= len(h.items) {
		return storage.Conversation{}, false
	}
	return h.items[h.selected], true
}

// truncateTitle fits a title into width terminal cells.
// truncateTitle flattens a stored title onto one line and fits it to width.
func truncateTitle(title string, width int) string {
	if width <= 0 {
		return ""
	}
	title = strings.Join(strings.Fields(title), " ")
	if runewidth.StringWidth(title) <= width {
		return title
	}
	return runewidth.Truncate(title, width, "...")
}

func renderHistorySidebar(h historyState, activeID string, height int) string {
	inner := sidebarWidth - 2

	header := TitleStyle.Render("Chat History")
	var sub string
	switch {
	case h.filterMode:
		sub = h.filterInput.View()
	case h.filterInput.Value() != "":
		sub = DimStyle.Render(fmt.Sprintf("%d of %d chats", len(h.items), h.total))
	default:
		sub = DimStyle.Render(fmt.Sprintf("%d chats", h.total))
	}

	lines := []string{header, sub, ""}

	maxLines := height - 6
	if maxLines < 1 {
		maxLines = 1
	}

	if len(h.items) == 0 {
		empty := "No chats yet"
		if h.filterInput.Value() != "" {
			empty = "No matches found"
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(dimColor).Italic(true).Render(empty))
	} else {
		start := 0
		if h.selected >= maxLines {
			start = h.selected - maxLines + 1
		}
		end := start + maxLines
		if end > len(h.items) {
			end = len(h.items)
		}

		for i := start; i < end; i++ {
			conv := h.items[i]
			marker := "  "
			if conv.ID == activeID {
				marker = "• "
			}
			title := truncateTitle(conv.Title, inner-runewidth.StringWidth(marker))
			line := marker + title
			if i == h.selected {
				line = SelectedStyle.Render(line)
			}
			lines = append(lines, line)
		}
	}

	if h.confirmClear {
		lines = append(lines, "", BannerStyle.Render("Clear all history? y/n"))
	}

	footer := DimStyle.Render(strings.Join([]string{"/ search", "enter open", "D clear"}, "  "))

	body := lipgloss.JoinVertical(lipgloss.Left, lines...)
	bodyHeight := height - 2
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	return lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(height).
		BorderRight(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		PaddingRight(1).
		Render(lipgloss.JoinVertical(
			lipgloss.Left,
			lipgloss.NewStyle().Height(bodyHeight).Render(body),
			footer,
		))
}
