package ui

import (
	"fmt"

	"dopchat/model"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AppView is the chat screen. It renders model.Chat snapshots and turns key
// presses into chat operations.
type AppView struct {
	chat    *model.Chat
	snap    model.Snapshot
	version string

	viewport       viewport.Model
	textarea       textarea.Model
	loadingSpinner spinner.Model
	spinning       bool

	width  int
	height int
	ready  bool

	// markdown cache by message id, valid for renderWidth
	rendered    map[string]string
	renderWidth int

	showHelp bool
	history  historyState
	feedback feedbackState

	// acknowledge modal for errors the user must see
	errorTitle string
	errorMsg   string

	queueInfo  string
	notice     string
	suggestion int
}

func NewAppView(chat *model.Chat, version string) AppView {
	ta := textarea.New()
	ta.Placeholder = "Ask about delegation of powers..."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)

	// Alt+Enter for newline, Enter alone sends
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = BotStyle

	return AppView{
		chat:           chat,
		snap:           chat.Snapshot(),
		version:        version,
		viewport:       viewport.New(0, 0),
		textarea:       ta,
		loadingSpinner: sp,
		rendered:       make(map[string]string),
		history:        newHistoryState(),
		feedback:       newFeedbackState(),
		suggestion:     -1,
	}
}

func (a AppView) Init() tea.Cmd {
	return textarea.Blink
}

func (a AppView) View() string {
	if !a.ready {
		return "Loading dopchat..."
	}

	// Modal layers, top first
	if a.errorMsg != "" {
		return RenderAcknowledgeModal(a.errorTitle, a.errorMsg, ModalTypeError, a.width, a.height)
	}
	if a.showHelp {
		return renderHelpModal(a.width, a.height)
	}
	if a.feedback.visible {
		return renderFeedbackModal(a.feedback, a.loadingSpinner.View(), a.width, a.height)
	}

	title := BotStyle.Render("dopchat")
	convTitle := "New Chat"
	if a.snap.Conversation.Title != "" {
		convTitle = a.snap.Conversation.Title
	}
	title += UserStyle.Render(fmt.Sprintf(" - %s", truncateTitle(convTitle, a.mainWidth()-12)))

	var body string
	if len(a.snap.Conversation.Messages) == 0 {
		body = renderWelcome(a.suggestion, a.mainWidth(), a.viewport.Height)
	} else {
		body = a.viewport.View()
	}

	parts := []string{title, "", body}
	parts = append(parts, a.statusPanelLines()...)
	parts = append(parts, a.textarea.View(), a.renderStatusBar())
	main := lipgloss.JoinVertical(lipgloss.Left, parts...)

	if !a.history.visible {
		return main
	}
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		renderHistorySidebar(a.history, a.snap.Conversation.ID, a.height),
		main,
	)
}

func (a AppView) renderStatusBar() string {
	descStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
	bar := fmt.Sprintf("Alt+Q %s  Alt+N %s  Alt+S %s  Alt+F %s  Alt+Y %s  Alt+U %s  Alt+H %s",
		descStyle.Render("Quit"),
		descStyle.Render("New chat"),
		descStyle.Render("History"),
		descStyle.Render("Rate"),
		descStyle.Render("Copy"),
		descStyle.Render("Queue"),
		descStyle.Render("Help"),
	)
	return StatusStyle.Render(bar)
}

// mainWidth is the width left for the chat column.
func (a AppView) mainWidth() int {
	if a.history.visible {
		return max(a.width-sidebarWidth-1, 20)
	}
	return a.width
}

// layout sizes the viewport and input for the current window and status panel.
func (a *AppView) layout() {
	w := a.mainWidth()
	// title, separator, textarea (3), status bar
	reserved := 6 + len(a.statusPanelLines())
	a.viewport.Width = w
	a.viewport.Height = max(a.height-reserved, 3)
	a.textarea.SetWidth(w)
}

// refresh pulls a fresh snapshot from the chat and redraws.
func (a *AppView) refresh() tea.Cmd {
	a.snap = a.chat.Snapshot()
	if a.history.visible {
		a.history.refresh(a.chat.Conversations)
	}
	a.layout()
	a.updateViewportContent(true)

	if a.animating() && !a.spinning {
		a.spinning = true
		return a.loadingSpinner.Tick
	}
	return nil
}

// animating reports whether something on screen changes without a chat event.
func (a AppView) animating() bool {
	waking := a.snap.HasServer && a.snap.Server.State == model.ServerWaking
	return a.snap.Pending || a.feedback.submitting || waking
}
