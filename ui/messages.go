package ui

import (
	"dopchat/model"

	tea "github.com/charmbracelet/bubbletea"
)

// chatEventMsg carries a model.Event into the update loop.
type chatEventMsg struct {
	event model.Event
}

// EventMsg wraps a chat event for tea.Program.Send.
func EventMsg(e model.Event) tea.Msg {
	return chatEventMsg{event: e}
}

type feedbackResultMsg struct {
	messageID string
	err       error
}

type queueInfoMsg struct {
	info map[string]any
	err  error
}

// chatResetMsg arrives once every pending request of the reset chat has stopped.
type chatResetMsg struct{}

// historyClearedMsg reports the outcome of clearing stored conversations.
type historyClearedMsg struct {
	err error
}
