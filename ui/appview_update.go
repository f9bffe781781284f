package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"dopchat/config"
	"dopchat/model"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const queueInfoTimeout = 15 * time.Second

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, a.refresh()

	case spinner.TickMsg:
		// the wake-up progress bar only moves with the clock
		a.snap = a.chat.Snapshot()
		if !a.animating() {
			a.spinning = false
			return a, nil
		}
		a.loadingSpinner, cmd = a.loadingSpinner.Update(msg)
		a.layout()
		a.updateViewportContent(true)
		return a, cmd

	case chatEventMsg:
		if msg.event.Err != nil {
			config.Log.Debug().Err(msg.event.Err).Str("kind", msg.event.Kind.String()).Msg("chat event")
		}
		return a, a.refresh()

	case feedbackResultMsg:
		a.feedback.submitting = false
		if msg.err != nil {
			// keep the form so the user can retry
			a.errorTitle = "Feedback not sent"
			a.errorMsg = msg.err.Error()
			return a, nil
		}
		a.feedback.close()
		a.textarea.Focus()
		a.notice = "Thanks for your feedback!"
		return a, a.refresh()

	case queueInfoMsg:
		if msg.err != nil {
			a.queueInfo = "Queue info unavailable: " + msg.err.Error()
		} else {
			a.queueInfo = formatQueueInfo(msg.info)
		}
		return a, a.refresh()

	case chatResetMsg:
		a.notice = ""
		a.queueInfo = ""
		return a, a.refresh()

	case historyClearedMsg:
		if msg.err != nil {
			a.errorTitle = "Could not clear history"
			a.errorMsg = msg.err.Error()
		}
		return a, a.refresh()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	a.textarea, cmd = a.textarea.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	key := msg.String()

	if key == "ctrl+c" || key == "alt+q" {
		return a, tea.Quit
	}

	if a.errorMsg != "" {
		if key == "enter" || key == "esc" {
			a.errorTitle, a.errorMsg = "", ""
		}
		return a, nil
	}

	if a.showHelp {
		if key == "esc" || key == "alt+h" {
			a.showHelp = false
		}
		return a, nil
	}

	if a.feedback.visible {
		return a.handleFeedbackKey(msg)
	}

	if a.history.visible {
		if handled, next, cmd := a.handleHistoryKey(msg); handled {
			return next, cmd
		}
	}

	// any key press retires the transient notice
	a.notice = ""

	switch key {
	case "alt+h":
		a.showHelp = true
		return a, nil

	case "alt+n":
		a.chat.NewChat()
		a.queueInfo = ""
		a.suggestion = -1
		return a, a.refresh()

	case "alt+r":
		a.suggestion = -1
		a.notice = "Resetting..."
		a.layout()
		return a, resetChatCmd(a.chat)

	case "alt+s":
		a.history.visible = true
		a.history.refresh(a.chat.Conversations)
		a.textarea.Blur()
		return a, a.refresh()

	case "alt+u":
		if a.queueInfo != "" {
			a.queueInfo = ""
			return a, a.refresh()
		}
		return a, fetchQueueInfoCmd(a.chat)

	case "alt+f":
		answer, ok := rateableAnswer(a.snap.Conversation.Messages)
		if !ok {
			a.notice = "No answer to rate"
			return a, a.refresh()
		}
		a.textarea.Blur()
		return a, a.feedback.open(answer)

	case "alt+y":
		answer, ok := lastAnswer(a.snap.Conversation.Messages)
		if !ok {
			return a, nil
		}
		a.notice = copyNotice(clipboard.WriteAll(answer.Text), "Answer copied")
		return a, a.refresh()

	case "alt+c":
		if len(a.snap.Conversation.Messages) == 0 {
			return a, nil
		}
		a.notice = copyNotice(clipboard.WriteAll(transcript(a.snap.Conversation)), "Conversation copied")
		return a, a.refresh()

	case "esc":
		if a.queueInfo != "" {
			a.queueInfo = ""
			return a, a.refresh()
		}
		return a, nil

	case "tab", "shift+tab":
		if len(a.snap.Conversation.Messages) == 0 && strings.TrimSpace(a.textarea.Value()) == "" {
			a.suggestion = nextSuggestion(a.suggestion, key == "shift+tab")
			return a, nil
		}

	case "enter":
		return a.submit()

	case "alt+j", "alt+down":
		a.viewport.HalfPageDown()
		return a, nil

	case "alt+k", "alt+up":
		a.viewport.HalfPageUp()
		return a, nil

	case "pgdown":
		a.viewport.PageDown()
		return a, nil

	case "pgup":
		a.viewport.PageUp()
		return a, nil

	case "alt+g":
		a.viewport.GotoTop()
		return a, nil

	case "alt+G":
		a.viewport.GotoBottom()
		return a, nil
	}

	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

// submit sends the typed question, or the highlighted starter question on an empty chat.
func (a AppView) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.textarea.Value())
	if text == "" && len(a.snap.Conversation.Messages) == 0 && a.suggestion >= 0 {
		text = starterQuestions[a.suggestion]
	}

	err := a.chat.Submit(text)
	switch {
	case err == nil:
		a.textarea.Reset()
		a.suggestion = -1
	case errors.Is(err, model.ErrEmptyQuestion):
		return a, nil
	case errors.Is(err, model.ErrRequestPending):
		a.notice = "Please wait for the current answer"
	default:
		a.errorTitle = "Could not send question"
		a.errorMsg = err.Error()
	}
	return a, a.refresh()
}

func (a AppView) handleFeedbackKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.feedback.submitting {
		return a, nil
	}

	switch msg.String() {
	case "esc":
		a.feedback.close()
		a.textarea.Focus()
		return a, nil
	case "tab", "shift+tab", "left", "right":
		a.feedback.toggleRating()
		return a, nil
	case "enter":
		a.feedback.submitting = true
		cmds := []tea.Cmd{submitFeedbackCmd(a.chat, a.feedback.messageID, a.feedback.rating, a.feedback.comment.Value())}
		if !a.spinning {
			a.spinning = true
			cmds = append(cmds, a.loadingSpinner.Tick)
		}
		return a, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	a.feedback.comment, cmd = a.feedback.comment.Update(msg)
	return a, cmd
}

// handleHistoryKey drives the sidebar while it has focus. Keys it does not
// use fall through to the chat.
func (a AppView) handleHistoryKey(msg tea.KeyMsg) (bool, tea.Model, tea.Cmd) {
	h := &a.history
	key := msg.String()

	if h.confirmClear {
		h.confirmClear = false
		if key == "y" || key == "Y" {
			return true, a, clearHistoryCmd(a.chat)
		}
		return true, a, nil
	}

	if h.filterMode {
		switch key {
		case "esc":
			h.filterMode = false
			h.filterInput.SetValue("")
			h.filterInput.Blur()
			h.refresh(a.chat.Conversations)
			return true, a, nil
		case "enter":
			h.filterMode = false
			h.filterInput.Blur()
			return true, a, nil
		case "up", "down":
		default:
			var cmd tea.Cmd
			h.filterInput, cmd = h.filterInput.Update(msg)
			h.selected = 0
			h.refresh(a.chat.Conversations)
			return true, a, cmd
		}
	}

	switch key {
	case "esc", "alt+s":
		h.visible = false
		h.filterMode = false
		a.textarea.Focus()
		return true, a, a.refresh()
	case "j", "down":
		h.move(1)
		return true, a, nil
	case "k", "up":
		h.move(-1)
		return true, a, nil
	case "/":
		h.filterMode = true
		return true, a, h.filterInput.Focus()
	case "D":
		if h.total > 0 {
			h.confirmClear = true
		}
		return true, a, nil
	case "enter":
		conv, ok := h.current()
		if !ok {
			return true, a, nil
		}
		if err := a.chat.SelectConversation(conv.ID); err != nil {
			a.errorTitle = "Could not open chat"
			a.errorMsg = err.Error()
			return true, a, nil
		}
		h.visible = false
		a.queueInfo = ""
		a.textarea.Focus()
		return true, a, a.refresh()
	}

	// other keys reach the chat, but not the blurred textarea
	return !strings.HasPrefix(key, "alt+") && key != "pgup" && key != "pgdown", a, nil
}

func fetchQueueInfoCmd(chat *model.Chat) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queueInfoTimeout)
		defer cancel()
		info, err := chat.QueueInfo(ctx)
		return queueInfoMsg{info: info, err: err}
	}
}

// resetChatCmd runs off the update loop since Reset waits for in-flight calls.
func resetChatCmd(chat *model.Chat) tea.Cmd {
	return func() tea.Msg {
		chat.Reset()
		return chatResetMsg{}
	}
}

// clearHistoryCmd runs off the update loop since it waits for pollers to stop.
func clearHistoryCmd(chat *model.Chat) tea.Cmd {
	return func() tea.Msg {
		return historyClearedMsg{err: chat.ClearHistory()}
	}
}

func copyNotice(err error, ok string) string {
	if err != nil {
		config.Log.Warn().Err(err).Msg("clipboard write failed")
		return "Clipboard unavailable: " + err.Error()
	}
	return ok
}
