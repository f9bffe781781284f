package ui

import (
	"context"
	"time"

	"dopchat/model"
	"dopchat/storage"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// feedbackTimeout bounds the whole form submission on top of the client's own timeout.
const feedbackTimeout = 30 * time.Second

// feedbackState is the rating form for one bot answer.
type feedbackState struct {
	visible    bool
	messageID  string
	preview    string
	rating     model.Rating
	comment    textinput.Model
	submitting bool
}

func newFeedbackState() feedbackState {
	in := textinput.New()
	in.Placeholder = "Optional comment"
	in.Prompt = "Comment: "
	in.CharLimit = 500
	return feedbackState{comment: in, rating: model.RatingPositive}
}

func (f *feedbackState) open(msg storage.Message) tea.Cmd {
	f.visible = true
	f.messageID = msg.ID
	f.preview = msg.Text
	f.rating = model.RatingPositive
	f.submitting = false
	f.comment.SetValue("")
	return f.comment.Focus()
}

func (f *feedbackState) close() {
	f.visible = false
	f.submitting = false
	f.comment.Blur()
}

func (f *feedbackState) toggleRating() {
	if f.rating == model.RatingPositive {
		f.rating = model.RatingNegative
		return
	}
	f.rating = model.RatingPositive
}

// rateableAnswer finds the newest answer that has not been rated yet.
func rateableAnswer(msgs []storage.Message) (storage.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsBot() && m.RequestID != "" && !m.FeedbackGiven {
			return m, true
		}
	}
	return storage.Message{}, false
}

func submitFeedbackCmd(chat *model.Chat, messageID string, rating model.Rating, comment string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), feedbackTimeout)
		defer cancel()
		err := chat.SubmitFeedback(ctx, messageID, rating, comment)
		return feedbackResultMsg{messageID: messageID, err: err}
	}
}

func renderFeedbackModal(f feedbackState, spinnerView string, width, height int) string {
	modalWidth := 64
	if width < modalWidth+10 {
		modalWidth = width - 10
	}

	preview := truncateTitle(collapseSpaces(f.preview), modalWidth-4)

	up := "  👍 Helpful  "
	down := "  👎 Not helpful  "
	if f.rating == model.RatingPositive {
		up = SelectedStyle.Render("[👍 Helpful]")
	} else {
		down = SelectedStyle.Render("[👎 Not helpful]")
	}

	lines := []string{
		DimStyle.Render(preview),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, up, "   ", down),
		"",
		f.comment.View(),
	}
	if f.submitting {
		lines = append(lines, "", spinnerView+" Sending feedback...")
	}

	footer := FormatFooter("Tab", "Toggle", "Enter", "Send", "Esc", "Cancel")
	return RenderThreeSectionModal("Rate this answer", lines, footer, ModalTypeInfo, modalWidth, width, height)
}
