package ui

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"dopchat/config"
	"dopchat/inference"
	"dopchat/model"
	"dopchat/storage"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
	spaceRegex      = regexp.MustCompile(`\s+`)
)

func (a *AppView) updateViewportContent(gotoBottom bool) {
	msgs := a.snap.Conversation.Messages
	if len(msgs) == 0 {
		a.viewport.SetContent("")
		return
	}

	width := a.viewport.Width
	if width != a.renderWidth {
		// cached markdown is width dependent
		a.rendered = make(map[string]string)
		a.renderWidth = width
	}

	var content strings.Builder
	for _, msg := range msgs {
		timestamp := DimStyle.Render(msg.CreatedAt.Local().Format("[15:04]"))

		if !msg.IsBot() {
			content.WriteString(formatUserMessage(timestamp, UserStyle.Render("You"), msg.Text))
			continue
		}

		role := BotStyle.Render("Assistant")
		if msg.RequestID == "" {
			// failure notices carry no request id and are not markdown
			content.WriteString(fmt.Sprintf("%s %s\n%s\n\n", timestamp, role, BannerStyle.Render(msg.Text)))
			continue
		}

		body, ok := a.rendered[msg.ID]
		if !ok {
			body = renderMarkdown(msg.Text, width)
			a.rendered[msg.ID] = body
		}

		rating := DimStyle.Render("Alt+F to rate this answer")
		if msg.FeedbackGiven {
			rating = OnlineStyle.Render("✓ Feedback sent")
		}
		content.WriteString(fmt.Sprintf("%s %s\n%s\n%s\n\n", timestamp, role, strings.TrimRight(body, "\n"), rating))
	}

	if a.snap.Pending && !msgs[len(msgs)-1].IsBot() {
		content.WriteString(fmt.Sprintf("%s %s\n", a.loadingSpinner.View(), DimStyle.Render("Waiting for response...")))
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func formatUserMessage(timestamp, role, content string) string {
	greenBold := "\x1b[32;1m"
	reset := "\x1b[0m"
	bar := greenBold + "┃" + reset

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s %s\n", bar, timestamp, role))
	for _, line := range strings.Split(content, "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	result.WriteString("\n")

	return result.String()
}

// renderMarkdown renders a bot answer for a terminal of the given width.
func renderMarkdown(content string, width int) string {
	if width < 20 {
		width = 20
	}
	start := time.Now()

	content = preprocessLinks(content)

	// autolink off so terminals handle URL detection themselves
	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width-4, 0)
	doc := p.Parse([]byte(content))
	rendered := gomarkdown.Render(doc, r)

	out := postProcessMarkdown(string(rendered), width)
	config.Log.Debug().Int("chars", len(content)).Dur("took", time.Since(start)).Msg("markdown rendered")
	return out
}

func postProcessMarkdown(rendered string, width int) string {
	rendered = fixInlineCode(rendered)
	rendered = fixMarkdownLinks(rendered)
	return frameCodeBlocks(rendered, width)
}

// preprocessLinks turns [text](url) into a bare url.
func preprocessLinks(content string) string {
	return mdLinkRegex.ReplaceAllString(content, "$2")
}

// fixInlineCode swaps blue background italics for red text.
func fixInlineCode(s string) string {
	return inlineCodeRegex.ReplaceAllString(s, "\x1b[31m$1\x1b[0m")
}

func fixMarkdownLinks(s string) string {
	redColor := "\x1b[31m"
	reset := "\x1b[0m"

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		// code block lines carry the ┃ prefix
		if !strings.Contains(line, "┃") {
			lines[i] = urlRegex.ReplaceAllString(line, redColor+"$1"+reset)
		}
	}
	return strings.Join(lines, "\n")
}

func frameCodeBlocks(s string, width int) string {
	lines := strings.Split(s, "\n")
	var result []string
	inCodeBlock := false

	darkGray := "\x1b[90m"
	reset := "\x1b[0m"
	ruleLen := width - 4
	if ruleLen < 8 {
		ruleLen = 8
	}

	closeBlock := func() {
		result = append(result, "", darkGray+strings.Repeat("━", ruleLen)+reset, "")
	}

	for _, line := range lines {
		if strings.Contains(line, "┃") {
			if !inCodeBlock {
				inCodeBlock = true
				label := "[code]"
				left := (ruleLen - len(label)) / 2
				right := ruleLen - len(label) - left
				border := darkGray + strings.Repeat("━", left) + reset + label + darkGray + strings.Repeat("━", right) + reset
				result = append(result, "", border, "")
			}
			result = append(result, stripCodeBlockPrefix(line))
			continue
		}
		if inCodeBlock {
			closeBlock()
			inCodeBlock = false
		}
		result = append(result, line)
	}
	if inCodeBlock {
		closeBlock()
	}

	return strings.Join(result, "\n")
}

func stripCodeBlockPrefix(line string) string {
	idx := strings.Index(line, "┃")
	if idx < 0 {
		return line
	}
	after := idx + len("┃")
	if after < len(line) && line[after] == ' ' {
		after++
	}
	return line[after:]
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// statusLine describes the current queue status in one line.
func statusLine(st model.QueueStatus) string {
	var b strings.Builder
	switch st.State {
	case inference.StatusQueued:
		b.WriteString("Queued")
		if st.QueuePosition != nil {
			fmt.Fprintf(&b, " (position %d)", *st.QueuePosition)
		}
		if st.EstimatedWait != "" {
			fmt.Fprintf(&b, ", estimated wait %s", st.EstimatedWait)
		}
	case inference.StatusProcessing:
		b.WriteString("Processing your question")
	case inference.StatusSleeping:
		b.WriteString("The server is waking up")
	case inference.StatusCompleted:
		b.WriteString("Answer ready")
	case inference.StatusFailed:
		b.WriteString("Request failed")
	case inference.StatusQueueFull:
		b.WriteString("Queue is full")
	default:
		b.WriteString(string(st.State))
	}
	if st.Message != "" && st.State != inference.StatusCompleted {
		b.WriteString(": " + st.Message)
	}
	if st.Retrying {
		b.WriteString(" (connection issue, retrying...)")
	}
	return b.String()
}

// serverLine describes the backend state, with wake-up progress when waking.
func serverLine(s model.ServerStatus) string {
	switch s.State {
	case model.ServerOnline:
		return OnlineStyle.Render("● Server online")
	case model.ServerSleeping:
		return QueueStyle.Render("● Server sleeping, the next question will wake it")
	case model.ServerWaking:
		return QueueStyle.Render(fmt.Sprintf("◐ Server waking up %s %d%%, about %d min left",
			progressBar(s.Progress, 20), int(s.Progress*100), s.RemainingMinutes))
	default:
		return DimStyle.Render("● Server status unknown")
	}
}

func progressBar(p float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(p*float64(width) + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// formatQueueInfo renders the /queue summary as sorted key: value pairs.
func formatQueueInfo(info map[string]any) string {
	if len(info) == 0 {
		return "Queue: no data"
	}
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(info)) {
		v := info[k]
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}
		parts = append(parts, fmt.Sprintf("%s: %v", strings.ReplaceAll(k, "_", " "), v))
	}
	return "Queue: " + strings.Join(parts, ", ")
}

// statusPanelLines is everything drawn between the transcript and the input.
func (a AppView) statusPanelLines() []string {
	var lines []string
	if a.snap.HasServer {
		lines = append(lines, serverLine(a.snap.Server))
	}
	if a.snap.HasStatus {
		line := statusLine(a.snap.Status)
		if a.snap.Pending {
			line = a.loadingSpinner.View() + " " + line
		}
		lines = append(lines, QueueStyle.Render(line))
	}
	if a.snap.Banner != "" {
		lines = append(lines, BannerStyle.Render(a.snap.Banner))
	}
	if a.queueInfo != "" {
		lines = append(lines, DimStyle.Render(a.queueInfo))
	}
	if a.notice != "" {
		lines = append(lines, HighlightStyle.Render(a.notice))
	}
	return lines
}

// lastAnswer is the newest bot answer, skipping failure notices.
func lastAnswer(msgs []storage.Message) (storage.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsBot() && msgs[i].RequestID != "" {
			return msgs[i], true
		}
	}
	return storage.Message{}, false
}

// transcript is the plain-text form of a conversation for the clipboard.
func transcript(conv storage.Conversation) string {
	var b strings.Builder
	for _, m := range conv.Messages {
		who := "You"
		if m.IsBot() {
			who = "Assistant"
		}
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", m.CreatedAt.Local().Format("15:04"), who, m.Text)
	}
	return b.String()
}
