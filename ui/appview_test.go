package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dopchat/inference"
	"dopchat/inference/testutil"
	"dopchat/model"
	"dopchat/storage"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestView(t *testing.T, backend *testutil.MockBackend, store *storage.ConversationStore) (AppView, *model.Chat) {
	t.Helper()
	if store == nil {
		store = storage.NewConversationStore(storage.NewMemoryKV(), 30)
	}
	chat := model.NewChat(backend, store, model.Options{PollInterval: time.Hour})
	t.Cleanup(chat.OnTeardown)

	m, _ := NewAppView(chat, "test").Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m.(AppView), chat
}

func press(t *testing.T, a AppView, msgs ...tea.KeyMsg) AppView {
	t.Helper()
	for _, msg := range msgs {
		m, _ := a.Update(msg)
		a = m.(AppView)
	}
	return a
}

func alt(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}, Alt: true}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

func waitForQuestions(t *testing.T, backend *testutil.MockBackend, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q := backend.Questions(); len(q) >= n {
			return q
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("backend saw %d questions, want %d", len(backend.Questions()), n)
	return nil
}

func TestEnterSubmitsTypedQuestion(t *testing.T) {
	backend := testutil.NewMockBackend()
	a, _ := newTestView(t, backend, nil)

	a.textarea.SetValue("  What is DoP?  ")
	a = press(t, a, enter)

	q := waitForQuestions(t, backend, 1)
	if q[0] != "What is DoP?" {
		t.Errorf("question = %q", q[0])
	}
	if a.textarea.Value() != "" {
		t.Error("input not cleared after send")
	}
	if len(a.snap.Conversation.Messages) != 1 {
		t.Errorf("transcript has %d messages, want 1", len(a.snap.Conversation.Messages))
	}
}

func TestEnterWhilePendingShowsNotice(t *testing.T) {
	backend := testutil.NewMockBackend()
	a, _ := newTestView(t, backend, nil)

	a.textarea.SetValue("first")
	a = press(t, a, enter)
	a.textarea.SetValue("second")
	a = press(t, a, enter)

	if !strings.Contains(a.notice, "wait") {
		t.Errorf("notice = %q, want a wait hint", a.notice)
	}
	if a.textarea.Value() != "second" {
		t.Error("refused input should stay in the box")
	}
}

func TestStarterQuestion(t *testing.T) {
	backend := testutil.NewMockBackend()
	a, _ := newTestView(t, backend, nil)

	if !strings.Contains(a.View(), starterQuestions[0]) {
		t.Error("empty chat does not offer starter questions")
	}

	a = press(t, a, tea.KeyMsg{Type: tea.KeyTab}, tea.KeyMsg{Type: tea.KeyTab})
	if a.suggestion != 1 {
		t.Fatalf("suggestion = %d, want 1", a.suggestion)
	}
	a = press(t, a, enter)

	if q := waitForQuestions(t, backend, 1); q[0] != starterQuestions[1] {
		t.Errorf("question = %q, want %q", q[0], starterQuestions[1])
	}
	if a.suggestion != -1 {
		t.Error("suggestion not reset after sending")
	}
}

func TestFeedbackFormStaysOpenOnError(t *testing.T) {
	backend := testutil.NewMockBackend()
	a, _ := newTestView(t, backend, nil)

	a.feedback.open(storage.Message{ID: "m1", Sender: storage.SenderBot, Text: "answer", RequestID: "r1"})
	a.feedback.submitting = true

	m, _ := a.Update(feedbackResultMsg{messageID: "m1", err: errors.New("boom")})
	a = m.(AppView)

	if !a.feedback.visible {
		t.Error("form closed after a failed submission")
	}
	if a.feedback.submitting {
		t.Error("form still marked as submitting")
	}
	if !strings.Contains(a.errorMsg, "boom") {
		t.Errorf("errorMsg = %q", a.errorMsg)
	}

	// acknowledging the error returns to the form
	a = press(t, a, enter)
	if a.errorMsg != "" || !a.feedback.visible {
		t.Error("acknowledging the error should leave the form open")
	}

	m, _ = a.Update(feedbackResultMsg{messageID: "m1"})
	a = m.(AppView)
	if a.feedback.visible {
		t.Error("form still open after success")
	}
}

func TestFeedbackWithoutAnswer(t *testing.T) {
	a, _ := newTestView(t, testutil.NewMockBackend(), nil)

	a = press(t, a, alt('f'))
	if a.feedback.visible {
		t.Error("form opened with nothing to rate")
	}
	if a.notice == "" {
		t.Error("expected a notice")
	}
}

func TestHistorySidebarSearch(t *testing.T) {
	store := storage.NewConversationStore(storage.NewMemoryKV(), 30)
	for _, q := range []string{"approval limits", "procurement rules"} {
		if _, err := store.Append(storage.Message{Sender: storage.SenderUser, Text: q}); err != nil {
			t.Fatal(err)
		}
		store.Reset()
	}

	a, _ := newTestView(t, testutil.NewMockBackend(), store)
	a = press(t, a, alt('s'))
	if !a.history.visible || len(a.history.items) != 2 {
		t.Fatalf("sidebar visible=%v items=%d", a.history.visible, len(a.history.items))
	}
	// newest first
	if a.history.items[0].Title != "procurement rules" {
		t.Errorf("first item = %q", a.history.items[0].Title)
	}

	a = press(t, a, runes("/"), runes("p"), runes("r"), runes("o"), runes("c"))
	if len(a.history.items) != 1 || a.history.items[0].Title != "procurement rules" {
		t.Fatalf("filtered items = %+v", a.history.items)
	}

	a = press(t, a, enter, enter)
	if a.history.visible {
		t.Error("sidebar still open after choosing a chat")
	}
	if a.snap.Conversation.Title != "procurement rules" {
		t.Errorf("active conversation = %q", a.snap.Conversation.Title)
	}
}

func TestHistoryClearNeedsConfirmation(t *testing.T) {
	store := storage.NewConversationStore(storage.NewMemoryKV(), 30)
	store.Append(storage.Message{Sender: storage.SenderUser, Text: "keep me"})
	store.Reset()

	a, chat := newTestView(t, testutil.NewMockBackend(), store)
	a = press(t, a, alt('s'), runes("D"), runes("n"))
	if len(chat.Conversations("")) != 1 {
		t.Fatal("history cleared without confirmation")
	}

	a = press(t, a, runes("D"))
	m, cmd := a.Update(runes("y"))
	a = m.(AppView)
	if cmd == nil {
		t.Fatal("confirming should start the clear")
	}
	m, _ = a.Update(cmd())
	a = m.(AppView)
	if len(chat.Conversations("")) != 0 || a.history.total != 0 {
		t.Error("history not cleared")
	}
}

func TestQueueInfoToggle(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.QueueInfoFunc = func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"queue_size": float64(2), "processing": true}, nil
	}
	a, _ := newTestView(t, backend, nil)

	m, cmd := a.Update(alt('u'))
	a = m.(AppView)
	m, _ = a.Update(cmd())
	a = m.(AppView)
	if a.queueInfo != "Queue: processing: true, queue size: 2" {
		t.Errorf("queueInfo = %q", a.queueInfo)
	}

	a = press(t, a, alt('u'))
	if a.queueInfo != "" {
		t.Error("second Alt+U should hide the queue info")
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		st   model.QueueStatus
		want string
	}{
		{
			name: "queued with position and wait",
			st:   model.QueueStatus{State: inference.StatusQueued, QueuePosition: testutil.Position(2), EstimatedWait: "30s"},
			want: "Queued (position 2), estimated wait 30s",
		},
		{
			name: "processing with message",
			st:   model.QueueStatus{State: inference.StatusProcessing, Message: "thinking"},
			want: "Processing your question: thinking",
		},
		{
			name: "retrying",
			st:   model.QueueStatus{State: inference.StatusQueued, Retrying: true},
			want: "Queued (connection issue, retrying...)",
		},
		{
			name: "completed ignores message",
			st:   model.QueueStatus{State: inference.StatusCompleted, Message: "done"},
			want: "Answer ready",
		},
		{
			name: "unknown state",
			st:   model.QueueStatus{State: "paused"},
			want: "paused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLine(tt.st); got != tt.want {
				t.Errorf("statusLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerLineWaking(t *testing.T) {
	got := serverLine(model.ServerStatus{State: model.ServerWaking, Progress: 0.5, RemainingMinutes: 3})
	for _, want := range []string{"waking", "50%", "3 min"} {
		if !strings.Contains(got, want) {
			t.Errorf("serverLine() = %q, missing %q", got, want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{0, "[░░░░]"},
		{0.5, "[██░░]"},
		{0.95, "[████]"},
		{2, "[████]"},
		{-1, "[░░░░]"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.p, 4); got != tt.want {
			t.Errorf("progressBar(%v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		title string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"a much longer title", 10, "a much ..."},
		{"日本語のタイトル", 8, "日本..."},
		{"anything", 0, ""},
		{"line one\nline two", 30, "line one line two"},
		{"  padded\r\n ", 30, "padded"},
	}
	for _, tt := range tests {
		if got := truncateTitle(tt.title, tt.width); got != tt.want {
			t.Errorf("truncateTitle(%q, %d) = %q, want %q", tt.title, tt.width, got, tt.want)
		}
	}
}

func TestAnswerLookup(t *testing.T) {
	msgs := []storage.Message{
		{ID: "u1", Sender: storage.SenderUser, Text: "q1"},
		{ID: "b1", Sender: storage.SenderBot, Text: "a1", RequestID: "r1"},
		{ID: "u2", Sender: storage.SenderUser, Text: "q2"},
		{ID: "b2", Sender: storage.SenderBot, Text: "a2", RequestID: "r2", FeedbackGiven: true},
		{ID: "e1", Sender: storage.SenderBot, Text: "Sorry, an error occurred"},
	}

	if m, ok := lastAnswer(msgs); !ok || m.ID != "b2" {
		t.Errorf("lastAnswer() = %q, %v; want b2", m.ID, ok)
	}
	if m, ok := rateableAnswer(msgs); !ok || m.ID != "b1" {
		t.Errorf("rateableAnswer() = %q, %v; want b1", m.ID, ok)
	}
	if _, ok := rateableAnswer(msgs[:1]); ok {
		t.Error("user-only transcript has nothing to rate")
	}
}

func TestNextSuggestion(t *testing.T) {
	n := len(starterQuestions)
	if got := nextSuggestion(-1, false); got != 0 {
		t.Errorf("forward from none = %d", got)
	}
	if got := nextSuggestion(n-1, false); got != 0 {
		t.Errorf("forward wrap = %d", got)
	}
	if got := nextSuggestion(0, true); got != n-1 {
		t.Errorf("reverse wrap = %d", got)
	}
}

func TestWordWrap(t *testing.T) {
	got := wordWrap("the quick brown fox jumps", 10)
	want := "the quick\nbrown fox\njumps"
	if got != want {
		t.Errorf("wordWrap() = %q, want %q", got, want)
	}
}

func TestTranscript(t *testing.T) {
	conv := storage.Conversation{Messages: []storage.Message{
		{Sender: storage.SenderUser, Text: "hi"},
		{Sender: storage.SenderBot, Text: "hello"},
	}}
	got := transcript(conv)
	if !strings.Contains(got, "You:\nhi") || !strings.Contains(got, "Assistant:\nhello") {
		t.Errorf("transcript() = %q", got)
	}
}

func TestResetDoesNotBlockUpdate(t *testing.T) {
	backend := testutil.NewMockBackend()
	release := make(chan struct{})
	backend.SubmitQuestionFunc = func(ctx context.Context, question string) (*inference.Submission, error) {
		// a call that ignores cancellation until the network gives up
		<-release
		return nil, ctx.Err()
	}
	a, chat := newTestView(t, backend, nil)

	a.textarea.SetValue("slow question")
	a = press(t, a, enter)
	waitForQuestions(t, backend, 1)

	type result struct {
		view AppView
		cmd  tea.Cmd
	}
	done := make(chan result, 1)
	go func() {
		m, cmd := a.Update(alt('r'))
		done <- result{m.(AppView), cmd}
	}()

	var r result
	select {
	case r = <-done:
	case <-time.After(time.Second):
		close(release)
		t.Fatal("Update blocked on reset")
	}
	if r.cmd == nil {
		t.Fatal("reset should run as a command")
	}

	close(release)
	msg := r.cmd()
	if _, ok := msg.(chatResetMsg); !ok {
		t.Fatalf("reset command returned %T", msg)
	}
	m, _ := r.view.Update(msg)
	a = m.(AppView)

	if len(a.snap.Conversation.Messages) != 0 {
		t.Errorf("transcript has %d messages after reset", len(a.snap.Conversation.Messages))
	}
	if chat.IsAnyPending() {
		t.Error("request still pending after reset")
	}
}
