package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func storedRecords(t *testing.T, kv KV) []Conversation {
	t.Helper()
	raw, ok, err := kv.Get(HistoryKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		return nil
	}
	var records []Conversation
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		t.Fatalf("stored history is not valid JSON: %v", err)
	}
	return records
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short", input: "What is DOP?", maxLen: 30, want: "What is DOP?"},
		{name: "exact bound", input: strings.Repeat("a", 30), maxLen: 30, want: strings.Repeat("a", 30)},
		{name: "long", input: strings.Repeat("b", 45), maxLen: 30, want: strings.Repeat("b", 30) + "..."},
		{name: "multi-line kept verbatim", input: "line one\nline two", maxLen: 30, want: "line one\nline two"},
		{name: "crlf kept verbatim", input: "a\r\nb", maxLen: 30, want: "a\r\nb"},
		{name: "padded kept verbatim", input: "   hi  ", maxLen: 30, want: "   hi  "},
		{name: "empty", input: "", maxLen: 30, want: "New Chat"},
		{name: "whitespace", input: " \n ", maxLen: 30, want: "New Chat"},
		{name: "multibyte", input: "प्रत्यायोजन शक्तियों के बारे में प्रश्न क्या है", maxLen: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateTitle(tt.input, tt.maxLen)
			if tt.want != "" && got != tt.want {
				t.Errorf("GenerateTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("title %q is not valid UTF-8", got)
			}
			if strings.HasSuffix(got, "...") {
				if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != tt.maxLen {
					t.Errorf("truncated title has %d runes, want %d", n, tt.maxLen)
				}
			}
		})
	}
}

func TestAppendCreatesConversationLazily(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)

	if s.Active().ID != "" {
		t.Fatal("new store should not have a conversation id")
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok, _ := kv.Get(HistoryKey); ok {
		t.Fatal("empty conversation must not be persisted")
	}

	id, err := s.Append(Message{Sender: SenderUser, Text: "What is DOP?"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == "" || s.Active().ID != id {
		t.Fatalf("Append returned id %q, active id %q", id, s.Active().ID)
	}

	records := storedRecords(t, kv)
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	if records[0].ID != id || records[0].Title != "What is DOP?" || len(records[0].Messages) != 1 {
		t.Errorf("record = %+v", records[0])
	}
	if records[0].Messages[0].ID == "" {
		t.Error("message id not assigned")
	}
}

func TestPersistReplacesExistingRecord(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)

	first, _ := s.Append(Message{Sender: SenderUser, Text: "first chat"})
	s.Append(Message{Sender: SenderBot, Text: "answer"})

	s.Reset()
	second, _ := s.Append(Message{Sender: SenderUser, Text: "second chat"})

	records := storedRecords(t, kv)
	if len(records) != 2 {
		t.Fatalf("stored %d records, want 2", len(records))
	}
	if records[0].ID != first || len(records[0].Messages) != 2 {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].ID != second {
		t.Errorf("second record id = %q, want %q", records[1].ID, second)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != second {
		t.Errorf("List() should put newest first, got %+v", list)
	}
}

func TestLoadAndReset(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)

	id, _ := s.Append(Message{Sender: SenderUser, Text: "hello"})
	s.Reset()
	if s.Active().ID != "" || len(s.Active().Messages) != 0 {
		t.Fatal("Reset should clear the active slot")
	}
	if len(s.List()) != 1 {
		t.Fatal("Reset must not delete history")
	}

	if err := s.Load(id); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Active().ID != id || s.Active().Messages[0].Text != "hello" {
		t.Errorf("active after Load = %+v", s.Active())
	}

	if err := s.Load("missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Load(missing) err = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendToBackgroundConversation(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)

	bg, _ := s.Append(Message{Sender: SenderUser, Text: "background question"})
	s.Reset()
	fg, _ := s.Append(Message{Sender: SenderUser, Text: "foreground question"})

	if err := s.AppendTo(bg, Message{Sender: SenderBot, Text: "late answer", RequestID: "r1"}); err != nil {
		t.Fatalf("AppendTo: %v", err)
	}

	if got := s.Active(); got.ID != fg || len(got.Messages) != 1 {
		t.Errorf("active conversation changed: %+v", got)
	}

	conv, err := s.Get(bg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Text != "late answer" {
		t.Errorf("background conversation = %+v", conv)
	}

	if err := s.AppendTo("nope", Message{Sender: SenderBot, Text: "x"}); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("AppendTo(unknown) err = %v", err)
	}
}

func TestAppendAnswerIsIdempotent(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)
	id, _ := s.Append(Message{Sender: SenderUser, Text: "q1"})
	s.Append(Message{Sender: SenderUser, Text: "q2"})

	answer := Message{Sender: SenderBot, Text: "a1", RequestID: "r1"}
	ok, err := s.AppendAnswer(id, answer)
	if err != nil || !ok {
		t.Fatalf("first AppendAnswer = %v, %v", ok, err)
	}

	// another answer lands in between
	s.AppendAnswer(id, Message{Sender: SenderBot, Text: "a2", RequestID: "r2"})

	for i := 0; i < 3; i++ {
		ok, err := s.AppendAnswer(id, answer)
		if err != nil {
			t.Fatalf("AppendAnswer: %v", err)
		}
		if ok {
			t.Fatal("duplicate answer was appended")
		}
	}

	count := 0
	for _, m := range s.Active().Messages {
		if m.RequestID == "r1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("found %d messages for r1, want 1", count)
	}
}

func TestAppendErrorDeduplicatesTrailing(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)
	id, _ := s.Append(Message{Sender: SenderUser, Text: "q"})

	errMsg := Message{Sender: SenderBot, Text: "Request failed"}
	if ok, _ := s.AppendError(id, errMsg); !ok {
		t.Fatal("first error should be appended")
	}
	if ok, _ := s.AppendError(id, errMsg); ok {
		t.Fatal("identical trailing error should be suppressed")
	}

	s.Append(Message{Sender: SenderUser, Text: "again"})
	if ok, _ := s.AppendError(id, errMsg); !ok {
		t.Fatal("error after a new user message should be appended")
	}

	if n := len(s.Active().Messages); n != 4 {
		t.Errorf("message count = %d, want 4", n)
	}
}

func TestRetractDropsEmptyConversation(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)

	keep, _ := s.Append(Message{Sender: SenderUser, Text: "keep me"})
	s.Reset()

	id, _ := s.Append(Message{ID: "m1", Sender: SenderUser, Text: "rejected"})
	if err := s.Retract(id, "m1"); err != nil {
		t.Fatalf("Retract: %v", err)
	}

	if got := s.Active(); got.ID != "" || len(got.Messages) != 0 {
		t.Errorf("active after retract = %+v", got)
	}

	records := storedRecords(t, kv)
	if len(records) != 1 || records[0].ID != keep {
		t.Errorf("records = %+v, want only %s", records, keep)
	}

	if err := s.Retract(keep, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Retract(missing) err = %v", err)
	}
}

func TestRetractKeepsNonEmptyConversation(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)

	id, _ := s.Append(Message{ID: "m1", Sender: SenderUser, Text: "first"})
	s.Append(Message{ID: "m2", Sender: SenderUser, Text: "second"})

	if err := s.Retract(id, "m2"); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	got := s.Active()
	if got.ID != id || len(got.Messages) != 1 || got.Messages[0].ID != "m1" {
		t.Errorf("active = %+v", got)
	}
}

func TestMarkFeedbackGiven(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)

	id, _ := s.Append(Message{Sender: SenderUser, Text: "q"})
	s.AppendAnswer(id, Message{ID: "b1", Sender: SenderBot, Text: "a", RequestID: "r1"})

	if err := s.MarkFeedbackGiven(id, "b1"); err != nil {
		t.Fatalf("MarkFeedbackGiven: %v", err)
	}
	if !s.Active().Messages[1].FeedbackGiven {
		t.Error("active message not marked")
	}
	if !storedRecords(t, kv)[0].Messages[1].FeedbackGiven {
		t.Error("stored message not marked")
	}

	if err := s.MarkFeedbackGiven(id, "nope"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestMalformedHistoryLoadsEmpty(t *testing.T) {
	kv := NewMemoryKV()
	kv.Set(HistoryKey, "{not json")

	s := NewConversationStore(kv, 30)
	if got := s.List(); len(got) != 0 {
		t.Errorf("List() = %+v, want empty", got)
	}

	// the next persist overwrites the bad value
	s.Append(Message{Sender: SenderUser, Text: "fresh"})
	if got := storedRecords(t, kv); len(got) != 1 {
		t.Errorf("records = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)
	for _, q := range []string{"Delegation of power limits", "Tender approval process", "Who can sanction leave?"} {
		s.Reset()
		s.Append(Message{Sender: SenderUser, Text: q})
	}

	if got := s.Search(""); len(got) != 3 {
		t.Errorf("empty query returned %d, want 3", len(got))
	}

	got := s.Search("tender")
	if len(got) == 0 || got[0].Title != "Tender approval process" {
		t.Errorf("Search(tender) = %+v", got)
	}

	if got := s.Search("zzzz"); len(got) != 0 {
		t.Errorf("Search(zzzz) = %+v, want none", got)
	}
}

func TestClear(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConversationStore(kv, 30)
	s.Append(Message{Sender: SenderUser, Text: "q"})

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := kv.Get(HistoryKey); ok {
		t.Error("history key still present")
	}
	if s.Active().ID != "" {
		t.Error("active slot not cleared")
	}
}

func TestActiveReturnsCopy(t *testing.T) {
	s := NewConversationStore(NewMemoryKV(), 30)
	s.Append(Message{Sender: SenderUser, Text: "original"})

	c := s.Active()
	c.Messages[0].Text = "mutated"

	if s.Active().Messages[0].Text != "original" {
		t.Error("Active() leaked internal state")
	}
}
