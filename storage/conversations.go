package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dopchat/config"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
)

// HistoryKey is the KV key holding every persisted conversation.
const HistoryKey = "recentChats"

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// Message is one turn in a conversation. Only FeedbackGiven changes after
// the message is appended.
type Message struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Text          string    `json:"text"`
	RequestID     string    `json:"request_id,omitempty"`
	Context       string    `json:"context,omitempty"`
	Question      string    `json:"question,omitempty"`
	FeedbackGiven bool      `json:"feedback_given"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m Message) IsBot() bool {
	return m.Sender == SenderBot
}

type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

func (c Conversation) clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// ConversationStore owns the active conversation and the persisted history.
// Every KV read-modify-write happens under mu.
type ConversationStore struct {
	mu       sync.Mutex
	kv       KV
	titleLen int
	active   Conversation
	now      func() time.Time
}

func NewConversationStore(kv KV, titleLen int) *ConversationStore {
	if titleLen <= 0 {
		titleLen = 30
	}
	return &ConversationStore{
		kv:       kv,
		titleLen: titleLen,
		now:      time.Now,
	}
}

// Append adds msg to the active conversation, creating the conversation id on
// the first message, and persists. It returns the conversation id.
func (s *ConversationStore) Append(msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.ID == "" {
		s.active.ID = uuid.NewString()
	}
	s.active.Messages = append(s.active.Messages, s.stamp(msg))

	if err := s.persistLocked(s.active); err != nil {
		return s.active.ID, err
	}
	return s.active.ID, nil
}

// AppendTo adds msg to the conversation with convID, which need not be the
// one on screen.
func (s *ConversationStore) AppendTo(convID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.modifyLocked(convID, func(c *Conversation) error {
		c.Messages = append(c.Messages, s.stamp(msg))
		return nil
	})
}

// AppendAnswer appends a bot answer unless the conversation already holds a
// bot message for the same request id. It reports whether msg was appended.
func (s *ConversationStore) AppendAnswer(convID string, msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended := false
	err := s.modifyLocked(convID, func(c *Conversation) error {
		if msg.RequestID != "" {
			for _, m := range c.Messages {
				if m.IsBot() && m.RequestID == msg.RequestID {
					return nil
				}
			}
		}
		c.Messages = append(c.Messages, s.stamp(msg))
		appended = true
		return nil
	})
	return appended, err
}

// AppendError appends a bot error message unless the last message is already
// the same error.
func (s *ConversationStore) AppendError(convID string, msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended := false
	err := s.modifyLocked(convID, func(c *Conversation) error {
		if n := len(c.Messages); n > 0 {
			last := c.Messages[n-1]
			if last.IsBot() && last.Text == msg.Text && last.RequestID == msg.RequestID {
				return nil
			}
		}
		c.Messages = append(c.Messages, s.stamp(msg))
		appended = true
		return nil
	})
	return appended, err
}

// Retract removes a single message. A conversation left empty is dropped
// from history and loses its id.
func (s *ConversationStore) Retract(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.modifyLocked(convID, func(c *Conversation) error {
		for i, m := range c.Messages {
			if m.ID == msgID {
				c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
				return nil
			}
		}
		return ErrMessageNotFound
	})
	if err != nil {
		return err
	}

	if s.active.ID == convID && len(s.active.Messages) == 0 {
		s.active = Conversation{}
	}
	return nil
}

func (s *ConversationStore) MarkFeedbackGiven(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.modifyLocked(convID, func(c *Conversation) error {
		for i := range c.Messages {
			if c.Messages[i].ID == msgID {
				c.Messages[i].FeedbackGiven = true
				return nil
			}
		}
		return ErrMessageNotFound
	})
}

// Persist writes the active conversation. An empty conversation is skipped.
func (s *ConversationStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(s.active)
}

// Load makes a stored conversation the active one.
func (s *ConversationStore) Load(convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID == s.active.ID && convID != "" {
		return nil
	}

	records := s.readLocked()
	for _, r := range records {
		if r.ID == convID {
			s.active = r
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
}

// Reset clears the active slot. History is left alone.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = Conversation{}
}

// Active returns a copy of the active conversation.
func (s *ConversationStore) Active() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.clone()
}

// Get returns a copy of any conversation, active or stored.
func (s *ConversationStore) Get(convID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID != "" && convID == s.active.ID {
		return s.active.clone(), nil
	}
	for _, r := range s.readLocked() {
		if r.ID == convID {
			return r, nil
		}
	}
	return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
}

// List returns persisted conversations, most recently started first.
func (s *ConversationStore) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readLocked()
	out := make([]Conversation, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out
}

// Search fuzzy-matches query against conversation titles, best match first.
// An empty query returns the full list.
func (s *ConversationStore) Search(query string) []Conversation {
	all := s.List()
	query = strings.TrimSpace(query)
	if query == "" {
		return all
	}

	titles := make([]string, len(all))
	for i, c := range all {
		titles[i] = c.Title
	}

	matches := fuzzy.Find(query, titles)
	out := make([]Conversation, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}

// Clear drops the whole history and the active slot.
func (s *ConversationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = Conversation{}
	if err := s.kv.Remove(HistoryKey); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *ConversationStore) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	return msg
}

// modifyLocked applies fn to the active conversation when convID names it,
// otherwise to the stored copy, then persists the result.
func (s *ConversationStore) modifyLocked(convID string, fn func(*Conversation) error) error {
	if convID == "" {
		return fmt.Errorf("%w: empty id", ErrConversationNotFound)
	}

	if convID == s.active.ID {
		if err := fn(&s.active); err != nil {
			return err
		}
		return s.persistLocked(s.active)
	}

	records := s.readLocked()
	for i := range records {
		if records[i].ID != convID {
			continue
		}
		if err := fn(&records[i]); err != nil {
			return err
		}
		return s.persistLocked(records[i])
	}
	return fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
}

func (s *ConversationStore) persistLocked(conv Conversation) error {
	if conv.ID == "" {
		return nil
	}

	records := s.readLocked()
	idx := -1
	for i, r := range records {
		if r.ID == conv.ID {
			idx = i
			break
		}
	}

	if len(conv.Messages) == 0 {
		// never keep an empty conversation
		if idx < 0 {
			return nil
		}
		records = append(records[:idx], records[idx+1:]...)
		return s.writeLocked(records)
	}

	conv = conv.clone()
	conv.Title = GenerateTitle(conv.Messages[0].Text, s.titleLen)
	if idx >= 0 {
		records[idx] = conv
	} else {
		records = append(records, conv)
	}
	return s.writeLocked(records)
}

func (s *ConversationStore) readLocked() []Conversation {
	raw, ok, err := s.kv.Get(HistoryKey)
	if err != nil {
		config.Log.Warn().Err(err).Msg("failed to read conversation history")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var records []Conversation
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		config.Log.Warn().Err(err).Msg("malformed conversation history, starting empty")
		return nil
	}
	return records
}

func (s *ConversationStore) writeLocked(records []Conversation) error {
	if len(records) == 0 {
		if err := s.kv.Remove(HistoryKey); err != nil {
			return fmt.Errorf("failed to persist history: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.kv.Set(HistoryKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

// GenerateTitle derives a conversation title from its first message. The text
// is kept as written; views flatten it for display.
func GenerateTitle(firstMessage string, maxLen int) string {
	if strings.TrimSpace(firstMessage) == "" {
		return "New Chat"
	}

	runes := []rune(firstMessage)
	if maxLen > 0 && len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return firstMessage
}
