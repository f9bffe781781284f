package model

import (
	"sync"
	"testing"
	"time"

	"dopchat/storage"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []error
	for _, e := range l.events {
		if e.Err != nil {
			out = append(out, e.Err)
		}
	}
	return out
}

func testOptions(log *eventLog) Options {
	return Options{
		PollInterval:     5 * time.Millisecond,
		StatusClearDelay: 30 * time.Millisecond,
		BannerDuration:   60 * time.Millisecond,
		Notify:           log.record,
	}
}

func newTestChat(t *testing.T, backend Backend) (*Chat, *storage.ConversationStore, *storage.MemoryKV, *eventLog) {
	t.Helper()
	kv := storage.NewMemoryKV()
	store := storage.NewConversationStore(kv, 30)
	log := &eventLog{}
	c := NewChat(backend, store, testOptions(log))
	t.Cleanup(c.OnTeardown)
	return c, store, kv, log
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func messageCount(c *Chat) int {
	return len(c.Snapshot().Conversation.Messages)
}
