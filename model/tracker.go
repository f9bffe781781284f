package model

import (
	"context"
	"sync"

	"dopchat/config"
	"dopchat/metrics"
)

// Request is one question the service accepted and we are waiting on.
type Request struct {
	ID             string
	ConversationID string

	// the user message this request answers
	UserMessageID string
	Question      string
}

// PollFunc runs until ctx is cancelled or the request reaches a terminal
// state.
type PollFunc func(ctx context.Context, req Request)

type tracked struct {
	req    Request
	cancel context.CancelFunc
	done   chan struct{}
}

type submission struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker owns every in-flight request and every submission still waiting
// for the service to accept it. Each tracked request gets one poller
// goroutine.
type Tracker struct {
	ctx  context.Context
	poll PollFunc

	mu          sync.Mutex
	requests    map[string]*tracked
	submissions map[uint64]*submission
	nextSub     uint64

	metrics *metrics.Metrics
}

func NewTracker(ctx context.Context, poll PollFunc, m *metrics.Metrics) *Tracker {
	return &Tracker{
		ctx:         ctx,
		poll:        poll,
		requests:    make(map[string]*tracked),
		submissions: make(map[uint64]*submission),
		metrics:     m,
	}
}

// Track starts polling req.ID. It reports false if the id is already
// tracked or the tracker has shut down.
func (t *Tracker) Track(req Request) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.ID == "" || t.ctx.Err() != nil {
		return false
	}
	if _, ok := t.requests[req.ID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(t.ctx)
	entry := &tracked{req: req, cancel: cancel, done: make(chan struct{})}
	t.requests[req.ID] = entry
	t.metrics.SetInFlight(len(t.requests))

	config.Log.Debug().Str("request_id", req.ID).Str("conversation_id", req.ConversationID).Msg("tracking request")

	go func() {
		defer close(entry.done)
		t.poll(ctx, req)
	}()
	return true
}

// Untrack stops polling id and forgets it. It does not wait for the poller
// to exit, so a poller may untrack itself.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	entry, ok := t.requests[id]
	if ok {
		delete(t.requests, id)
		t.metrics.SetInFlight(len(t.requests))
	}
	t.mu.Unlock()

	if ok {
		entry.cancel()
		config.Log.Debug().Str("request_id", id).Msg("untracked request")
	}
}

func (t *Tracker) IsTracked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.requests[id]
	return ok
}

// Go runs fn as a pending submission. It counts toward IsAnyPending until fn
// returns and is cancelled by ResetAll.
func (t *Tracker) Go(fn func(ctx context.Context)) bool {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(t.ctx)
	id := t.nextSub
	t.nextSub++
	sub := &submission{cancel: cancel, done: make(chan struct{})}
	t.submissions[id] = sub
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			delete(t.submissions, id)
			t.mu.Unlock()
			cancel()
			close(sub.done)
		}()
		fn(ctx)
	}()
	return true
}

// IsAnyPending reports whether any request is tracked or any submission is
// still resolving.
func (t *Tracker) IsAnyPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests) > 0 || len(t.submissions) > 0
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// ResetAll cancels every poller and submission and waits for them to exit.
// It must not be called from a poller or submission goroutine.
func (t *Tracker) ResetAll() {
	for {
		t.mu.Lock()
		if len(t.requests) == 0 && len(t.submissions) == 0 {
			t.mu.Unlock()
			return
		}

		var waits []chan struct{}
		for id, entry := range t.requests {
			entry.cancel()
			waits = append(waits, entry.done)
			delete(t.requests, id)
		}
		for _, sub := range t.submissions {
			sub.cancel()
			waits = append(waits, sub.done)
		}
		// submissions remove themselves on exit
		t.metrics.SetInFlight(0)
		t.mu.Unlock()

		for _, done := range waits {
			<-done
		}
		// a submission that won its race may have tracked a new request
		// before seeing the cancel; loop to catch it
	}
}
