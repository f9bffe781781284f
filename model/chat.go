package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dopchat/config"
	"dopchat/inference"
	"dopchat/metrics"
	"dopchat/storage"

	"github.com/google/uuid"
)

var (
	ErrQueueFull       = errors.New("queue is full")
	ErrRequestPending  = errors.New("a request is already pending")
	ErrEmptyQuestion   = inference.ErrEmptyQuestion
	ErrClosed          = errors.New("chat is closed")
	ErrFeedbackGiven   = errors.New("feedback already recorded")
	ErrMessageNotFound = errors.New("message not found")

	errMissingRequestID = errors.New("accepted response without request id")
)

const (
	queueFullText    = "Queue is full. Please try again later."
	failedAnswerText = "Sorry, an error occurred while processing your request."
	wakeTimeoutText  = "The server is taking too long to wake up. Please try again in a few minutes."
	unreachableText  = "Sorry, I couldn't reach the server. Please try again."
	missingIDText    = "Sorry, the server returned an invalid response. Please try again."
	notFoundText     = "This request is no longer known to the server. Please ask again."
)

// Backend is the part of the inference client the chat needs.
type Backend interface {
	SubmitQuestion(ctx context.Context, question string) (*inference.Submission, error)
	PollStatus(ctx context.Context, requestID string) (inference.StatusResponse, error)
	SubmitFeedback(ctx context.Context, req inference.FeedbackRequest) (inference.FeedbackResponse, error)
	QueueInfo(ctx context.Context) (map[string]any, error)
}

type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
)

type Options struct {
	PollInterval     time.Duration
	StatusClearDelay time.Duration
	BannerDuration   time.Duration

	Metrics *metrics.Metrics
	Monitor *ServerMonitor

	// Notify is called from background goroutines and must not block.
	Notify func(Event)
}

func DefaultOptions() Options {
	return Options{
		PollInterval:     3 * time.Second,
		StatusClearDelay: 2 * time.Second,
		BannerDuration:   5 * time.Second,
	}
}

// OptionsFromConfig maps loaded settings onto chat options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:     cfg.PollInterval,
		StatusClearDelay: cfg.StatusClearDelay,
		BannerDuration:   cfg.BannerDuration,
	}
}

// Snapshot is everything a view needs to draw the chat.
type Snapshot struct {
	Conversation storage.Conversation
	Status       QueueStatus
	HasStatus    bool
	Banner       string
	Pending      bool
	Server       ServerStatus
	HasServer    bool
}

// Chat ties the inference client, the tracker and the conversation store
// together. Views call its methods and redraw on Notify.
type Chat struct {
	backend Backend
	store   *storage.ConversationStore
	tracker *Tracker
	board   *StatusBoard
	monitor *ServerMonitor
	metrics *metrics.Metrics
	notify  func(Event)

	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// serializes Submit so the pending check and the append are atomic
	submitMu sync.Mutex

	closeOnce sync.Once
}

func NewChat(backend Backend, store *storage.ConversationStore, opts Options) *Chat {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.StatusClearDelay <= 0 {
		opts.StatusClearDelay = defaults.StatusClearDelay
	}
	if opts.BannerDuration <= 0 {
		opts.BannerDuration = defaults.BannerDuration
	}
	if opts.Notify == nil {
		opts.Notify = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Chat{
		backend:      backend,
		store:        store,
		monitor:      opts.Monitor,
		metrics:      opts.Metrics,
		notify:       opts.Notify,
		pollInterval: opts.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.board = NewStatusBoard(opts.StatusClearDelay, opts.BannerDuration, func() {
		c.notify(Event{Kind: EventStatus})
	})
	c.tracker = NewTracker(ctx, c.poll, opts.Metrics)
	return c
}

// Submit appends the question to the active conversation and sends it in
// the background. Input is refused while any request is pending.
func (c *Chat) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuestion
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.tracker.IsAnyPending() {
		return ErrRequestPending
	}

	userMsg := storage.Message{
		ID:     uuid.NewString(),
		Sender: storage.SenderUser,
		Text:   text,
	}
	convID, err := c.store.Append(userMsg)
	if err != nil {
		// the message is still on screen, only persistence failed
		config.Log.Warn().Err(err).Msg("failed to persist question")
	}

	c.board.DismissBanner()
	started := c.tracker.Go(func(ctx context.Context) {
		c.runSubmission(ctx, convID, userMsg)
	})
	if !started {
		return ErrClosed
	}

	config.Log.Info().Str("conversation_id", convID).Int("length", len(text)).Msg("question submitted")
	c.notify(Event{Kind: EventConversation, ConversationID: convID})
	return nil
}

func (c *Chat) runSubmission(ctx context.Context, convID string, userMsg storage.Message) {
	sub, err := c.backend.SubmitQuestion(ctx, userMsg.Text)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.failSubmission(convID, err)
		return
	}

	resp := sub.Response
	if sub.Sleeping() {
		c.board.Set(statusFromQueue(resp))
		if c.monitor != nil {
			c.monitor.NotifyWakeUp()
		}

		resp, err = sub.Wait(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.failSubmission(convID, err)
			return
		}
	}

	c.handleAccepted(convID, userMsg, resp)
}

// handleAccepted routes the first real answer from the service.
func (c *Chat) handleAccepted(convID string, userMsg storage.Message, resp inference.QueueResponse) {
	req := Request{
		ID:             resp.RequestID,
		ConversationID: convID,
		UserMessageID:  userMsg.ID,
		Question:       userMsg.Text,
	}

	switch resp.Status {
	case inference.StatusQueueFull:
		c.rejectQueueFull(convID, userMsg)

	case inference.StatusCompleted:
		c.board.Set(statusFromQueue(resp))
		if resp.Result != nil {
			c.resolveAnswer(req, *resp.Result)
		} else {
			c.resolveFailure(req, resp.Error)
		}
		c.settle()

	case inference.StatusFailed:
		c.board.Set(statusFromQueue(resp))
		c.resolveFailure(req, resp.Error)
		c.settle()

	default:
		if resp.RequestID == "" {
			config.Log.Warn().Str("status", string(resp.Status)).Msg("accepted response without request id")
			c.failSubmission(convID, errMissingRequestID)
			return
		}
		c.board.Set(statusFromQueue(resp))
		c.tracker.Track(req)
	}
}

func (c *Chat) rejectQueueFull(convID string, userMsg storage.Message) {
	if err := c.store.Retract(convID, userMsg.ID); err != nil {
		config.Log.Warn().Err(err).Str("conversation_id", convID).Msg("failed to retract rejected question")
	}

	c.metrics.RecordFailure("queue_full")
	config.Log.Info().Err(ErrQueueFull).Str("conversation_id", convID).Msg("question retracted")

	c.board.Set(QueueStatus{State: inference.StatusQueueFull, Message: queueFullText})
	c.board.ShowBanner(queueFullText)
	c.notify(Event{Kind: EventConversation, ConversationID: convID, Err: ErrQueueFull})
	c.settle()
}

// failSubmission turns a submission error into one bot error message.
func (c *Chat) failSubmission(convID string, err error) {
	text, reason := describeFailure(err)
	config.Log.Warn().Err(err).Str("conversation_id", convID).Msg("submission failed")

	c.metrics.RecordFailure(reason)
	c.appendError(storage.Message{Sender: storage.SenderBot, Text: text}, convID)

	c.board.Set(QueueStatus{State: inference.StatusFailed, Message: text})
	c.board.ShowBanner(text)
	c.notify(Event{Kind: EventStatus, ConversationID: convID, Err: err})
	c.settle()
}

func describeFailure(err error) (text, reason string) {
	var reqErr *inference.RequestError
	switch {
	case errors.Is(err, inference.ErrRetriesExhausted):
		return wakeTimeoutText, "wake_timeout"
	case errors.As(err, &reqErr):
		return fmt.Sprintf("Sorry, the server returned an error (%d). Please try again.", reqErr.StatusCode), "http_error"
	case errors.Is(err, errMissingRequestID):
		return missingIDText, "invalid_response"
	default:
		return unreachableText, "transport"
	}
}

func (c *Chat) resolveAnswer(req Request, result inference.ChatResult) {
	requestID := result.RequestID
	if requestID == "" {
		requestID = req.ID
	}

	msg := storage.Message{
		Sender:    storage.SenderBot,
		Text:      result.Answer,
		RequestID: requestID,
		Context:   result.ContextUsed,
		Question:  req.Question,
	}

	appended, err := c.store.AppendAnswer(req.ConversationID, msg)
	if err != nil {
		config.Log.Warn().Err(err).Str("request_id", requestID).Msg("failed to store answer")
	}
	if appended {
		c.metrics.RecordAnswer()
		config.Log.Info().Str("request_id", requestID).Str("conversation_id", req.ConversationID).Msg("answer received")
		c.notify(Event{Kind: EventConversation, ConversationID: req.ConversationID, RequestID: requestID})
	}
}

func (c *Chat) resolveFailure(req Request, serverText string) {
	text := strings.TrimSpace(serverText)
	if text == "" {
		text = failedAnswerText
	}
	c.metrics.RecordFailure("failed")
	config.Log.Warn().Str("request_id", req.ID).Str("error", serverText).Msg("request failed")

	c.appendError(storage.Message{Sender: storage.SenderBot, Text: text, RequestID: req.ID}, req.ConversationID)
}

func (c *Chat) appendError(msg storage.Message, convID string) {
	appended, err := c.store.AppendError(convID, msg)
	if err != nil {
		config.Log.Warn().Err(err).Str("conversation_id", convID).Msg("failed to store error message")
	}
	if appended {
		c.notify(Event{Kind: EventConversation, ConversationID: convID, RequestID: msg.RequestID})
	}
}

// settle fades the status once no request is tracked. A newer status
// cancels the fade.
func (c *Chat) settle() {
	if c.tracker.Len() == 0 {
		c.board.ClearAfterDelay()
	}
}

// SubmitFeedback records a rating for a bot answer in the active
// conversation. On failure the message stays unrated so the form can retry.
func (c *Chat) SubmitFeedback(ctx context.Context, msgID string, rating Rating, comment string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if rating != RatingPositive && rating != RatingNegative {
		return fmt.Errorf("invalid rating %q", rating)
	}

	conv := c.store.Active()
	idx := -1
	for i, m := range conv.Messages {
		if m.ID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrMessageNotFound
	}

	msg := conv.Messages[idx]
	if !msg.IsBot() || msg.RequestID == "" {
		return fmt.Errorf("%w: not an answer", ErrMessageNotFound)
	}
	if msg.FeedbackGiven {
		return ErrFeedbackGiven
	}

	question := msg.Question
	if question == "" {
		question = precedingQuestion(conv.Messages, idx)
	}

	_, err := c.backend.SubmitFeedback(ctx, inference.FeedbackRequest{
		RequestID:   msg.RequestID,
		Question:    question,
		Answer:      msg.Text,
		ContextUsed: msg.Context,
		Feedback:    string(rating),
		Comment:     strings.TrimSpace(comment),
	})
	if err != nil {
		config.Log.Warn().Err(err).Str("request_id", msg.RequestID).Msg("feedback failed")
		return fmt.Errorf("failed to submit feedback: %w", err)
	}

	if err := c.store.MarkFeedbackGiven(conv.ID, msgID); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	config.Log.Info().Str("request_id", msg.RequestID).Str("rating", string(rating)).Msg("feedback recorded")
	c.notify(Event{Kind: EventConversation, ConversationID: conv.ID})
	return nil
}

// precedingQuestion finds the nearest user message before index i.
func precedingQuestion(msgs []storage.Message, i int) string {
	for j := i - 1; j >= 0; j-- {
		if msgs[j].Sender == storage.SenderUser {
			return msgs[j].Text
		}
	}
	return ""
}

// QueueInfo fetches the service's queue summary for display.
func (c *Chat) QueueInfo(ctx context.Context) (map[string]any, error) {
	return c.backend.QueueInfo(ctx)
}

// NewChat starts an empty conversation. Requests already in flight keep
// polling and land in the conversation they came from.
func (c *Chat) NewChat() {
	c.store.Reset()
	c.notify(Event{Kind: EventConversation})
}

// SelectConversation shows a stored conversation without touching
// in-flight requests.
func (c *Chat) SelectConversation(id string) error {
	if err := c.store.Load(id); err != nil {
		return err
	}
	c.notify(Event{Kind: EventConversation, ConversationID: id})
	return nil
}

// Reset cancels every pending request and clears the active conversation.
// History is kept.
func (c *Chat) Reset() {
	c.tracker.ResetAll()
	c.board.Clear()
	c.board.DismissBanner()
	c.store.Reset()
	c.notify(Event{Kind: EventConversation})
}

// Conversations lists stored history, newest first, optionally filtered.
func (c *Chat) Conversations(query string) []storage.Conversation {
	return c.store.Search(query)
}

func (c *Chat) ClearHistory() error {
	c.tracker.ResetAll()
	c.board.Clear()
	if err := c.store.Clear(); err != nil {
		return err
	}
	c.notify(Event{Kind: EventConversation})
	return nil
}

func (c *Chat) IsAnyPending() bool {
	return c.tracker.IsAnyPending()
}

// OnSuspend flushes the active conversation. Polling keeps running.
func (c *Chat) OnSuspend() {
	if err := c.store.Persist(); err != nil {
		config.Log.Warn().Err(err).Msg("failed to persist on suspend")
	}
}

// OnTeardown stops all background work. Calls after the first are no-ops.
func (c *Chat) OnTeardown() {
	c.closeOnce.Do(func() {
		c.submitMu.Lock()
		c.cancel()
		c.submitMu.Unlock()

		c.tracker.ResetAll()
		c.board.Stop()
		if c.monitor != nil {
			c.monitor.Stop()
		}
		if err := c.store.Persist(); err != nil {
			config.Log.Warn().Err(err).Msg("failed to persist on teardown")
		}
		config.Log.Info().Msg("chat torn down")
	})
}

func (c *Chat) Snapshot() Snapshot {
	snap := Snapshot{
		Conversation: c.store.Active(),
		Banner:       c.board.Banner(),
		Pending:      c.tracker.IsAnyPending(),
	}
	snap.Status, snap.HasStatus = c.board.Current()
	if c.monitor != nil {
		snap.Server = c.monitor.Status()
		snap.HasServer = true
	}
	return snap
}
