package testutil

import (
	"context"
	"sync"

	"dopchat/inference"
)

// MockBackend stands in for the inference client. Each call goes through
// the matching Func field, which tests replace as needed.
type MockBackend struct {
	SubmitQuestionFunc func(ctx context.Context, question string) (*inference.Submission, error)
	// PollStatusFunc also receives n, the 1-based poll count for requestID.
	PollStatusFunc     func(ctx context.Context, requestID string, n int) (inference.StatusResponse, error)
	SubmitFeedbackFunc func(ctx context.Context, req inference.FeedbackRequest) (inference.FeedbackResponse, error)
	QueueInfoFunc      func(ctx context.Context) (map[string]any, error)

	mu        sync.Mutex
	polls     map[string]int
	questions []string
	feedback  []inference.FeedbackRequest
}

// NewMockBackend creates a backend that queues every question as "r1"
// and reports it as processing forever.
func NewMockBackend() *MockBackend {
	m := &MockBackend{polls: make(map[string]int)}
	m.SubmitQuestionFunc = Queued("r1")
	m.PollStatusFunc = func(ctx context.Context, requestID string, n int) (inference.StatusResponse, error) {
		return inference.StatusResponse{RequestID: requestID, Status: inference.StatusProcessing}, nil
	}
	m.SubmitFeedbackFunc = func(ctx context.Context, req inference.FeedbackRequest) (inference.FeedbackResponse, error) {
		return inference.FeedbackResponse{Status: "ok"}, nil
	}
	m.QueueInfoFunc = func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"queue_size": float64(0)}, nil
	}
	return m
}

func (m *MockBackend) SubmitQuestion(ctx context.Context, question string) (*inference.Submission, error) {
	m.mu.Lock()
	m.questions = append(m.questions, question)
	m.mu.Unlock()
	return m.SubmitQuestionFunc(ctx, question)
}

func (m *MockBackend) PollStatus(ctx context.Context, requestID string) (inference.StatusResponse, error) {
	m.mu.Lock()
	m.polls[requestID]++
	n := m.polls[requestID]
	m.mu.Unlock()
	return m.PollStatusFunc(ctx, requestID, n)
}

func (m *MockBackend) SubmitFeedback(ctx context.Context, req inference.FeedbackRequest) (inference.FeedbackResponse, error) {
	m.mu.Lock()
	m.feedback = append(m.feedback, req)
	m.mu.Unlock()
	return m.SubmitFeedbackFunc(ctx, req)
}

func (m *MockBackend) QueueInfo(ctx context.Context) (map[string]any, error) {
	return m.QueueInfoFunc(ctx)
}

// PollCount is how many times requestID has been polled.
func (m *MockBackend) PollCount(requestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls[requestID]
}

func (m *MockBackend) Questions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.questions...)
}

func (m *MockBackend) FeedbackCalls() []inference.FeedbackRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inference.FeedbackRequest(nil), m.feedback...)
}
