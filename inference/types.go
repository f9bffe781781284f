package inference

// Status is the lifecycle state the service reports for a question.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusQueued     Status = "queued"
	StatusQueueFull  Status = "queue_full"
	StatusSleeping   Status = "sleeping"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether polling should stop at this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the statuses the client understands.
func (s Status) Known() bool {
	switch s {
	case StatusProcessing, StatusQueued, StatusQueueFull, StatusSleeping, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResult is the final answer for a completed question.
type ChatResult struct {
	RequestID   string `json:"request_id"`
	Question    string `json:"question"`
	ContextUsed string `json:"context_used"`
	Answer      string `json:"answer"`
}

// QueueResponse is returned by POST /chat.
type QueueResponse struct {
	RequestID         string      `json:"request_id"`
	Question          string      `json:"question"`
	Status            Status      `json:"status"`
	Message           string      `json:"message"`
	QueuePosition     *int        `json:"queue_position,omitempty"`
	EstimatedWaitTime string      `json:"estimated_wait_time,omitempty"`
	Result            *ChatResult `json:"result,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status/{request_id}.
type StatusResponse struct {
	RequestID         string      `json:"request_id"`
	Status            Status      `json:"status"`
	Message           string      `json:"message"`
	QueuePosition     *int        `json:"queue_position,omitempty"`
	EstimatedWaitTime string      `json:"estimated_wait_time,omitempty"`
	Result            *ChatResult `json:"result,omitempty"`
	Error             string      `json:"error,omitempty"`
}

type FeedbackRequest struct {
	RequestID   string `json:"request_id"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	ContextUsed string `json:"context_used"`
	Feedback    string `json:"feedback"`
	Comment     string `json:"comment,omitempty"`
}

type FeedbackResponse struct {
	Status string `json:"status"`
}

// HealthState is what GET /health says about the service.
type HealthState string

const (
	HealthOnline   HealthState = "online"
	HealthSleeping HealthState = "sleeping"
	HealthUnknown  HealthState = "unknown"
)
