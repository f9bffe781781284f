package testutil

import (
	"context"

	"dopchat/inference"
)

// Queued returns a SubmitQuestionFunc that accepts every question under id.
func Queued(id string) func(ctx context.Context, question string) (*inference.Submission, error) {
	return func(ctx context.Context, question string) (*inference.Submission, error) {
		return inference.NewSubmission(inference.QueueResponse{
			RequestID: id,
			Question:  question,
			Status:    inference.StatusQueued,
		}), nil
	}
}

// Completed is a finished poll result for id. ContextUsed is "ctx-"+id.
func Completed(id, answer string) inference.StatusResponse {
	return inference.StatusResponse{
		RequestID: id,
		Status:    inference.StatusCompleted,
		Result: &inference.ChatResult{
			RequestID:   id,
			Answer:      answer,
			ContextUsed: "ctx-" + id,
		},
	}
}

// Failed is a poll result for a request the service gave up on.
func Failed(id, reason string) inference.StatusResponse {
	return inference.StatusResponse{
		RequestID: id,
		Status:    inference.StatusFailed,
		Error:     reason,
	}
}

// Position returns a pointer for QueuePosition fields.
func Position(n int) *int {
	return &n
}
