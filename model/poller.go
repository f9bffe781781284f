package model

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dopchat/config"
	"dopchat/inference"
)

// poll checks one request on a fixed ticker until it reaches a terminal
// status or ctx is cancelled. Polls for the same id never overlap; ticks
// that fire during a slow poll are dropped.
func (c *Chat) poll(ctx context.Context, req Request) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if done := c.pollOnce(ctx, req); done {
			return
		}
	}
}

// pollOnce reports whether the request is finished.
func (c *Chat) pollOnce(ctx context.Context, req Request) bool {
	resp, err := c.backend.PollStatus(ctx, req.ID)
	if ctx.Err() != nil {
		return true
	}

	if err != nil {
		var reqErr *inference.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			c.metrics.RecordPoll("not_found")
			config.Log.Warn().Str("request_id", req.ID).Msg("request unknown to server")
			c.board.Set(QueueStatus{State: inference.StatusFailed, RequestID: req.ID, Message: notFoundText})
			c.resolveFailure(req, notFoundText)
			c.finish(req)
			return true
		}

		// the status check failed, not the request
		c.metrics.RecordPoll("error")
		config.Log.Debug().Err(err).Str("request_id", req.ID).Msg("status check failed, retrying")
		c.board.MarkRetrying()
		return false
	}

	c.metrics.RecordPoll(string(resp.Status))
	if resp.RequestID == "" {
		resp.RequestID = req.ID
	}
	c.board.Set(statusFromPoll(resp))

	switch resp.Status {
	case inference.StatusCompleted:
		if resp.Result != nil {
			c.resolveAnswer(req, *resp.Result)
		} else {
			c.resolveFailure(req, resp.Error)
		}
		c.finish(req)
		return true

	case inference.StatusFailed:
		c.resolveFailure(req, resp.Error)
		c.finish(req)
		return true

	case inference.StatusSleeping:
		if c.monitor != nil {
			c.monitor.NotifyWakeUp()
		}
	}

	if !resp.Status.Known() {
		config.Log.Warn().Str("request_id", req.ID).Str("status", string(resp.Status)).Msg("unexpected status, still polling")
	}
	return false
}

func (c *Chat) finish(req Request) {
	c.tracker.Untrack(req.ID)
	c.settle()
}
