package model

import (
	"sync"
	"time"

	"dopchat/inference"
)

// QueueStatus is the single status line shown while requests are in flight.
// The most recent writer wins across concurrent requests.
type QueueStatus struct {
	State         inference.Status
	RequestID     string
	Message       string
	QueuePosition *int
	EstimatedWait string
	Retrying      bool
	UpdatedAt     time.Time
}

// StatusBoard holds the queue status and the error banner, and owns the
// timers that fade them out.
type StatusBoard struct {
	mu sync.Mutex

	status    *QueueStatus
	statusGen uint64
	clear     *time.Timer

	banner    string
	bannerGen uint64
	bannerT   *time.Timer

	clearDelay     time.Duration
	bannerDuration time.Duration
	onChange       func()
	now            func() time.Time
	stopped        bool
}

func NewStatusBoard(clearDelay, bannerDuration time.Duration, onChange func()) *StatusBoard {
	if onChange == nil {
		onChange = func() {}
	}
	return &StatusBoard{
		clearDelay:     clearDelay,
		bannerDuration: bannerDuration,
		onChange:       onChange,
		now:            time.Now,
	}
}

// Set replaces the current status and cancels any pending fade.
func (b *StatusBoard) Set(st QueueStatus) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	st.UpdatedAt = b.now()
	b.status = &st
	b.statusGen++
	b.stopClearLocked()
	b.mu.Unlock()

	b.onChange()
}

// MarkRetrying keeps the last status visible and flags that the status
// check itself is being retried.
func (b *StatusBoard) MarkRetrying() {
	b.mu.Lock()
	if b.stopped || b.status == nil || b.status.Retrying {
		b.mu.Unlock()
		return
	}
	st := *b.status
	st.Retrying = true
	st.UpdatedAt = b.now()
	b.status = &st
	b.statusGen++
	b.mu.Unlock()

	b.onChange()
}

func (b *StatusBoard) Current() (QueueStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == nil {
		return QueueStatus{}, false
	}
	return *b.status, true
}

// ClearAfterDelay fades the status out after the configured delay unless a
// newer status arrives first.
func (b *StatusBoard) ClearAfterDelay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.status == nil {
		return
	}

	b.stopClearLocked()
	gen := b.statusGen
	b.clear = time.AfterFunc(b.clearDelay, func() {
		b.mu.Lock()
		if b.statusGen != gen || b.stopped {
			b.mu.Unlock()
			return
		}
		b.status = nil
		b.clear = nil
		b.mu.Unlock()

		b.onChange()
	})
}

func (b *StatusBoard) Clear() {
	b.mu.Lock()
	b.stopClearLocked()
	changed := b.status != nil
	b.status = nil
	b.statusGen++
	b.mu.Unlock()

	if changed {
		b.onChange()
	}
}

// ShowBanner displays text for the banner duration.
func (b *StatusBoard) ShowBanner(text string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.banner = text
	b.bannerGen++
	gen := b.bannerGen
	if b.bannerT != nil {
		b.bannerT.Stop()
	}
	b.bannerT = time.AfterFunc(b.bannerDuration, func() {
		b.mu.Lock()
		if b.bannerGen != gen || b.stopped {
			b.mu.Unlock()
			return
		}
		b.banner = ""
		b.bannerT = nil
		b.mu.Unlock()

		b.onChange()
	})
	b.mu.Unlock()

	b.onChange()
}

func (b *StatusBoard) Banner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banner
}

func (b *StatusBoard) DismissBanner() {
	b.mu.Lock()
	if b.bannerT != nil {
		b.bannerT.Stop()
		b.bannerT = nil
	}
	changed := b.banner != ""
	b.banner = ""
	b.bannerGen++
	b.mu.Unlock()

	if changed {
		b.onChange()
	}
}

// Stop cancels all timers. The board ignores updates afterwards.
func (b *StatusBoard) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.stopClearLocked()
	if b.bannerT != nil {
		b.bannerT.Stop()
		b.bannerT = nil
	}
}

func (b *StatusBoard) stopClearLocked() {
	if b.clear != nil {
		b.clear.Stop()
		b.clear = nil
	}
}

func statusFromQueue(resp inference.QueueResponse) QueueStatus {
	return QueueStatus{
		State:         resp.Status,
		RequestID:     resp.RequestID,
		Message:       resp.Message,
		QueuePosition: resp.QueuePosition,
		EstimatedWait: resp.EstimatedWaitTime,
	}
}

func statusFromPoll(resp inference.StatusResponse) QueueStatus {
	return QueueStatus{
		State:         resp.Status,
		RequestID:     resp.RequestID,
		Message:       resp.Message,
		QueuePosition: resp.QueuePosition,
		EstimatedWait: resp.EstimatedWaitTime,
	}
}
