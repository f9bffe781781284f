package model

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"dopchat/config"
	"dopchat/inference"

	"github.com/robfig/cron/v3"
)

type ServerState string

const (
	ServerOnline   ServerState = "online"
	ServerSleeping ServerState = "sleeping"
	ServerWaking   ServerState = "waking"
	ServerUnknown  ServerState = "unknown"
)

// maxWakeProgress keeps the progress bar short of done until the service
// actually answers.
const maxWakeProgress = 0.95

type HealthChecker interface {
	CheckHealth(ctx context.Context) (inference.HealthState, error)
}

type ServerStatus struct {
	State            ServerState
	WakeStarted      time.Time
	LastChecked      time.Time
	Progress         float64
	RemainingMinutes int
}

// ServerMonitor tracks whether the service is up. It checks health on a
// cron schedule only; wake-up progress is derived from the clock.
type ServerMonitor struct {
	checker      HealthChecker
	interval     time.Duration
	wakeEstimate time.Duration
	onChange     func()
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron

	mu          sync.Mutex
	state       ServerState
	wakeStarted time.Time
	lastChecked time.Time
	started     bool
	stopOnce    sync.Once
}

func NewServerMonitor(checker HealthChecker, interval, wakeEstimate time.Duration, onChange func()) *ServerMonitor {
	if onChange == nil {
		onChange = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ServerMonitor{
		checker:      checker,
		interval:     interval,
		wakeEstimate: wakeEstimate,
		onChange:     onChange,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		state:        ServerUnknown,
	}
}

// Start schedules periodic checks and runs one right away.
func (m *ServerMonitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, m.scheduledCheck); err != nil {
		return fmt.Errorf("failed to schedule health check %q: %w", spec, err)
	}
	m.cron.Start()

	go m.scheduledCheck()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *ServerMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		<-m.cron.Stop().Done()
	})
}

func (m *ServerMonitor) scheduledCheck() {
	if m.ctx.Err() != nil {
		return
	}
	m.Check(m.ctx)
}

// Check runs one health check and applies the result.
func (m *ServerMonitor) Check(ctx context.Context) ServerState {
	health, err := m.checker.CheckHealth(ctx)
	if ctx.Err() != nil {
		return m.State()
	}
	if err != nil {
		config.Log.Debug().Err(err).Str("health", string(health)).Msg("health check failed")
	}
	return m.apply(health)
}

func (m *ServerMonitor) apply(health inference.HealthState) ServerState {
	m.mu.Lock()
	prev := m.state
	m.lastChecked = m.now()

	switch health {
	case inference.HealthOnline:
		m.state = ServerOnline
		m.wakeStarted = time.Time{}
	case inference.HealthSleeping:
		if m.state != ServerWaking {
			m.state = ServerSleeping
		}
	default:
		if m.state != ServerWaking {
			m.state = ServerUnknown
		}
	}
	state := m.state
	m.mu.Unlock()

	if state != prev {
		config.Log.Info().Str("from", string(prev)).Str("to", string(state)).Msg("server state changed")
	}
	m.onChange()
	return state
}

// NotifyWakeUp records that a request hit a sleeping service, which starts
// the wake-up clock.
func (m *ServerMonitor) NotifyWakeUp() {
	m.mu.Lock()
	if m.state == ServerWaking {
		m.mu.Unlock()
		return
	}
	m.state = ServerWaking
	m.wakeStarted = m.now()
	m.mu.Unlock()

	m.onChange()
}

func (m *ServerMonitor) State() ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress is the share of the wake estimate already elapsed, capped below 1.
func (m *ServerMonitor) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressLocked()
}

func (m *ServerMonitor) progressLocked() float64 {
	if m.state != ServerWaking || m.wakeEstimate <= 0 {
		return 0
	}
	p := float64(m.now().Sub(m.wakeStarted)) / float64(m.wakeEstimate)
	return math.Max(0, math.Min(p, maxWakeProgress))
}

// RemainingMinutes estimates how long the wake-up still takes, never less
// than one minute.
func (m *ServerMonitor) RemainingMinutes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *ServerMonitor) remainingLocked() int {
	left := m.wakeEstimate
	if m.state == ServerWaking {
		left -= m.now().Sub(m.wakeStarted)
	}
	mins := int(math.Ceil(left.Minutes()))
	if mins < 1 {
		return 1
	}
	return mins
}

func (m *ServerMonitor) Status() ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ServerStatus{
		State:            m.state,
		WakeStarted:      m.wakeStarted,
		LastChecked:      m.lastChecked,
		Progress:         m.progressLocked(),
		RemainingMinutes: m.remainingLocked(),
	}
}
