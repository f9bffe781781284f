package inference

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

type BackoffConfig struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	Jitter      float64 // fraction of the base delay, e.g. 0.2 for ±20%
	MaxAttempts int     // total attempts including the first call
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:     5 * time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 36,
	}
}

// Backoff computes wake-up retry delays. Safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff builds a Backoff; a nil src seeds from the clock.
func NewBackoff(cfg BackoffConfig, src rand.Source) *Backoff {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Backoff{cfg: cfg, rnd: rand.New(src)}
}

func (b *Backoff) Config() BackoffConfig {
	return b.cfg
}

func (b *Backoff) MaxAttempts() int {
	return b.cfg.MaxAttempts
}

// Base is the un-jittered delay before retry number retry (0-based).
// It never decreases and never exceeds Max.
func (b *Backoff) Base(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(retry))
	if b.cfg.Max > 0 && (d > float64(b.cfg.Max) || math.IsInf(d, 1)) {
		return b.cfg.Max
	}
	return time.Duration(d)
}

// Next is Base(retry) with symmetric jitter applied, never above Max.
func (b *Backoff) Next(retry int) time.Duration {
	base := b.Base(retry)
	if b.cfg.Jitter <= 0 {
		return base
	}

	b.mu.Lock()
	r := b.rnd.Float64()
	b.mu.Unlock()

	factor := 1 + b.cfg.Jitter*(2*r-1)
	d := time.Duration(float64(base) * factor)
	if b.cfg.Max > 0 && d > b.cfg.Max {
		return b.cfg.Max
	}
	return d
}
