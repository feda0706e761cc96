package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/Sriram-PR/text-scraper/pkg/config"
)

// BackoffPolicy computes randomized exponential retry delays.
// Delay(i) = (Base^i + max(NoiseFloor, NoiseMean + NoiseStdDev*z)) * Unit, z ~ N(0, 1)
type BackoffPolicy struct {
	Base        float64
	Unit        time.Duration
	NoiseMean   float64
	NoiseStdDev float64
	NoiseFloor  float64
	MaxDelay    time.Duration  // 0 = uncapped
	Normal      func() float64 // Standard normal source; nil uses math/rand
}

// DefaultBackoffPolicy returns base 10, noise N(5, 2) floored at 0.1, one-second units, no cap.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        10,
		Unit:        time.Second,
		NoiseMean:   5,
		NoiseStdDev: 2,
		NoiseFloor:  0.1,
	}
}

// BackoffFromConfig builds a policy from validated configuration.
func BackoffFromConfig(cfg config.BackoffConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:        cfg.Base,
		Unit:        cfg.Unit,
		NoiseMean:   cfg.NoiseMean,
		NoiseStdDev: cfg.NoiseStdDev,
		NoiseFloor:  cfg.NoiseFloor,
		MaxDelay:    cfg.MaxDelay,
	}
}

// Delay returns the wait before the retry that follows failed attempt i (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	normal := p.Normal
	if normal == nil {
		normal = rand.NormFloat64
	}

	noise := p.NoiseMean + p.NoiseStdDev*normal()
	if noise < p.NoiseFloor {
		noise = p.NoiseFloor
	}
	units := math.Pow(p.Base, float64(attempt)) + noise

	nanos := units * float64(p.Unit)
	var delay time.Duration
	if nanos >= math.MaxInt64 || math.IsInf(nanos, 0) || math.IsNaN(nanos) {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = time.Duration(nanos)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Sleeper waits between retry attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the real-time Sleeper; it returns early with ctx.Err() on cancellation.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
