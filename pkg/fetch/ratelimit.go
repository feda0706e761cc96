package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to the same host by a minimum interval, shared by all workers
type HostLimiter struct {
	mu              sync.Mutex
	limiters        map[string]*rate.Limiter // host -> token bucket
	intervals       map[string]time.Duration // host -> interval override
	defaultInterval time.Duration
	log             *logrus.Entry
}

// NewHostLimiter creates a HostLimiter. A non-positive interval disables waiting for hosts without an override.
func NewHostLimiter(defaultInterval time.Duration, log *logrus.Entry) *HostLimiter {
	return &HostLimiter{
		limiters:        make(map[string]*rate.Limiter),
		intervals:       make(map[string]time.Duration),
		defaultInterval: defaultInterval,
		log:             log,
	}
}

// SetInterval overrides the spacing for one host. It replaces any existing bucket for that host.
func (l *HostLimiter) SetInterval(host string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intervals[host] = interval
	l.limiters[host] = newBucket(interval)
}

// Wait blocks until a request to host may be sent, or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	limiter := l.bucket(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		l.log.WithFields(logrus.Fields{"host": host, "waited": waited}).Debug("Politeness delay applied")
	}
	return nil
}

func (l *HostLimiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		interval, ok := l.intervals[host]
		if !ok {
			interval = l.defaultInterval
		}
		limiter = newBucket(interval)
		l.limiters[host] = limiter
	}
	return limiter
}

func newBucket(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
