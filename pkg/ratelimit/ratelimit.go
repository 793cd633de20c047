// Package ratelimit paces stream restarts with a token bucket. The sync
// stream never retries on its own; callers that restart a failed stream take
// a token first so a flapping homeserver is not hammered with initial syncs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is a token bucket refilled at a fixed rate. It is safe for
// concurrent use.
type Limiter struct {
	mu            sync.Mutex
	perSecond     float64
	burst         int
	tokens        float64
	refilledAt    time.Time
	cooldownUntil time.Time
	disabled      bool
	now           func() time.Time
}

// NewLimiter returns a limiter allowing perMinute tokens per minute with at
// most burst tokens saved up. A perMinute of 0 or less disables limiting.
func NewLimiter(perMinute float64, burst int) *Limiter {
	l := &Limiter{now: time.Now}
	if perMinute <= 0 {
		l.disabled = true
		return l
	}
	if burst < 1 {
		burst = 1
	}
	l.perSecond = perMinute / 60
	l.burst = burst
	l.tokens = float64(burst)
	l.refilledAt = l.now()
	return l
}

// Wait blocks until a token is available, a cooldown set by Pause has
// passed, or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		delay := l.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow takes a token if one is available right now.
func (l *Limiter) Allow() bool {
	return l.reserve() == 0
}

// reserve takes a token and returns 0, or returns how long to wait before
// trying again.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.cooldownUntil) {
		return l.cooldownUntil.Sub(now)
	}
	if l.disabled {
		return 0
	}

	l.refill(now)
	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	wait := time.Duration((1 - l.tokens) / l.perSecond * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.refilledAt).Seconds() * l.perSecond
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.refilledAt = now
}

// Pause blocks every caller for at least d, for example after the
// homeserver answered 429. Pauses apply even when limiting is disabled.
func (l *Limiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// CooldownRemaining returns what is left of the current pause.
func (l *Limiter) CooldownRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := l.cooldownUntil.Sub(l.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// Stats is a point-in-time view of a Limiter.
type Stats struct {
	PerMinute         float64
	Burst             int
	AvailableTokens   float64
	Disabled          bool
	CooldownRemaining time.Duration
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats := Stats{
		PerMinute: l.perSecond * 60,
		Burst:     l.burst,
		Disabled:  l.disabled,
	}
	if !l.disabled {
		l.refill(now)
		stats.AvailableTokens = l.tokens
	}
	if remaining := l.cooldownUntil.Sub(now); remaining > 0 {
		stats.CooldownRemaining = remaining
	}
	return stats
}

func (l *Limiter) String() string {
	if l.disabled {
		return "unlimited"
	}
	return fmt.Sprintf("%.1f/min, burst %d", l.perSecond*60, l.burst)
}
