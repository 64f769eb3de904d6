// Package ratelimit bounds inbound audio frame rates per participant.
package ratelimit

import (
	"sync"
	"time"
)

// AudioLimiter is a per-participant frame token bucket. At the default
// 100 frames/s it enforces an average spacing of 10 ms between
// accepted frames; excess frames are silently dropped by the caller.
type AudioLimiter struct {
	now          func() time.Time
	fps          int64
	burstSeconds int64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     int64
	lastRefill time.Time
}

// NewAudioLimiter creates a limiter. now may be nil for wall clock.
func NewAudioLimiter(fps, burstSeconds int, now func() time.Time) *AudioLimiter {
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &AudioLimiter{
		now:          now,
		fps:          int64(fps),
		burstSeconds: int64(burstSeconds),
		buckets:      make(map[string]*bucket),
	}
}

// Allow reports whether a frame from the participant is within rate.
func (l *AudioLimiter) Allow(participantID string) bool {
	if l == nil || l.fps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[participantID]
	if !ok {
		b = &bucket{tokens: l.fps * l.burstSeconds, lastRefill: now}
		l.buckets[participantID] = b
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		add := (elapsed.Nanoseconds() * l.fps) / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if maxTokens := l.fps * l.burstSeconds; b.tokens > maxTokens {
				b.tokens = maxTokens
			}
			b.lastRefill = now
		}
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Forget drops the participant's bucket, e.g. on disconnect.
func (l *AudioLimiter) Forget(participantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, participantID)
}
