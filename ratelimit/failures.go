// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ratelimit

import (
	"sync"
	"time"
)

// LoginFailureTTL is how long a failure streak survives its last failure
const LoginFailureTTL = 30 * time.Minute

type streak struct {
	count     int
	expiresAt time.Time
}

// FailureCounter counts consecutive failures per key. A streak is forgotten
// once LoginFailureTTL passes without another failure.
type FailureCounter struct {
	mu      sync.Mutex
	ttl     time.Duration
	streaks map[string]*streak
}

func NewFailureCounter() *FailureCounter {
	return NewFailureCounterWith(LoginFailureTTL)
}

func NewFailureCounterWith(ttl time.Duration) *FailureCounter {
	return &FailureCounter{
		ttl:     ttl,
		streaks: make(map[string]*streak),
	}
}

// Fail records a failure for key and returns the length of its streak
func (c *FailureCounter) Fail(key string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streaks[key]
	if !ok || !now.Before(s.expiresAt) {
		s = &streak{}
		c.streaks[key] = s
	}
	s.count++
	s.expiresAt = now.Add(c.ttl)
	return s.count
}

// Reset ends the streak for key
func (c *FailureCounter) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streaks, key)
}

// Sweep drops expired streaks and returns how many were removed
func (c *FailureCounter) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, s := range c.streaks {
		if !now.Before(s.expiresAt) {
			delete(c.streaks, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (c *FailureCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streaks)
}
