// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ratelimit

import (
	"sync"
	"time"
)

// Submission limits applied per client IP
const (
	SubmissionWindow    = 10 * time.Second
	SubmissionThreshold = 50
	SubmissionBlacklist = 300 * time.Second
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed bool
	// Blocked is set when the IP was already blacklisted before this call
	Blocked bool
	// NewlyBlocked is set when this call pushed the IP over the threshold
	NewlyBlocked bool
	// RetryAfter is the time left on the blacklist
	RetryAfter time.Duration
	// Count is the number of events in the window including this one
	Count int
}

// window tracks recent event times for one key and an optional ban
type window struct {
	events      []time.Time
	bannedUntil time.Time
}

// prune drops events older than cutoff. Events are appended in order.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// SubmissionLimiter is a sliding-window limiter with a temporary blacklist.
// One mutex guards all state.
type SubmissionLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	blacklist time.Duration
	clients   map[string]*window
}

func NewSubmissionLimiter() *SubmissionLimiter {
	return NewSubmissionLimiterWith(SubmissionWindow, SubmissionThreshold, SubmissionBlacklist)
}

func NewSubmissionLimiterWith(win time.Duration, threshold int, blacklist time.Duration) *SubmissionLimiter {
	return &SubmissionLimiter{
		window:    win,
		threshold: threshold,
		blacklist: blacklist,
		clients:   make(map[string]*window),
	}
}

// Allow records one submission attempt from ip at now.
// Attempts from a blacklisted IP are rejected without being recorded.
func (l *SubmissionLimiter) Allow(ip string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[ip]
	if !ok {
		w = &window{}
		l.clients[ip] = w
	}

	if now.Before(w.bannedUntil) {
		return Decision{Blocked: true, RetryAfter: w.bannedUntil.Sub(now)}
	}

	w.prune(now.Add(-l.window))
	w.events = append(w.events, now)
	count := len(w.events)

	if count > l.threshold {
		w.bannedUntil = now.Add(l.blacklist)
		w.events = w.events[:0]
		return Decision{NewlyBlocked: true, RetryAfter: l.blacklist, Count: count}
	}
	return Decision{Allowed: true, Count: count}
}

// Blacklisted reports whether ip is currently blocked
func (l *SubmissionLimiter) Blacklisted(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.clients[ip]
	return ok && now.Before(w.bannedUntil)
}

// Sweep drops clients with no events in the window and no active ban.
// Returns the number of clients removed.
func (l *SubmissionLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := now.Add(-l.window)
	for ip, w := range l.clients {
		w.prune(cutoff)
		if len(w.events) == 0 && !now.Before(w.bannedUntil) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (l *SubmissionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
