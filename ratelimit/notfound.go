// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ratelimit

import (
	"sync"
	"time"
)

// Scanner defaults: 30 misses within a minute bans the IP for ten minutes
const (
	NotFoundWindow    = 60 * time.Second
	NotFoundThreshold = 30
	NotFoundBan       = 10 * time.Minute
)

// NotFoundBanner bans clients that produce bursts of 404 responses
type NotFoundBanner struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	ban       time.Duration
	clients   map[string]*window
}

func NewNotFoundBanner() *NotFoundBanner {
	return NewNotFoundBannerWith(NotFoundWindow, NotFoundThreshold, NotFoundBan)
}

func NewNotFoundBannerWith(win time.Duration, threshold int, ban time.Duration) *NotFoundBanner {
	return &NotFoundBanner{
		window:    win,
		threshold: threshold,
		ban:       ban,
		clients:   make(map[string]*window),
	}
}

// Banned reports whether ip is currently banned
func (b *NotFoundBanner) Banned(ip string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.clients[ip]
	return ok && now.Before(w.bannedUntil)
}

// Record404 counts one 404 for ip and reports whether this pushed it into a ban
func (b *NotFoundBanner) Record404(ip string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.clients[ip]
	if !ok {
		w = &window{}
		b.clients[ip] = w
	}
	if now.Before(w.bannedUntil) {
		return false
	}

	w.prune(now.Add(-b.window))
	w.events = append(w.events, now)
	if len(w.events) >= b.threshold {
		w.bannedUntil = now.Add(b.ban)
		w.events = w.events[:0]
		return true
	}
	return false
}

// Sweep drops idle clients and expired bans
func (b *NotFoundBanner) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	cutoff := now.Add(-b.window)
	for ip, w := range b.clients {
		w.prune(cutoff)
		if len(w.events) == 0 && !now.Before(w.bannedUntil) {
			delete(b.clients, ip)
			removed++
		}
	}
	return removed
}
