// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/ratelimit"
)

// BanNotFound refuses banned clients with 403 and counts their 404 responses
func BanNotFound(banner *ratelimit.NotFoundBanner, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r)
		if banner.Banned(ip, time.Now()) {
			ErrorResponse(w, http.StatusForbidden, "Too many invalid requests, try again later")
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.Status() == http.StatusNotFound && banner.Record404(ip, time.Now()) {
			slog.Warn("client banned for repeated 404s", "ip", ip, "path", r.URL.Path)
			if m != nil {
				m.NotFoundBans.Inc()
			}
		}
	})
}

// Instrument records request latency by method and status code
func Instrument(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		m.ObserveRequest(r.Method, rec.Status(), time.Since(start))
	})
}
