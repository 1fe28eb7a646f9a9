// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ratelimit protects the public endpoints from abusive clients.

# Submission Limiter

SubmissionLimiter counts form submissions per client IP over a sliding
10 second window. The 51st submission inside the window blacklists the IP
for 5 minutes:

	d := limiter.Allow(ip, time.Now())
	if !d.Allowed {
		// 429, and log the event against the task when d.NewlyBlocked
	}

While blacklisted, attempts are rejected without being counted.

# 404 Banner

NotFoundBanner bans an IP for 10 minutes after 30 not-found responses in
one minute. middleware.BanNotFound wires it in front of the router.

Both types hold all state behind a single mutex. Call Sweep periodically to
forget idle clients.
*/
package ratelimit
