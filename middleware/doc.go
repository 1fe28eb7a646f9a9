// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /tasks", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (status,
duration_ms). Scanner probes with malformed methods or paths are logged at
debug level only.

# Sessions

Authenticator resolves a bearer token or the quickform_session cookie to a
user:

	authn := middleware.NewAuthenticator(db, cfg.SessionSecret)
	mux.HandleFunc("GET /me", authn.RequireUser(profile.Me))
	mux.HandleFunc("GET /admin/stats", authn.RequireAdmin(admin.Stats))
	mux.HandleFunc("GET /tasks/{id}", authn.OptionalUser(tasks.GetTask))

Handlers read the user back with CurrentUser(r.Context()).

# CORS Middleware

CORS echoes the request origin and allows credentials for the web client.
PublicCORS answers any origin without credentials and is used by the form
submission API.

# Abuse Protection

BanNotFound refuses clients that produced too many 404 responses and
Instrument records request latency:

	handler := middleware.Instrument(m, middleware.BanNotFound(banner, m, mux))

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

Parse JSON request bodies:

	var req models.CreateTaskRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

Get the original client IP (handles X-Forwarded-For, X-Real-IP):

	ip := middleware.GetClientIP(r)

Used by the rate limiters and, hashed, in submission records.
*/
package middleware
