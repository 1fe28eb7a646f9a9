// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/models"
)

// SessionCookieName carries the session token for browser clients
const SessionCookieName = "quickform_session"

type contextKey int

const userKey contextKey = iota

// CurrentUser returns the logged-in user stored by the Authenticator, or nil
func CurrentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// WithUser stores u in the context
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// SessionToken reads the bearer token or the session cookie
func SessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticator resolves session tokens to users
type Authenticator struct {
	db     *sql.DB
	secret string
}

func NewAuthenticator(conn *sql.DB, secret string) *Authenticator {
	return &Authenticator{db: conn, secret: secret}
}

// Lookup returns the user owning a live session token, or nil
func (a *Authenticator) Lookup(token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}

	var userID string
	var expiresAt time.Time
	err := a.db.QueryRow("SELECT user_id, expires_at FROM session WHERE token_hash = $1",
		auth.HashSessionToken(token, a.secret)).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(expiresAt) {
		return nil, nil
	}

	user, err := db.GetUser(a.db, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *Authenticator) resolve(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := a.Lookup(SessionToken(r))
	if err != nil {
		slog.Error("session lookup failed", "error", err)
		ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return user, true
}

// OptionalUser attaches the user when a valid session is present
func (a *Authenticator) OptionalUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next(w, r)
	}
}

// RequireUser rejects requests without a valid session
func (a *Authenticator) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user == nil {
			ErrorResponse(w, http.StatusUnauthorized, "Login required")
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// RequireAdmin rejects requests from anyone but administrators
func (a *Authenticator) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if !CurrentUser(r.Context()).IsAdmin() {
			ErrorResponse(w, http.StatusForbidden, "Administrator access required")
			return
		}
		next(w, r)
	})
}
