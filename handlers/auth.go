// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/mailer"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/ratelimit"
	"github.com/danielhkuo/quickform/verify"
)

const (
	sessionTTL         = 24 * time.Hour
	rememberSessionTTL = 30 * 24 * time.Hour

	// loginHintAfter consecutive failures from one IP switch the error to a recovery hint
	loginHintAfter = 3
	loginHint      = "Having trouble signing in? Use \"Forgot username\" or \"Forgot password\" to recover your account."
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

type AuthHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	mail    mailer.Sender
	codes   *verify.Store
	tickets *verify.Store

	// failed logins per client IP
	failures *ratelimit.FailureCounter
}

func NewAuthHandler(db *sql.DB, cfg cliparse.Config, mail mailer.Sender, codes, tickets *verify.Store, failures *ratelimit.FailureCounter) *AuthHandler {
	return &AuthHandler{
		db:       db,
		cfg:      cfg,
		mail:     mail,
		codes:    codes,
		tickets:  tickets,
		failures: failures,
	}
}

func registerCodeKey(email string) string {
	return "register:" + strings.ToLower(email)
}

func resetCodeKey(userID string) string {
	return "reset:" + userID
}

// maskEmail keeps the first character of the local part
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	return email[:1] + "***" + email[at:]
}

func (h *AuthHandler) sendCode(ctx context.Context, key, email string) error {
	code, err := auth.GenerateEmailCode()
	if err != nil {
		return err
	}
	h.codes.Set(key, code, verify.EmailCodeTTL)
	if err := h.mail.Send(ctx, email, mailer.VerificationSubject, mailer.VerificationBody(code)); err != nil {
		h.codes.Delete(key)
		return err
	}
	return nil
}

// SendEmailCode handles POST /auth/email-code
func (h *AuthHandler) SendEmailCode(w http.ResponseWriter, r *http.Request) {
	var req models.SendEmailCodeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !emailPattern.MatchString(email) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	if err := h.sendCode(r.Context(), registerCodeKey(email), email); err != nil {
		slog.Error("failed to send verification email", "to", email, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to send verification email")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: "Verification code sent",
	})
}

// conflictField names the first of username, email or phone already in use
// by someone other than excludeID
func conflictField(q db.Querier, excludeID, username, email, phone string) (string, error) {
	checks := []struct {
		column, value, message string
	}{
		{"username", username, "Username already taken"},
		{"email", email, "Email already registered"},
		{"phone", phone, "Phone number already registered"},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		var n int
		err := q.QueryRow("SELECT COUNT(*) FROM users WHERE "+c.column+" = $1 AND id <> $2",
			c.value, excludeID).Scan(&n)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return c.message, nil
		}
	}
	return "", nil
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
	school := strings.TrimSpace(req.School)

	switch {
	case username == "":
		middleware.ErrorResponse(w, http.StatusBadRequest, "username is required")
		return
	case !emailPattern.MatchString(email):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid email address")
		return
	case len(req.Password) < auth.MinPasswordLength:
		middleware.ErrorResponse(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	case phone != "" && !phonePattern.MatchString(phone):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid phone number")
		return
	}

	conflict, err := conflictField(h.db, "", username, email, phone)
	if err != nil {
		internalError(w, "failed to check user uniqueness", err)
		return
	}
	if conflict != "" {
		middleware.ErrorResponse(w, http.StatusConflict, conflict)
		return
	}

	if !h.codes.Verify(registerCodeKey(email), strings.TrimSpace(req.EmailCode)) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Password is too long")
		return
	}
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	userID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate user ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO users (id, username, email, phone, password_hash, school, role, task_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, userID, username, email, phone, hash, school, models.RoleUser, h.cfg.DefaultTaskLimit, db.Now())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Username or email already registered")
		return
	}
	if err != nil {
		internalError(w, "failed to insert user", err)
		return
	}
	if err := db.CreateAIConfig(tx, userID); err != nil {
		internalError(w, "failed to create ai config", err)
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit registration", err)
		return
	}

	user, err := db.GetUser(h.db, userID)
	if err != nil {
		internalError(w, "failed to load new user", err)
		return
	}

	slog.Info("user registered", "user_id", userID, "username", username)
	middleware.JSONResponse(w, http.StatusCreated, user)
}

// Login handles POST /auth/login. The identifier may be a username, an
// email address or a phone number.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	ident := strings.TrimSpace(req.Username)
	if ident == "" || req.Password == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ip := middleware.GetClientIP(r)
	user, err := db.ScanUser(h.db.QueryRow(`
		SELECT `+db.UserColumns+` FROM users
		WHERE username = $1 OR email = $2 OR (phone <> '' AND phone = $3)
		ORDER BY CASE WHEN username = $4 THEN 0 ELSE 1 END
		LIMIT 1
	`, ident, ident, ident, ident))
	if err != nil && err != sql.ErrNoRows {
		internalError(w, "failed to query user", err)
		return
	}

	if err == sql.ErrNoRows || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		msg := "Invalid username or password"
		if h.failures.Fail(ip, time.Now()) >= loginHintAfter {
			msg = loginHint
		}
		middleware.ErrorResponse(w, http.StatusUnauthorized, msg)
		return
	}
	h.failures.Reset(ip)

	token, err := auth.GenerateSessionToken()
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	ttl := sessionTTL
	if req.Remember {
		ttl = rememberSessionTTL
	}
	now := db.Now()
	expiresAt := now.Add(ttl)

	_, err = h.db.Exec(`
		INSERT INTO session (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, auth.HashSessionToken(token, h.cfg.SessionSecret), user.ID, expiresAt, now)
	if err != nil {
		internalError(w, "failed to insert session", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("user logged in", "user_id", user.ID, "remember", req.Remember)
	middleware.JSONResponse(w, http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		_, err := h.db.Exec("DELETE FROM session WHERE token_hash = $1",
			auth.HashSessionToken(token, h.cfg.SessionSecret))
		if err != nil {
			internalError(w, "failed to delete session", err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Logged out"})
}

func (h *AuthHandler) parsePhone(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.PhoneRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return "", false
	}
	phone := strings.TrimSpace(req.Phone)
	if !phonePattern.MatchString(phone) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid phone number")
		return "", false
	}
	return phone, true
}

// ForgotUsername handles POST /auth/forgot-username
func (h *AuthHandler) ForgotUsername(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.parsePhone(w, r)
	if !ok {
		return
	}

	rows, err := h.db.Query("SELECT username FROM users WHERE phone = $1 ORDER BY created_at", phone)
	if err != nil {
		internalError(w, "failed to query usernames", err)
		return
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			internalError(w, "failed to scan username", err)
			return
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		internalError(w, "failed to read usernames", err)
		return
	}

	if len(names) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "No account is registered with this phone number")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.UsernamesResponse{Usernames: names})
}

// ForgotPassword handles POST /auth/forgot-password. A phone number shared
// by several accounts cannot be used to reset a password.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.parsePhone(w, r)
	if !ok {
		return
	}

	rows, err := h.db.Query("SELECT id, username FROM users WHERE phone = $1 LIMIT 2", phone)
	if err != nil {
		internalError(w, "failed to query users", err)
		return
	}
	var ids, names []string
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			internalError(w, "failed to scan user", err)
			return
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	rows.Close()

	switch len(ids) {
	case 0:
		middleware.ErrorResponse(w, http.StatusNotFound, "No account is registered with this phone number")
		return
	case 1:
	default:
		middleware.ErrorResponse(w, http.StatusConflict, "Several accounts use this phone number; contact an administrator")
		return
	}

	ticket, err := auth.GenerateSessionToken()
	if err != nil {
		slog.Error("failed to generate reset ticket", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start password reset")
		return
	}
	h.tickets.Set(ticket, ids[0], verify.ResetTicketTTL)

	middleware.JSONResponse(w, http.StatusOK, models.ForgotPasswordResponse{
		Username:    names[0],
		ResetTicket: ticket,
	})
}

// SendResetCode handles POST /auth/forgot-password/send-code.
// The code goes to the address on file for the ticket's account.
func (h *AuthHandler) SendResetCode(w http.ResponseWriter, r *http.Request) {
	var req models.ResetTicketRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	userID, ok := h.tickets.Peek(req.ResetTicket)
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Reset ticket is invalid or expired")
		return
	}

	user, err := db.GetUser(h.db, userID)
	if err == sql.ErrNoRows {
		h.tickets.Delete(req.ResetTicket)
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load user", err)
		return
	}

	if err := h.sendCode(r.Context(), resetCodeKey(user.ID), user.Email); err != nil {
		slog.Error("failed to send reset code", "user_id", user.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to send verification email")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: "Verification code sent to " + maskEmail(user.Email),
	})
}

// ResetPassword handles POST /auth/forgot-password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	userID, ok := h.tickets.Peek(req.ResetTicket)
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Reset ticket is invalid or expired")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Passwords do not match")
		return
	}
	if !h.codes.Verify(resetCodeKey(userID), strings.TrimSpace(req.EmailCode)) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := setPassword(h.db, userID, hash); err != nil {
		internalError(w, "failed to reset password", err)
		return
	}
	h.tickets.Delete(req.ResetTicket)

	slog.Info("password reset", "user_id", userID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Password has been reset"})
}

// setPassword stores a new hash and ends every session of the user
func setPassword(conn *sql.DB, userID, hash string) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE users SET password_hash = $1 WHERE id = $2", hash, userID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM session WHERE user_id = $1", userID); err != nil {
		return err
	}
	return tx.Commit()
}
