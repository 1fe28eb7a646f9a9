// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/ai"
	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/report"
)

const (
	aiTestTimeout    = 60 * time.Second
	aiTestPrompt     = "Reply with one short sentence confirming you can read this message."
	aiPreviewLength  = 200
	certColumnsQuery = "SELECT id, user_id, file_name, file_path, status, review_note, reviewed_by, reviewed_at, created_at FROM certification_request"
)

// ProfileHandler serves the logged-in user's own account
type ProfileHandler struct {
	db *sql.DB
	ai AIClient
}

func NewProfileHandler(db *sql.DB, client AIClient) *ProfileHandler {
	return &ProfileHandler{db: db, ai: client}
}

func scanCertRequest(row db.Scanner) (models.CertificationRequest, error) {
	var c models.CertificationRequest
	err := row.Scan(&c.ID, &c.UserID, &c.FileName, &c.FilePath, &c.Status, &c.ReviewNote,
		&c.ReviewedBy, &c.ReviewedAt, &c.CreatedAt)
	return c, err
}

// latestCertRequest returns the user's newest request, optionally only pending ones
func latestCertRequest(q db.Querier, userID string, pendingOnly bool) (*models.CertificationRequest, error) {
	query := certColumnsQuery + " WHERE user_id = $1"
	if pendingOnly {
		query += " AND status = 0"
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	c, err := scanCertRequest(q.QueryRow(query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Me handles GET /me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	resp := models.MeResponse{User: *user}
	if err := h.db.QueryRow("SELECT COUNT(*) FROM task WHERE user_id = $1", user.ID).Scan(&resp.TaskCount); err != nil {
		internalError(w, "failed to count tasks", err)
		return
	}

	var err error
	if resp.PendingRequest, err = latestCertRequest(h.db, user.ID, true); err != nil {
		internalError(w, "failed to load certification request", err)
		return
	}
	if resp.LastCertRequest, err = latestCertRequest(h.db, user.ID, false); err != nil {
		internalError(w, "failed to load certification request", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// UpdateProfile handles PUT /me/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.UpdateProfileRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
	if username == "" {
		username = user.Username
	}
	if email == "" {
		email = user.Email
	}

	if !emailPattern.MatchString(email) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if phone != "" && !phonePattern.MatchString(phone) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid phone number")
		return
	}

	// Phone numbers may be shared between accounts; only names and emails are unique
	conflict, err := conflictField(h.db, user.ID, username, email, "")
	if err != nil {
		internalError(w, "failed to check user uniqueness", err)
		return
	}
	if conflict != "" {
		middleware.ErrorResponse(w, http.StatusConflict, conflict)
		return
	}

	_, err = h.db.Exec(`
		UPDATE users SET username = $1, email = $2, phone = $3, school = $4 WHERE id = $5
	`, username, email, phone, strings.TrimSpace(req.School), user.ID)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Username or email already registered")
		return
	}
	if err != nil {
		internalError(w, "failed to update profile", err)
		return
	}

	updated, err := db.GetUser(h.db, user.ID)
	if err != nil {
		internalError(w, "failed to reload user", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, updated)
}

// ChangePassword handles PUT /me/password
func (h *ProfileHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.ChangePasswordRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if auth.CheckPassword(user.PasswordHash, req.CurrentPassword) != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Current password is incorrect")
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

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.db.Exec("UPDATE users SET password_hash = $1 WHERE id = $2", hash, user.ID); err != nil {
		internalError(w, "failed to update password", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Password updated"})
}

func (h *ProfileHandler) loadConfig(w http.ResponseWriter, userID string) (models.AIConfig, bool) {
	cfg, err := report.LoadAIConfig(h.db, userID)
	if err == sql.ErrNoRows {
		// Accounts created before ai_config existed get the default row lazily
		if err := db.CreateAIConfig(h.db, userID); err != nil {
			internalError(w, "failed to create ai config", err)
			return cfg, false
		}
		cfg, err = report.LoadAIConfig(h.db, userID)
	}
	if err != nil {
		internalError(w, "failed to load ai config", err)
		return cfg, false
	}
	return cfg, true
}

// GetAIConfig handles GET /me/ai-config
func (h *ProfileHandler) GetAIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadConfig(w, middleware.CurrentUser(r.Context()).ID)
	if !ok {
		return
	}
	middleware.JSONResponse(w, http.StatusOK, cfg)
}

// UpdateAIConfig handles PUT /me/ai-config
func (h *ProfileHandler) UpdateAIConfig(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	if _, ok := h.loadConfig(w, user.ID); !ok {
		return
	}

	var req models.AIConfig
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !ai.KnownProvider(req.SelectedModel) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown AI model: "+req.SelectedModel)
		return
	}

	_, err := h.db.Exec(`
		UPDATE ai_config
		SET selected_model = $1, deepseek_api_key = $2, doubao_api_key = $3, qwen_api_key = $4,
		    chat_server_api_url = $5, chat_server_api_token = $6, updated_at = $7
		WHERE user_id = $8
	`, req.SelectedModel, strings.TrimSpace(req.DeepSeekAPIKey), strings.TrimSpace(req.DoubaoAPIKey),
		strings.TrimSpace(req.QwenAPIKey), strings.TrimSpace(req.ChatServerAPIURL),
		strings.TrimSpace(req.ChatServerAPIToken), db.Now(), user.ID)
	if err != nil {
		internalError(w, "failed to update ai config", err)
		return
	}

	cfg, ok := h.loadConfig(w, user.ID)
	if !ok {
		return
	}
	slog.Info("ai config updated", "user_id", user.ID, "model", cfg.SelectedModel)
	middleware.JSONResponse(w, http.StatusOK, cfg)
}

// TestAIConfig handles POST /me/ai-config/test
func (h *ProfileHandler) TestAIConfig(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.TestAIRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	cfg, ok := h.loadConfig(w, user.ID)
	if !ok {
		return
	}
	if err := h.ai.Check(cfg); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "AI model is not configured: "+err.Error())
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = aiTestPrompt
	}

	ctx, cancel := context.WithTimeout(r.Context(), aiTestTimeout)
	defer cancel()

	reply, err := h.ai.Complete(ctx, cfg, prompt)
	resp := models.TestAIResponse{
		Model:      cfg.SelectedModel,
		ModelLabel: ai.ModelLabel(cfg.SelectedModel),
	}
	if err != nil {
		slog.Warn("ai config test failed", "user_id", user.ID, "model", cfg.SelectedModel, "error", err)
		resp.Message = "Connection failed: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			resp.Message = "Connection failed: the model did not answer in time"
		}
		middleware.JSONResponse(w, http.StatusBadGateway, resp)
		return
	}

	preview, _ := truncate(reply, aiPreviewLength)
	resp.Success = true
	resp.Message = "Connection succeeded"
	resp.ResponsePreview = preview
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// truncate cuts s to max runes and reports whether anything was dropped
func truncate(s string, max int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return string(runes[:max]), true
}
