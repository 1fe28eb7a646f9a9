// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/testutil"
)

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	handler := NewProfileHandler(env.db, env.ai)
	user := testutil.CreateTestUser(t, env.db, "alice")
	testutil.CreateTestTask(t, env.db, user.ID, "Survey", models.SharingPrivate)

	_, err := env.db.Exec(`
		INSERT INTO certification_request (id, user_id, file_name, file_path, status, created_at)
		VALUES ('req1', $1, 'cert.pdf', 'cert.pdf', 0, $2)
	`, user.ID, db.Now())
	if err != nil {
		t.Fatalf("Failed to insert certification request: %v", err)
	}

	req := asUser(t, env.db, httptest.NewRequest("GET", "/me", nil), user.ID)
	w := httptest.NewRecorder()
	handler.Me(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.MeResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.TaskCount != 1 {
		t.Errorf("Expected task_count 1, got %d", resp.TaskCount)
	}
	if resp.PendingRequest == nil || resp.PendingRequest.ID != "req1" {
		t.Errorf("Expected pending request req1, got %+v", resp.PendingRequest)
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	handler := NewProfileHandler(env.db, env.ai)
	user := testutil.CreateTestUser(t, env.db, "alice")
	other := testutil.CreateTestUser(t, env.db, "bob")
	testutil.SetPhone(t, env.db, other.ID, "13800138000")

	tests := []struct {
		name           string
		request        models.UpdateProfileRequest
		expectedStatus int
		check          func(t *testing.T, u models.User)
	}{
		{
			name:           "blank fields keep current values",
			request:        models.UpdateProfileRequest{School: "East High"},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, u models.User) {
				if u.Username != "alice" || u.Email != "alice@example.com" || u.School != "East High" {
					t.Errorf("Unexpected profile: %+v", u)
				}
			},
		},
		{
			name:           "shared phone is allowed",
			request:        models.UpdateProfileRequest{Phone: "13800138000"},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, u models.User) {
				if u.Phone != "13800138000" {
					t.Errorf("Expected phone to be saved, got %q", u.Phone)
				}
			},
		},
		{
			name:           "username of someone else",
			request:        models.UpdateProfileRequest{Username: "bob"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "email of someone else",
			request:        models.UpdateProfileRequest{Email: "bob@example.com"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid email",
			request:        models.UpdateProfileRequest{Email: "not-an-email"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid phone",
			request:        models.UpdateProfileRequest{Phone: "999"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(t, env.db, testutil.MakeRequest("PUT", "/me/profile", tt.request, nil), user.ID)
			w := httptest.NewRecorder()
			handler.UpdateProfile(w, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.check != nil && w.Code == http.StatusOK {
				var u models.User
				testutil.AssertJSON(t, w, &u)
				tt.check(t, u)
			}
		})
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	handler := NewProfileHandler(env.db, env.ai)
	user := testutil.CreateTestUser(t, env.db, "alice")

	tests := []struct {
		name           string
		request        models.ChangePasswordRequest
		expectedStatus int
	}{
		{
			name:           "wrong current password",
			request:        models.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "newpass1", ConfirmPassword: "newpass1"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "too short",
			request:        models.ChangePasswordRequest{CurrentPassword: testutil.TestPassword, NewPassword: "abc", ConfirmPassword: "abc"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "mismatch",
			request:        models.ChangePasswordRequest{CurrentPassword: testutil.TestPassword, NewPassword: "newpass1", ConfirmPassword: "newpass2"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "valid change",
			request:        models.ChangePasswordRequest{CurrentPassword: testutil.TestPassword, NewPassword: "newpass1", ConfirmPassword: "newpass1"},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(t, env.db, testutil.MakeRequest("PUT", "/me/password", tt.request, nil), user.ID)
			w := httptest.NewRecorder()
			handler.ChangePassword(w, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	stored, _ := db.GetUser(env.db, user.ID)
	if auth.CheckPassword(stored.PasswordHash, "newpass1") != nil {
		t.Error("Expected the new password to be stored")
	}
}

func TestAIConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	handler := NewProfileHandler(env.db, env.ai)
	user := testutil.CreateTestUser(t, env.db, "alice")

	// Accounts without a config row get one on first read
	if _, err := env.db.Exec("DELETE FROM ai_config WHERE user_id = $1", user.ID); err != nil {
		t.Fatalf("Failed to delete ai config: %v", err)
	}
	w := httptest.NewRecorder()
	handler.GetAIConfig(w, asUser(t, env.db, httptest.NewRequest("GET", "/me/ai-config", nil), user.ID))
	testutil.AssertStatus(t, w, http.StatusOK)

	update := models.AIConfig{SelectedModel: models.ProviderDeepSeek, DeepSeekAPIKey: "  sk-test  "}
	w = httptest.NewRecorder()
	handler.UpdateAIConfig(w, asUser(t, env.db, testutil.MakeRequest("PUT", "/me/ai-config", update, nil), user.ID))
	testutil.AssertStatus(t, w, http.StatusOK)

	var cfg models.AIConfig
	testutil.AssertJSON(t, w, &cfg)
	if cfg.SelectedModel != models.ProviderDeepSeek || cfg.DeepSeekAPIKey != "sk-test" {
		t.Errorf("Unexpected config after update: %+v", cfg)
	}

	w = httptest.NewRecorder()
	bad := models.AIConfig{SelectedModel: "gpt-unknown"}
	handler.UpdateAIConfig(w, asUser(t, env.db, testutil.MakeRequest("PUT", "/me/ai-config", bad, nil), user.ID))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestTestAIConfig(t *testing.T) {
	env := newTestEnv(t)
	user := testutil.CreateTestUser(t, env.db, "alice")

	tests := []struct {
		name           string
		client         *stubAI
		expectedStatus int
		check          func(t *testing.T, resp models.TestAIResponse)
	}{
		{
			name:           "not configured",
			client:         &stubAI{checkErr: errNoKey},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "provider error",
			client:         &stubAI{err: errors.New("401 unauthorized")},
			expectedStatus: http.StatusBadGateway,
			check: func(t *testing.T, resp models.TestAIResponse) {
				if resp.Success || !strings.Contains(resp.Message, "401") {
					t.Errorf("Expected a failure message, got %+v", resp)
				}
			},
		},
		{
			name:           "long reply is previewed",
			client:         &stubAI{reply: strings.Repeat("好", 300)},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.TestAIResponse) {
				if !resp.Success || len([]rune(resp.ResponsePreview)) != aiPreviewLength {
					t.Errorf("Expected a %d rune preview, got %d", aiPreviewLength, len([]rune(resp.ResponsePreview)))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewProfileHandler(env.db, tt.client)
			req := asUser(t, env.db, httptest.NewRequest("POST", "/me/ai-config/test", nil), user.ID)
			w := httptest.NewRecorder()
			handler.TestAIConfig(w, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.check != nil {
				var resp models.TestAIResponse
				testutil.AssertJSON(t, w, &resp)
				tt.check(t, resp)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if s, cut := truncate("hello", 10); s != "hello" || cut {
		t.Errorf("truncate short = %q, %v", s, cut)
	}
	if s, cut := truncate("héllo wörld", 5); s != "héllo" || !cut {
		t.Errorf("truncate long = %q, %v", s, cut)
	}
}
