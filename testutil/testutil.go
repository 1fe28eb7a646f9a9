// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/models"
)

// TestPassword is the password of every fixture user
const TestPassword = "password123"

// SetupTestDB creates a fresh SQLite database with the full schema.
// The database lives in the test's temp dir and is closed on cleanup.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig(t *testing.T) cliparse.Config {
	t.Helper()
	return cliparse.Config{
		Port:             3318,
		DatabaseType:     cliparse.DatabaseSQLite,
		SessionSecret:    "test-session-secret",
		IPHashSalt:       "test-ip-salt",
		UploadDir:        t.TempDir(),
		MaxUploadBytes:   1 << 20,
		PublicBaseURL:    "https://forms.example.com",
		ChatServerURL:    "https://ai.example.com/v1",
		DefaultTaskLimit: 5,
	}
}

// CreateTestUser inserts a regular user with TestPassword and an ai_config row
func CreateTestUser(t *testing.T, conn *sql.DB, username string) models.User {
	t.Helper()
	return createUser(t, conn, username, models.RoleUser, 5, false)
}

// CreateTestAdmin inserts an admin with unlimited tasks
func CreateTestAdmin(t *testing.T, conn *sql.DB, username string) models.User {
	t.Helper()
	return createUser(t, conn, username, models.RoleAdmin, models.UnlimitedTasks, true)
}

// CreateCertifiedUser inserts a certified user with unlimited tasks
func CreateCertifiedUser(t *testing.T, conn *sql.DB, username string) models.User {
	t.Helper()
	return createUser(t, conn, username, models.RoleUser, models.UnlimitedTasks, true)
}

func createUser(t *testing.T, conn *sql.DB, username, role string, limit int, certified bool) models.User {
	t.Helper()

	// MinCost keeps the suite fast; CheckPassword accepts any cost
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := models.User{
		Username:    username,
		Email:       username + "@example.com",
		Phone:       "",
		School:      "Test School",
		Role:        role,
		TaskLimit:   limit,
		IsCertified: certified,
		CreatedAt:   db.Now(),
	}
	user.ID, _ = auth.GenerateID(16)

	_, err = conn.Exec(`
		INSERT INTO users (id, username, email, phone, password_hash, school, role, task_limit, is_certified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Username, user.Email, user.Phone, string(hash), user.School, user.Role, user.TaskLimit,
		boolInt(certified), user.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	if err := db.CreateAIConfig(conn, user.ID); err != nil {
		t.Fatalf("Failed to create test ai config: %v", err)
	}

	return user
}

// SetPhone sets a user's phone number
func SetPhone(t *testing.T, conn *sql.DB, userID, phone string) {
	t.Helper()
	if _, err := conn.Exec("UPDATE users SET phone = $1 WHERE id = $2", phone, userID); err != nil {
		t.Fatalf("Failed to set phone: %v", err)
	}
}

// CreateTestSession stores a login session and returns the raw token
func CreateTestSession(t *testing.T, conn *sql.DB, cfg cliparse.Config, userID string) string {
	t.Helper()

	token, err := auth.GenerateSessionToken()
	if err != nil {
		t.Fatalf("Failed to generate session token: %v", err)
	}
	_, err = conn.Exec(`
		INSERT INTO session (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, auth.HashSessionToken(token, cfg.SessionSecret), userID, db.Now().Add(time.Hour), db.Now())
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}
	return token
}

// CreateTestTask inserts a task with the given sharing type and returns its ID
func CreateTestTask(t *testing.T, conn *sql.DB, userID, title, sharing string) string {
	t.Helper()

	taskID, _ := auth.GenerateID(16)
	_, err := conn.Exec(`
		INSERT INTO task (id, user_id, title, description, sharing_type, html_approved, created_at)
		VALUES ($1, $2, $3, 'A test task', $4, $5, $6)
	`, taskID, userID, title, sharing, models.ReviewApproved, db.Now())
	if err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}
	return taskID
}

// AttachTestHTML links a stored page to a task with the given review state
func AttachTestHTML(t *testing.T, conn *sql.DB, taskID, savedName string, approved int) {
	t.Helper()

	files, _ := json.Marshal([]models.HTMLFile{{OriginalName: "form.html", SavedName: savedName}})
	_, err := conn.Exec(`
		UPDATE task SET file_name = 'form.html', file_path = $1, html_files = $2, html_approved = $3
		WHERE id = $4
	`, savedName, string(files), approved, taskID)
	if err != nil {
		t.Fatalf("Failed to attach test html: %v", err)
	}
}

// AddTestSubmission stores a raw submission payload
func AddTestSubmission(t *testing.T, conn *sql.DB, taskID, data string, at time.Time) string {
	t.Helper()

	id, _ := auth.GenerateID(16)
	_, err := conn.Exec(`
		INSERT INTO submission (id, task_id, data, submitted_at)
		VALUES ($1, $2, $3, $4)
	`, id, taskID, data, at.UTC().Truncate(time.Second))
	if err != nil {
		t.Fatalf("Failed to create test submission: %v", err)
	}
	return id
}

// CreateTestOrg creates an organization whose creator is an admin member
func CreateTestOrg(t *testing.T, conn *sql.DB, creatorID, name string) (orgID, code string) {
	t.Helper()

	orgID, _ = auth.GenerateID(16)
	code, _ = auth.GenerateOrgCode()
	_, err := conn.Exec(`
		INSERT INTO organization (id, name, org_code, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orgID, name, code, creatorID, db.Now())
	if err != nil {
		t.Fatalf("Failed to create test org: %v", err)
	}
	AddTestMember(t, conn, orgID, creatorID, models.MemberAdmin)
	return orgID, code
}

// AddTestMember adds a user to an organization and returns the membership ID
func AddTestMember(t *testing.T, conn *sql.DB, orgID, userID, role string) string {
	t.Helper()

	id, _ := auth.GenerateID(16)
	_, err := conn.Exec(`
		INSERT INTO organization_member (id, organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, orgID, userID, role, db.Now())
	if err != nil {
		t.Fatalf("Failed to add test member: %v", err)
	}
	return id
}

// ShareTestTask shares a task with a user and returns the share ID
func ShareTestTask(t *testing.T, conn *sql.DB, taskID, userID string) string {
	t.Helper()

	id, _ := auth.GenerateID(16)
	_, err := conn.Exec(`
		INSERT INTO task_share (id, task_id, user_id, can_edit, created_at)
		VALUES ($1, $2, $3, 1, $4)
	`, id, taskID, userID, db.Now())
	if err != nil {
		t.Fatalf("Failed to share test task: %v", err)
	}
	if _, err := conn.Exec("UPDATE task SET sharing_type = $1 WHERE id = $2 AND sharing_type = $3",
		models.SharingShared, taskID, models.SharingPrivate); err != nil {
		t.Fatalf("Failed to update sharing type: %v", err)
	}
	return id
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// Bearer builds the Authorization header map for a session token
func Bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
