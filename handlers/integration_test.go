// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/danielhkuo/quickform/mailer"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/ratelimit"
	"github.com/danielhkuo/quickform/testutil"
	"github.com/danielhkuo/quickform/verify"
)

// TestFullFormWorkflow tests the complete end-to-end workflow:
// 1. Request an email code
// 2. Register
// 3. Log in
// 4. Create a task with a form page
// 5. Collect public submissions
// 6. Read the task with its submissions
// 7. Export to Excel
// 8. Run an analysis
// 9. Log out
func TestFullFormWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.ai.reply = "# Findings\nTwo out of three prefer noodles."

	mail := &mailer.LogSender{}
	codes := verify.NewStore()
	authn := middleware.NewAuthenticator(env.db, env.cfg.SessionSecret)
	authHandler := NewAuthHandler(env.db, env.cfg, mail, codes, verify.NewStore(), ratelimit.NewFailureCounter())
	taskHandler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	submissionHandler := newSubmissionHandler(env)
	analysisHandler := NewAnalysisHandler(env.db, env.ai, env.store, env.reports)

	call := func(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h(w, req)
		return w
	}

	// Step 1: Request an email code
	w := call(authHandler.SendEmailCode, testutil.MakeRequest("POST", "/auth/email-code",
		models.SendEmailCodeRequest{Email: "lecturer@example.com"}, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Step 1 - Send code failed: %d - %s", w.Code, w.Body.String())
	}
	code, ok := codes.Peek(registerCodeKey("lecturer@example.com"))
	if !ok {
		t.Fatal("Step 1 - No code stored")
	}
	if msg, ok := mail.Last("lecturer@example.com"); !ok || !strings.Contains(msg.Body, code) {
		t.Fatal("Step 1 - Code was not mailed")
	}
	t.Logf("Step 1 - Mailed code %s", code)

	// Step 2: Register
	w = call(authHandler.Register, testutil.MakeRequest("POST", "/auth/register", models.RegisterRequest{
		Username:  "lecturer",
		Email:     "lecturer@example.com",
		Password:  "secret99",
		School:    "North School",
		EmailCode: code,
	}, nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("Step 2 - Register failed: %d - %s", w.Code, w.Body.String())
	}
	t.Log("Step 2 - Registered lecturer")

	// Step 3: Log in
	w = call(authHandler.Login, testutil.MakeRequest("POST", "/auth/login",
		models.LoginRequest{Username: "lecturer@example.com", Password: "secret99"}, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Step 3 - Login failed: %d - %s", w.Code, w.Body.String())
	}
	var login models.LoginResponse
	json.NewDecoder(w.Body).Decode(&login)
	if login.Token == "" {
		t.Fatal("Step 3 - Missing session token")
	}
	bearer := testutil.Bearer(login.Token)
	t.Logf("Step 3 - Logged in as %s", login.User.Username)

	// Step 4: Create a task with a form page
	w = call(authn.RequireUser(taskHandler.CreateTask), testutil.MakeRequest("POST", "/tasks", models.CreateTaskRequest{
		Title: "Lunch survey",
		File:  upload("lunch.html", testPage),
	}, bearer))
	if w.Code != http.StatusCreated {
		t.Fatalf("Step 4 - Create task failed: %d - %s", w.Code, w.Body.String())
	}
	var created models.CreateTaskResponse
	json.NewDecoder(w.Body).Decode(&created)
	taskID := created.Task.ID
	if taskID == "" || len(created.Task.HTMLFiles) != 1 {
		t.Fatalf("Step 4 - Unexpected task: %+v", created.Task)
	}
	t.Logf("Step 4 - Created task %s", taskID)

	// Step 5: Collect public submissions
	meals := []string{"noodles", "rice", "noodles"}
	for i, meal := range meals {
		req := submitRequest(taskID, "application/json", fmt.Sprintf(`{"meal":%q}`, meal), fmt.Sprintf("192.0.2.%d", i+1))
		if w := call(submissionHandler.Submit, req); w.Code != http.StatusOK {
			t.Fatalf("Step 5 - Submission %d failed: %d - %s", i, w.Code, w.Body.String())
		}
	}
	t.Logf("Step 5 - Stored %d submissions", len(meals))

	// Step 6: Read the task with its submissions
	req := testutil.MakeRequest("GET", "/tasks/"+taskID, nil, bearer)
	req.SetPathValue("id", taskID)
	w = call(authn.RequireUser(taskHandler.GetTask), req)
	if w.Code != http.StatusOK {
		t.Fatalf("Step 6 - Get task failed: %d - %s", w.Code, w.Body.String())
	}
	var detail models.TaskDetailResponse
	json.NewDecoder(w.Body).Decode(&detail)
	if detail.Pagination.Total != len(meals) || !detail.CanAnalyzeExport {
		t.Fatalf("Step 6 - Expected %d submissions and export rights, got %+v", len(meals), detail.Pagination)
	}
	t.Log("Step 6 - Task lists all submissions")

	// Step 7: Export to Excel
	req = testutil.MakeRequest("GET", "/tasks/"+taskID+"/export", nil, bearer)
	req.SetPathValue("id", taskID)
	w = call(authn.RequireUser(submissionHandler.Export), req)
	if w.Code != http.StatusOK {
		t.Fatalf("Step 7 - Export failed: %d - %s", w.Code, w.Body.String())
	}
	book, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Step 7 - Unreadable workbook: %v", err)
	}
	rows, _ := book.GetRows("Submissions")
	book.Close()
	if len(rows) != len(meals)+1 {
		t.Fatalf("Step 7 - Expected %d rows, got %d", len(meals)+1, len(rows))
	}
	t.Logf("Step 7 - Exported %d rows", len(rows)-1)

	// Step 8: Run an analysis
	req = testutil.MakeRequest("POST", "/tasks/"+taskID+"/analysis", nil, bearer)
	req.SetPathValue("id", taskID)
	w = call(authn.RequireUser(analysisHandler.StartAnalysis), req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Step 8 - Start analysis failed: %d - %s", w.Code, w.Body.String())
	}
	env.reports.Wait()

	req = testutil.MakeRequest("GET", "/tasks/"+taskID+"/analysis/status", nil, bearer)
	req.SetPathValue("id", taskID)
	w = call(authn.RequireUser(analysisHandler.AnalysisStatus), req)
	var status models.ReportStatusResponse
	json.NewDecoder(w.Body).Decode(&status)
	if status.Status != models.ReportCompleted || status.Report != env.ai.reply {
		t.Fatalf("Step 8 - Expected a completed report, got %+v", status)
	}
	// The page review started by CreateTask also reaches the AI
	var analysisPrompts []string
	for _, p := range env.ai.Prompts() {
		if strings.Contains(p, "Total submissions:") {
			analysisPrompts = append(analysisPrompts, p)
		}
	}
	if len(analysisPrompts) != 1 || !strings.Contains(analysisPrompts[0], "Total submissions: 3") {
		t.Fatalf("Step 8 - Unexpected analysis prompts %q", analysisPrompts)
	}
	t.Log("Step 8 - Analysis completed")

	// Step 9: Log out
	w = call(authHandler.Logout, testutil.MakeRequest("POST", "/auth/logout", nil, bearer))
	if w.Code != http.StatusOK {
		t.Fatalf("Step 9 - Logout failed: %d - %s", w.Code, w.Body.String())
	}
	req = testutil.MakeRequest("GET", "/tasks/"+taskID, nil, bearer)
	req.SetPathValue("id", taskID)
	if w := call(authn.RequireUser(taskHandler.GetTask), req); w.Code != http.StatusUnauthorized {
		t.Fatalf("Step 9 - Expected the token to be revoked, got %d", w.Code)
	}
	t.Log("Step 9 - Logged out")
}
