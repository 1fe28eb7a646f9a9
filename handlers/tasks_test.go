// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/testutil"
)

const testPage = "<html><body><form><input name=\"q\"></form></body></html>"

func upload(name, content string) *models.UploadedFile {
	return &models.UploadedFile{Name: name, Content: base64.StdEncoding.EncodeToString([]byte(content))}
}

func strPtr(s string) *string { return &s }

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	user := testutil.CreateTestUser(t, env.db, "alice")
	certified := testutil.CreateCertifiedUser(t, env.db, "carol")
	outsider := testutil.CreateTestUser(t, env.db, "eve")
	orgID, _ := testutil.CreateTestOrg(t, env.db, user.ID, "Math Club")

	tests := []struct {
		name           string
		userID         string
		request        models.CreateTaskRequest
		expectedStatus int
		check          func(t *testing.T, resp models.CreateTaskResponse)
	}{
		{
			name:           "private task without file",
			userID:         user.ID,
			request:        models.CreateTaskRequest{Title: "  Lunch survey  ", Description: "Pick a meal"},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, resp models.CreateTaskResponse) {
				if resp.Task.Title != "Lunch survey" || resp.Task.SharingType != models.SharingPrivate {
					t.Errorf("Unexpected task: %+v", resp.Task)
				}
			},
		},
		{
			name:   "uncertified public request is downgraded",
			userID: user.ID,
			request: models.CreateTaskRequest{
				Title:      "Public survey",
				ShareScope: models.SharingPublic,
				File:       upload("form.html", testPage),
			},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, resp models.CreateTaskResponse) {
				if resp.Task.SharingType != models.SharingPrivate || len(resp.Warnings) != 1 {
					t.Errorf("Expected private with a warning, got %s %v", resp.Task.SharingType, resp.Warnings)
				}
				if resp.Task.HTMLApproved != models.ReviewPending {
					t.Errorf("Expected pending review, got %d", resp.Task.HTMLApproved)
				}
				if len(resp.Task.HTMLFiles) != 1 || resp.Task.FileName == nil || *resp.Task.FileName != "form.html" {
					t.Errorf("Expected one stored page, got %+v", resp.Task.HTMLFiles)
				}
			},
		},
		{
			name:   "certified public task is approved",
			userID: certified.ID,
			request: models.CreateTaskRequest{
				Title:      "Open poll",
				ShareScope: models.SharingPublic,
				File:       upload("poll.html", testPage),
			},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, resp models.CreateTaskResponse) {
				if resp.Task.SharingType != models.SharingPublic || resp.Task.HTMLApproved != models.ReviewApproved {
					t.Errorf("Expected approved public task, got %s/%d", resp.Task.SharingType, resp.Task.HTMLApproved)
				}
			},
		},
		{
			name:           "organization task by member",
			userID:         user.ID,
			request:        models.CreateTaskRequest{Title: "Club survey", ShareScope: models.SharingOrganization, OrganizationID: orgID},
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, resp models.CreateTaskResponse) {
				if resp.Task.OrganizationID == nil || *resp.Task.OrganizationID != orgID {
					t.Errorf("Expected organization %s, got %v", orgID, resp.Task.OrganizationID)
				}
			},
		},
		{
			name:           "organization task by outsider",
			userID:         outsider.ID,
			request:        models.CreateTaskRequest{Title: "Club survey", ShareScope: models.SharingOrganization, OrganizationID: orgID},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "missing title",
			userID:         user.ID,
			request:        models.CreateTaskRequest{Description: "no title"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "non-html file",
			userID:         user.ID,
			request:        models.CreateTaskRequest{Title: "Bad file", File: upload("script.js", "alert(1)")},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown scope",
			userID:         user.ID,
			request:        models.CreateTaskRequest{Title: "Odd", ShareScope: "everyone"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(t, env.db, testutil.MakeRequest("POST", "/tasks", tt.request, nil), tt.userID)
			w := httptest.NewRecorder()
			handler.CreateTask(w, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.check != nil && w.Code == http.StatusCreated {
				var resp models.CreateTaskResponse
				testutil.AssertJSON(t, w, &resp)
				tt.check(t, resp)
			}
		})
	}
}

func TestCreateTaskLimit(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	user := testutil.CreateTestUser(t, env.db, "alice")
	admin := testutil.CreateTestAdmin(t, env.db, "root")

	for i := 0; i < 5; i++ {
		testutil.CreateTestTask(t, env.db, user.ID, "Task", models.SharingPrivate)
		testutil.CreateTestTask(t, env.db, admin.ID, "Task", models.SharingPrivate)
	}

	body := models.CreateTaskRequest{Title: "One too many"}
	w := httptest.NewRecorder()
	handler.CreateTask(w, asUser(t, env.db, testutil.MakeRequest("POST", "/tasks", body, nil), user.ID))
	testutil.AssertStatus(t, w, http.StatusForbidden)

	w = httptest.NewRecorder()
	handler.CreateTask(w, asUser(t, env.db, testutil.MakeRequest("POST", "/tasks", body, nil), admin.ID))
	testutil.AssertStatus(t, w, http.StatusCreated)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	alice := testutil.CreateTestUser(t, env.db, "alice")
	bob := testutil.CreateTestUser(t, env.db, "bob")
	carol := testutil.CreateTestUser(t, env.db, "carol")

	testutil.CreateTestTask(t, env.db, alice.ID, "Own", models.SharingPrivate)
	shared := testutil.CreateTestTask(t, env.db, bob.ID, "Shared with alice", models.SharingPrivate)
	testutil.ShareTestTask(t, env.db, shared, alice.ID)
	orgID, _ := testutil.CreateTestOrg(t, env.db, carol.ID, "Club")
	testutil.AddTestMember(t, env.db, orgID, alice.ID, models.MemberMember)
	orgTask := testutil.CreateTestTask(t, env.db, carol.ID, "Club task", models.SharingPrivate)
	if _, err := env.db.Exec("UPDATE task SET organization_id = $1, sharing_type = 'organization' WHERE id = $2", orgID, orgTask); err != nil {
		t.Fatalf("Failed to assign org: %v", err)
	}
	testutil.CreateTestTask(t, env.db, bob.ID, "Not visible", models.SharingPrivate)

	w := httptest.NewRecorder()
	handler.Dashboard(w, asUser(t, env.db, httptest.NewRequest("GET", "/tasks", nil), alice.ID))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.DashboardResponse
	testutil.AssertJSON(t, w, &resp)
	if len(resp.Tasks) != 3 {
		t.Errorf("Expected 3 visible tasks, got %d", len(resp.Tasks))
	}
	if resp.TaskCount != 1 || resp.TaskLimit != 5 {
		t.Errorf("Expected count 1 of 5, got %d of %d", resp.TaskCount, resp.TaskLimit)
	}
}

func TestGetTaskAccess(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	friend := testutil.CreateTestUser(t, env.db, "friend")
	stranger := testutil.CreateTestUser(t, env.db, "stranger")
	admin := testutil.CreateTestAdmin(t, env.db, "root")

	private := testutil.CreateTestTask(t, env.db, owner.ID, "Private", models.SharingPrivate)
	public := testutil.CreateTestTask(t, env.db, owner.ID, "Public", models.SharingPublic)
	shared := testutil.CreateTestTask(t, env.db, owner.ID, "Shared", models.SharingPrivate)
	testutil.ShareTestTask(t, env.db, shared, friend.ID)

	tests := []struct {
		name           string
		taskID         string
		userID         string
		expectedStatus int
		canAnalyze     bool
	}{
		{name: "owner private", taskID: private, userID: owner.ID, expectedStatus: http.StatusOK, canAnalyze: true},
		{name: "admin private", taskID: private, userID: admin.ID, expectedStatus: http.StatusOK, canAnalyze: true},
		{name: "stranger private", taskID: private, userID: stranger.ID, expectedStatus: http.StatusForbidden},
		{name: "anonymous private", taskID: private, expectedStatus: http.StatusUnauthorized},
		{name: "anonymous public", taskID: public, expectedStatus: http.StatusOK},
		{name: "stranger public", taskID: public, userID: stranger.ID, expectedStatus: http.StatusOK},
		{name: "share recipient", taskID: shared, userID: friend.ID, expectedStatus: http.StatusOK, canAnalyze: true},
		{name: "missing task", taskID: "nope", userID: owner.ID, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/tasks/"+tt.taskID, nil)
			req.SetPathValue("id", tt.taskID)
			if tt.userID != "" {
				req = asUser(t, env.db, req, tt.userID)
			}
			w := httptest.NewRecorder()
			handler.GetTask(w, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if w.Code == http.StatusOK {
				var resp models.TaskDetailResponse
				testutil.AssertJSON(t, w, &resp)
				if resp.CanAnalyzeExport != tt.canAnalyze {
					t.Errorf("Expected can_analyze_export %v, got %v", tt.canAnalyze, resp.CanAnalyzeExport)
				}
			}
		})
	}
}

func TestGetTaskPaginatesSubmissions(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	taskID := testutil.CreateTestTask(t, env.db, owner.ID, "Survey", models.SharingPrivate)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		testutil.AddTestSubmission(t, env.db, taskID, `{"n":"`+strings.Repeat("x", i)+`"}`, base.Add(time.Duration(i)*time.Second))
	}
	// Double-encoded payloads are shown as objects
	testutil.AddTestSubmission(t, env.db, taskID, `"{\"answer\":\"yes\"}"`, base.Add(time.Minute))

	req := httptest.NewRequest("GET", "/tasks/"+taskID+"?page=1&per_page=10", nil)
	req.SetPathValue("id", taskID)
	w := httptest.NewRecorder()
	handler.GetTask(w, asUser(t, env.db, req, owner.ID))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.TaskDetailResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Pagination.Total != 26 || resp.Pagination.Pages != 3 || len(resp.Submissions) != 10 {
		t.Errorf("Unexpected pagination %+v with %d rows", resp.Pagination, len(resp.Submissions))
	}
	if got := string(resp.Submissions[0].Data); got != `{"answer":"yes"}` {
		t.Errorf("Expected newest submission decoded to an object, got %s", got)
	}
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	editor := testutil.CreateTestUser(t, env.db, "editor")
	stranger := testutil.CreateTestUser(t, env.db, "stranger")
	taskID := testutil.CreateTestTask(t, env.db, owner.ID, "Survey", models.SharingPrivate)
	testutil.ShareTestTask(t, env.db, taskID, editor.ID)

	update := func(userID string, body models.UpdateTaskRequest) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("PUT", "/tasks/"+taskID, body, nil)
		req.SetPathValue("id", taskID)
		w := httptest.NewRecorder()
		handler.UpdateTask(w, asUser(t, env.db, req, userID))
		return w
	}

	t.Run("stranger cannot edit", func(t *testing.T) {
		testutil.AssertStatus(t, update(stranger.ID, models.UpdateTaskRequest{Title: strPtr("Hijacked")}), http.StatusForbidden)
	})

	t.Run("share recipient edits title", func(t *testing.T) {
		testutil.AssertStatus(t, update(editor.ID, models.UpdateTaskRequest{Title: strPtr("Renamed")}), http.StatusOK)
		if got := taskState(t, env.db, taskID).Title; got != "Renamed" {
			t.Errorf("Expected title Renamed, got %s", got)
		}
	})

	t.Run("uncertified cannot publish", func(t *testing.T) {
		testutil.AssertStatus(t, update(owner.ID, models.UpdateTaskRequest{Visibility: models.SharingPublic}), http.StatusForbidden)
	})

	t.Run("new pages reset approval", func(t *testing.T) {
		body := models.UpdateTaskRequest{HTMLFiles: []models.UploadedFile{*upload("a.html", testPage), *upload("b.html", testPage)}}
		testutil.AssertStatus(t, update(owner.ID, body), http.StatusOK)
		task := taskState(t, env.db, taskID)
		if len(task.HTMLFiles) != 2 || task.HTMLApproved != models.ReviewPending {
			t.Errorf("Expected 2 pending pages, got %d/%d", len(task.HTMLFiles), task.HTMLApproved)
		}
	})

	t.Run("removed pages are deleted from disk", func(t *testing.T) {
		before := taskState(t, env.db, taskID)
		gone := before.HTMLFiles[0].SavedName
		testutil.AssertStatus(t, update(owner.ID, models.UpdateTaskRequest{FilesToRemove: []string{gone}}), http.StatusOK)

		after := taskState(t, env.db, taskID)
		if len(after.HTMLFiles) != 1 || after.HTMLFiles[0].SavedName == gone {
			t.Errorf("Expected %s removed from the list, got %+v", gone, after.HTMLFiles)
		}
		if _, err := os.Stat(filepath.Join(env.store.Dir(), gone)); !os.IsNotExist(err) {
			t.Errorf("Expected %s removed from disk, stat err %v", gone, err)
		}
	})

	t.Run("file limit", func(t *testing.T) {
		var files []models.UploadedFile
		for i := 0; i < 10; i++ {
			files = append(files, *upload("p.html", testPage))
		}
		testutil.AssertStatus(t, update(owner.ID, models.UpdateTaskRequest{HTMLFiles: files}), http.StatusBadRequest)
	})

	t.Run("empty title", func(t *testing.T) {
		testutil.AssertStatus(t, update(owner.ID, models.UpdateTaskRequest{Title: strPtr("   ")}), http.StatusBadRequest)
	})
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	editor := testutil.CreateTestUser(t, env.db, "editor")

	saved, err := env.store.SaveHTML("form.html", []byte(testPage))
	if err != nil {
		t.Fatalf("SaveHTML failed: %v", err)
	}
	taskID := testutil.CreateTestTask(t, env.db, owner.ID, "Survey", models.SharingPrivate)
	testutil.AttachTestHTML(t, env.db, taskID, saved, models.ReviewApproved)
	testutil.ShareTestTask(t, env.db, taskID, editor.ID)
	testutil.AddTestSubmission(t, env.db, taskID, `{"a":1}`, time.Now())

	del := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("DELETE", "/tasks/"+taskID, nil)
		req.SetPathValue("id", taskID)
		w := httptest.NewRecorder()
		handler.DeleteTask(w, asUser(t, env.db, req, userID))
		return w
	}

	// Edit rights are not enough to delete
	testutil.AssertStatus(t, del(editor.ID), http.StatusForbidden)
	testutil.AssertStatus(t, del(owner.ID), http.StatusOK)

	if n := countRows(t, env.db, "SELECT COUNT(*) FROM submission WHERE task_id = $1", taskID); n != 0 {
		t.Errorf("Expected submissions to cascade, found %d", n)
	}
	if _, err := os.Stat(filepath.Join(env.store.Dir(), saved)); !os.IsNotExist(err) {
		t.Errorf("Expected page file removed, stat err %v", err)
	}
}

func TestShareTask(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	testutil.CreateTestUser(t, env.db, "friend")
	taskID := testutil.CreateTestTask(t, env.db, owner.ID, "Survey", models.SharingPrivate)

	share := func(username string) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/tasks/"+taskID+"/shares", models.ShareTaskRequest{Username: username}, nil)
		req.SetPathValue("id", taskID)
		w := httptest.NewRecorder()
		handler.ShareTask(w, asUser(t, env.db, req, owner.ID))
		return w
	}

	w := share("friend")
	testutil.AssertStatus(t, w, http.StatusCreated)
	var created models.TaskShare
	testutil.AssertJSON(t, w, &created)
	if created.Username != "friend" || !created.CanEdit {
		t.Errorf("Unexpected share: %+v", created)
	}
	if got := taskState(t, env.db, taskID).SharingType; got != models.SharingShared {
		t.Errorf("Expected sharing type shared, got %s", got)
	}

	testutil.AssertStatus(t, share("friend"), http.StatusConflict)
	testutil.AssertStatus(t, share("owner"), http.StatusBadRequest)
	testutil.AssertStatus(t, share("ghost"), http.StatusNotFound)

	// Removing the last share makes the task private again
	req := httptest.NewRequest("DELETE", "/shares/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	w = httptest.NewRecorder()
	handler.DeleteShare(w, asUser(t, env.db, req, owner.ID))
	testutil.AssertStatus(t, w, http.StatusOK)
	if got := taskState(t, env.db, taskID).SharingType; got != models.SharingPrivate {
		t.Errorf("Expected sharing type private, got %s", got)
	}
}

func TestOrganizationAssignment(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	other := testutil.CreateTestUser(t, env.db, "other")
	orgID, _ := testutil.CreateTestOrg(t, env.db, owner.ID, "Club")
	foreignOrg, _ := testutil.CreateTestOrg(t, env.db, other.ID, "Elsewhere")
	taskID := testutil.CreateTestTask(t, env.db, owner.ID, "Survey", models.SharingPrivate)

	assign := func(org string) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/tasks/"+taskID+"/assign-org", models.AssignOrgRequest{OrganizationID: org}, nil)
		req.SetPathValue("id", taskID)
		w := httptest.NewRecorder()
		handler.AssignOrganization(w, asUser(t, env.db, req, owner.ID))
		return w
	}

	testutil.AssertStatus(t, assign(foreignOrg), http.StatusForbidden)
	testutil.AssertStatus(t, assign(orgID), http.StatusOK)
	if task := taskState(t, env.db, taskID); task.SharingType != models.SharingOrganization {
		t.Errorf("Expected organization sharing, got %s", task.SharingType)
	}

	req := httptest.NewRequest("POST", "/tasks/"+taskID+"/remove-org", nil)
	req.SetPathValue("id", taskID)
	w := httptest.NewRecorder()
	handler.RemoveOrganization(w, asUser(t, env.db, req, owner.ID))
	testutil.AssertStatus(t, w, http.StatusOK)

	task := taskState(t, env.db, taskID)
	if task.OrganizationID != nil || task.SharingType != models.SharingPrivate {
		t.Errorf("Expected private task without organization, got %v/%s", task.OrganizationID, task.SharingType)
	}
}

func TestToggleLike(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTaskHandler(env.db, env.cfg, env.store, env.reports)
	owner := testutil.CreateTestUser(t, env.db, "owner")
	fan := testutil.CreateTestUser(t, env.db, "fan")
	public := testutil.CreateTestTask(t, env.db, owner.ID, "Public", models.SharingPublic)
	private := testutil.CreateTestTask(t, env.db, owner.ID, "Private", models.SharingPrivate)

	like := func(taskID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/tasks/"+taskID+"/like", nil)
		req.SetPathValue("id", taskID)
		w := httptest.NewRecorder()
		handler.ToggleLike(w, asUser(t, env.db, req, fan.ID))
		return w
	}

	steps := []struct {
		liked bool
		count int
	}{
		{liked: true, count: 1},
		{liked: false, count: 0},
		{liked: true, count: 1},
	}
	for i, step := range steps {
		w := like(public)
		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.LikeResponse
		testutil.AssertJSON(t, w, &resp)
		if resp.Liked != step.liked || resp.Count != step.count {
			t.Errorf("Toggle %d: expected liked=%v count=%d, got %+v", i+1, step.liked, step.count, resp)
		}
	}

	testutil.AssertStatus(t, like(private), http.StatusBadRequest)
}
