// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/report"
	"github.com/danielhkuo/quickform/storage"
)

const (
	submissionsPerPage    = 20
	maxSubmissionsPerPage = 200
)

type TaskHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	store   *storage.Store
	reports *report.Service
}

func NewTaskHandler(db *sql.DB, cfg cliparse.Config, store *storage.Store, reports *report.Service) *TaskHandler {
	return &TaskHandler{db: db, cfg: cfg, store: store, reports: reports}
}

// Dashboard handles GET /tasks: own, organization and shared tasks, newest first
func (h *TaskHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	tasks, err := queryTasks(h.db, `
		SELECT `+taskColumns+` FROM task
		WHERE user_id = $1
		   OR organization_id IN (SELECT organization_id FROM organization_member WHERE user_id = $2)
		   OR id IN (SELECT task_id FROM task_share WHERE user_id = $3)
		ORDER BY created_at DESC
	`, user.ID, user.ID, user.ID)
	if err != nil {
		internalError(w, "failed to query dashboard tasks", err)
		return
	}

	count := 0
	for _, t := range tasks {
		if t.UserID == user.ID {
			count++
		}
	}

	middleware.JSONResponse(w, http.StatusOK, models.DashboardResponse{
		Tasks:       tasks,
		TaskCount:   count,
		TaskLimit:   user.TaskLimit,
		IsCertified: user.IsCertified,
	})
}

// decodeUpload turns a base64 upload into bytes
func decodeUpload(f models.UploadedFile) ([]byte, error) {
	content := f.Content
	// Data URLs from FileReader.readAsDataURL carry a header
	if i := strings.Index(content, ";base64,"); i >= 0 {
		content = content[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(content))
}

// saveUpload decodes and stores one HTML page, writing the error response on failure
func (h *TaskHandler) saveUpload(w http.ResponseWriter, f models.UploadedFile) (models.HTMLFile, bool) {
	content, err := decodeUpload(f)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "File content must be base64 encoded")
		return models.HTMLFile{}, false
	}
	saved, err := h.store.SaveHTML(f.Name, content)
	if err != nil {
		uploadError(w, h.store, err)
		return models.HTMLFile{}, false
	}
	return models.HTMLFile{OriginalName: storage.SafeName(f.Name), SavedName: saved}, true
}

// initialReview is the approval state of pages uploaded by user
func initialReview(user *models.User) int {
	if user.CanPublish() {
		return models.ReviewApproved
	}
	return models.ReviewPending
}

// CreateTask handles POST /tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.CreateTaskRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	if !user.IsAdmin() && user.TaskLimit != models.UnlimitedTasks {
		var count int
		if err := h.db.QueryRow("SELECT COUNT(*) FROM task WHERE user_id = $1", user.ID).Scan(&count); err != nil {
			internalError(w, "failed to count tasks", err)
			return
		}
		if count >= user.TaskLimit {
			middleware.ErrorResponse(w, http.StatusForbidden, "Task limit reached; apply for certification to create more tasks")
			return
		}
	}

	var warnings []string
	var orgID any
	sharing := models.SharingPrivate
	switch req.ShareScope {
	case "", models.SharingPrivate:
	case models.SharingOrganization:
		if req.OrganizationID == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "organization_id is required for organization tasks")
			return
		}
		ok, err := isOrgMemberOrCreator(h.db, req.OrganizationID, user.ID)
		if err != nil {
			internalError(w, "failed to check membership", err)
			return
		}
		if !ok {
			middleware.ErrorResponse(w, http.StatusForbidden, "You are not a member of this organization")
			return
		}
		sharing, orgID = models.SharingOrganization, req.OrganizationID
	case models.SharingPublic:
		if user.CanPublish() {
			sharing = models.SharingPublic
		} else {
			warnings = append(warnings, "Only certified users can publish tasks; the task was created as private")
		}
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "share_scope must be private, organization or public")
		return
	}

	var fileName, filePath any
	files := []models.HTMLFile{}
	if req.File != nil {
		f, ok := h.saveUpload(w, *req.File)
		if !ok {
			return
		}
		fileName, filePath = f.OriginalName, f.SavedName
		files = append(files, f)
	}

	taskID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate task ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO task (id, user_id, title, description, file_name, file_path, html_files, html_approved,
		                  organization_id, sharing_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, taskID, user.ID, title, strings.TrimSpace(req.Description), fileName, filePath, encodeHTMLFiles(files),
		initialReview(user), orgID, sharing, db.Now())
	if err != nil {
		if len(files) > 0 {
			h.store.Remove(files[0].SavedName)
		}
		internalError(w, "failed to insert task", err)
		return
	}

	if len(files) > 0 {
		h.reports.AnalyzeHTML(taskID, user.ID, files[0].SavedName)
	}

	task, err := loadTask(h.db, taskID)
	if err != nil {
		internalError(w, "failed to load new task", err)
		return
	}

	slog.Info("task created", "task_id", taskID, "user_id", user.ID, "sharing", sharing)
	middleware.JSONResponse(w, http.StatusCreated, models.CreateTaskResponse{Task: task, Warnings: warnings})
}

// GetTask handles GET /tasks/{id}. Public tasks are readable without a login.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := taskFromPath(w, r, h.db)
	if !ok {
		return
	}

	user := middleware.CurrentUser(r.Context())
	access, err := canAccess(h.db, user, task)
	if err != nil {
		internalError(w, "failed to check task access", err)
		return
	}
	if task.SharingType != models.SharingPublic && !access {
		if user == nil {
			middleware.ErrorResponse(w, http.StatusUnauthorized, "Login required")
		} else {
			middleware.ErrorResponse(w, http.StatusForbidden, "You do not have access to this task")
		}
		return
	}

	var total int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM submission WHERE task_id = $1", task.ID).Scan(&total); err != nil {
		internalError(w, "failed to count submissions", err)
		return
	}
	page, perPage := pageParams(r, submissionsPerPage, maxSubmissionsPerPage)
	pagination, offset := paginate(total, page, perPage)

	subs, err := querySubmissions(h.db, `
		SELECT id, task_id, data, ip_hash, submitted_at FROM submission
		WHERE task_id = $1 ORDER BY submitted_at DESC, id LIMIT $2 OFFSET $3
	`, task.ID, perPage, offset)
	if err != nil {
		internalError(w, "failed to query submissions", err)
		return
	}

	views := make([]models.SubmissionView, 0, len(subs))
	for _, s := range subs {
		data, _ := json.Marshal(models.PayloadView(s.Data))
		views = append(views, models.SubmissionView{ID: s.ID, SubmittedAt: s.SubmittedAt, Data: data})
	}

	resp := models.TaskDetailResponse{
		Task:             task,
		Submissions:      views,
		Pagination:       pagination,
		HTMLFiles:        task.HTMLFiles,
		Shares:           []models.TaskShare{},
		CanAnalyzeExport: access,
	}

	if access {
		if resp.Shares, err = listShares(h.db, task.ID); err != nil {
			internalError(w, "failed to list shares", err)
			return
		}
	}
	if user != nil {
		var n int
		err := h.db.QueryRow("SELECT COUNT(*) FROM task_like WHERE task_id = $1 AND user_id = $2",
			task.ID, user.ID).Scan(&n)
		if err != nil {
			internalError(w, "failed to check like", err)
			return
		}
		resp.Liked = n > 0
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// UpdateTask handles PUT /tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskFromPath(w, r, h.db)
	if !ok {
		return
	}
	allowed, err := canEdit(h.db, user, task)
	if err != nil {
		internalError(w, "failed to check edit access", err)
		return
	}
	if !allowed {
		middleware.ErrorResponse(w, http.StatusForbidden, "You cannot edit this task")
		return
	}

	var req models.UpdateTaskRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		task.Title = title
	}
	if req.Description != nil {
		task.Description = strings.TrimSpace(*req.Description)
	}

	switch req.Visibility {
	case "":
	case models.SharingPublic:
		if !user.CanPublish() {
			middleware.ErrorResponse(w, http.StatusForbidden, "Only certified users can publish tasks")
			return
		}
		task.SharingType = models.SharingPublic
	case models.SharingPrivate:
		task.SharingType = models.SharingPrivate
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "visibility must be public or private")
		return
	}

	// Removals come first so that a full list can be swapped in one request
	var removed []string
	if len(req.FilesToRemove) > 0 {
		drop := make(map[string]bool, len(req.FilesToRemove))
		for _, name := range req.FilesToRemove {
			drop[name] = true
		}
		kept := task.HTMLFiles[:0]
		for _, f := range task.HTMLFiles {
			if drop[f.SavedName] {
				removed = append(removed, f.SavedName)
				continue
			}
			kept = append(kept, f)
		}
		task.HTMLFiles = kept
	}

	if len(task.HTMLFiles)+len(req.HTMLFiles) > storage.MaxHTMLFiles {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A task can hold at most 10 HTML files")
		return
	}

	var added []string
	cleanup := func() {
		for _, name := range added {
			h.store.Remove(name)
		}
	}

	newContent := false
	for _, upload := range req.HTMLFiles {
		f, ok := h.saveUpload(w, upload)
		if !ok {
			cleanup()
			return
		}
		added = append(added, f.SavedName)
		task.HTMLFiles = append(task.HTMLFiles, f)
		newContent = true
	}

	var analyze string
	switch {
	case req.ReplaceFile != nil:
		f, ok := h.saveUpload(w, *req.ReplaceFile)
		if !ok {
			cleanup()
			return
		}
		added = append(added, f.SavedName)
		if task.FilePath != nil {
			removed = append(removed, *task.FilePath)
		}
		task.FileName, task.FilePath = &f.OriginalName, &f.SavedName
		analyze = f.SavedName
		newContent = true
	case req.RemoveFile:
		if task.FilePath != nil {
			removed = append(removed, *task.FilePath)
		}
		task.FileName, task.FilePath = nil, nil
	}

	if newContent {
		task.HTMLApproved = initialReview(user)
		task.HTMLReviewNote = nil
	}

	_, err = h.db.Exec(`
		UPDATE task SET title = $1, description = $2, file_name = $3, file_path = $4, html_files = $5,
		       html_approved = $6, html_review_note = $7, sharing_type = $8
		WHERE id = $9
	`, task.Title, task.Description, task.FileName, task.FilePath, encodeHTMLFiles(task.HTMLFiles),
		task.HTMLApproved, task.HTMLReviewNote, task.SharingType, task.ID)
	if err != nil {
		cleanup()
		internalError(w, "failed to update task", err)
		return
	}

	for _, name := range removed {
		if err := h.store.Remove(name); err != nil {
			slog.Warn("failed to remove replaced upload", "file", name, "error", err)
		}
	}
	if analyze != "" {
		h.reports.AnalyzeHTML(task.ID, user.ID, analyze)
	}

	updated, err := loadTask(h.db, task.ID)
	if err != nil {
		internalError(w, "failed to reload task", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, updated)
}

// DeleteTask handles DELETE /tasks/{id}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}

	// Submissions, shares and likes cascade
	if _, err := h.db.Exec("DELETE FROM task WHERE id = $1", task.ID); err != nil {
		internalError(w, "failed to delete task", err)
		return
	}
	removeTaskFiles(h.store, task)

	slog.Info("task deleted", "task_id", task.ID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Task deleted"})
}

// removeTaskFiles deletes every page a task references
func removeTaskFiles(store *storage.Store, task models.Task) {
	names := make([]string, 0, len(task.HTMLFiles)+1)
	if task.FilePath != nil {
		names = append(names, *task.FilePath)
	}
	for _, f := range task.HTMLFiles {
		names = append(names, f.SavedName)
	}
	for _, name := range names {
		if err := store.Remove(name); err != nil {
			slog.Warn("failed to remove task file", "task_id", task.ID, "file", name, "error", err)
		}
	}
}

// AssignOrganization handles POST /tasks/{id}/assign-org
func (h *TaskHandler) AssignOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}

	var req models.AssignOrgRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.OrganizationID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "organization_id is required")
		return
	}

	member, err := isOrgMemberOrCreator(h.db, req.OrganizationID, user.ID)
	if err != nil {
		internalError(w, "failed to check membership", err)
		return
	}
	if !member {
		middleware.ErrorResponse(w, http.StatusForbidden, "You are not a member of this organization")
		return
	}

	_, err = h.db.Exec("UPDATE task SET organization_id = $1, sharing_type = $2 WHERE id = $3",
		req.OrganizationID, models.SharingOrganization, task.ID)
	if err != nil {
		internalError(w, "failed to assign organization", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Task assigned to organization"})
}

// RemoveOrganization handles POST /tasks/{id}/remove-org
func (h *TaskHandler) RemoveOrganization(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}
	if task.OrganizationID == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Task is not assigned to an organization")
		return
	}

	_, err := h.db.Exec(`
		UPDATE task SET organization_id = NULL,
		       sharing_type = CASE WHEN sharing_type = 'organization' THEN 'private' ELSE sharing_type END
		WHERE id = $1
	`, task.ID)
	if err != nil {
		internalError(w, "failed to remove organization", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Task removed from organization"})
}

func listShares(q db.Querier, taskID string) ([]models.TaskShare, error) {
	rows, err := q.Query(`
		SELECT s.id, s.task_id, s.user_id, u.username, s.can_edit, s.created_at
		FROM task_share s JOIN users u ON u.id = s.user_id
		WHERE s.task_id = $1 ORDER BY s.created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []models.TaskShare{}
	for rows.Next() {
		var s models.TaskShare
		if err := rows.Scan(&s.ID, &s.TaskID, &s.UserID, &s.Username, &s.CanEdit, &s.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// ShareTask handles POST /tasks/{id}/shares
func (h *TaskHandler) ShareTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}

	var req models.ShareTaskRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var targetID string
	err := h.db.QueryRow("SELECT id FROM users WHERE username = $1", strings.TrimSpace(req.Username)).Scan(&targetID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		internalError(w, "failed to find user", err)
		return
	}
	if targetID == user.ID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "You cannot share a task with yourself")
		return
	}

	shareID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate share ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to share task")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO task_share (id, task_id, user_id, can_edit, created_at) VALUES ($1, $2, $3, 1, $4)
	`, shareID, task.ID, targetID, db.Now())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Task is already shared with this user")
		return
	}
	if err != nil {
		internalError(w, "failed to insert share", err)
		return
	}
	if task.SharingType == models.SharingPrivate {
		if _, err := tx.Exec("UPDATE task SET sharing_type = $1 WHERE id = $2", models.SharingShared, task.ID); err != nil {
			internalError(w, "failed to update sharing type", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit share", err)
		return
	}

	shares, err := listShares(h.db, task.ID)
	if err != nil {
		internalError(w, "failed to list shares", err)
		return
	}
	for _, s := range shares {
		if s.ID == shareID {
			middleware.JSONResponse(w, http.StatusCreated, s)
			return
		}
	}
	middleware.ErrorResponse(w, http.StatusInternalServerError, "Share was not stored")
}

// DeleteShare handles DELETE /shares/{id}. Removing the last share makes a
// shared task private again.
func (h *TaskHandler) DeleteShare(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	shareID := r.PathValue("id")

	var taskID, ownerID string
	err := h.db.QueryRow(`
		SELECT s.task_id, t.user_id FROM task_share s JOIN task t ON t.id = s.task_id WHERE s.id = $1
	`, shareID).Scan(&taskID, &ownerID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Share not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load share", err)
		return
	}
	if ownerID != user.ID && !user.IsAdmin() {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the task owner can remove shares")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM task_share WHERE id = $1", shareID); err != nil {
		internalError(w, "failed to delete share", err)
		return
	}
	_, err = tx.Exec(`
		UPDATE task SET sharing_type = 'private'
		WHERE id = $1 AND sharing_type = 'shared'
		  AND NOT EXISTS (SELECT 1 FROM task_share WHERE task_id = $2)
	`, taskID, taskID)
	if err != nil {
		internalError(w, "failed to update sharing type", err)
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit share removal", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Share removed"})
}

// ToggleLike handles POST /tasks/{id}/like
func (h *TaskHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskFromPath(w, r, h.db)
	if !ok {
		return
	}
	if task.SharingType != models.SharingPublic {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Only public tasks can be liked")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM task_like WHERE task_id = $1 AND user_id = $2", task.ID, user.ID)
	if err != nil {
		internalError(w, "failed to remove like", err)
		return
	}
	n, _ := res.RowsAffected()
	liked := n == 0

	if liked {
		_, err = tx.Exec("INSERT INTO task_like (task_id, user_id, created_at) VALUES ($1, $2, $3)",
			task.ID, user.ID, db.Now())
		if err == nil {
			_, err = tx.Exec("UPDATE task SET like_count = like_count + 1 WHERE id = $1", task.ID)
		}
	} else {
		_, err = tx.Exec(`
			UPDATE task SET like_count = CASE WHEN like_count > 0 THEN like_count - 1 ELSE 0 END WHERE id = $1
		`, task.ID)
	}
	if err != nil {
		internalError(w, "failed to update like", err)
		return
	}

	var count int
	if err := tx.QueryRow("SELECT like_count FROM task WHERE id = $1", task.ID).Scan(&count); err != nil {
		internalError(w, "failed to read like count", err)
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit like", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.LikeResponse{Success: true, Liked: liked, Count: count})
}
