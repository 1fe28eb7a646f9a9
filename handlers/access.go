// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/storage"
)

// taskColumns lists task columns in the order scanTask expects
const taskColumns = `id, user_id, title, description, file_name, file_path, html_files, html_approved,
	html_approved_by, html_approved_at, html_review_note, html_analysis, analysis_report, custom_prompt,
	user_prompt_template, rate_limit_log, organization_id, sharing_type, is_featured, like_count, created_at`

func scanTask(row db.Scanner) (models.Task, error) {
	var t models.Task
	var files string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.FileName, &t.FilePath, &files,
		&t.HTMLApproved, &t.HTMLApprovedBy, &t.HTMLApprovedAt, &t.HTMLReviewNote, &t.HTMLAnalysis,
		&t.AnalysisReport, &t.CustomPrompt, &t.UserPromptTemplate, &t.RateLimitLog, &t.OrganizationID,
		&t.SharingType, &t.IsFeatured, &t.LikeCount, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.HTMLFiles = decodeHTMLFiles(files)
	return t, nil
}

func decodeHTMLFiles(raw string) []models.HTMLFile {
	files := []models.HTMLFile{}
	if raw == "" {
		return files
	}
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		slog.Warn("invalid html_files column", "error", err)
		return []models.HTMLFile{}
	}
	return files
}

func encodeHTMLFiles(files []models.HTMLFile) string {
	if files == nil {
		files = []models.HTMLFile{}
	}
	b, _ := json.Marshal(files)
	return string(b)
}

// queryTasks runs a task query and collects every row before returning.
// Rows are closed before any further statement runs on the connection.
func queryTasks(q db.Querier, query string, args ...any) ([]models.Task, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func loadTask(q db.Querier, id string) (models.Task, error) {
	return scanTask(q.QueryRow("SELECT "+taskColumns+" FROM task WHERE id = $1", id))
}

func isOrgMember(q db.Querier, orgID, userID string) (bool, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM organization_member WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&n)
	return n > 0, err
}

// isOrgMemberOrCreator accepts the creator even without a membership row
func isOrgMemberOrCreator(q db.Querier, orgID, userID string) (bool, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM organization o
		WHERE o.id = $1 AND (o.creator_id = $2
			OR EXISTS (SELECT 1 FROM organization_member m WHERE m.organization_id = o.id AND m.user_id = $3))
	`, orgID, userID, userID).Scan(&n)
	return n > 0, err
}

// shareFor returns whether the user holds a share on the task and whether it allows edits
func shareFor(q db.Querier, taskID, userID string) (shared, canEdit bool, err error) {
	var edit bool
	err = q.QueryRow("SELECT can_edit FROM task_share WHERE task_id = $1 AND user_id = $2",
		taskID, userID).Scan(&edit)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, edit, nil
}

// canAccess: admin, owner, member of the task's organization, or share recipient
func canAccess(q db.Querier, user *models.User, task models.Task) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsAdmin() || task.UserID == user.ID {
		return true, nil
	}
	if task.OrganizationID != nil {
		ok, err := isOrgMemberOrCreator(q, *task.OrganizationID, user.ID)
		if err != nil || ok {
			return ok, err
		}
	}
	shared, _, err := shareFor(q, task.ID, user.ID)
	return shared, err
}

// canEdit: admin, owner, or a share recipient allowed to edit
func canEdit(q db.Querier, user *models.User, task models.Task) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsAdmin() || task.UserID == user.ID {
		return true, nil
	}
	_, edit, err := shareFor(q, task.ID, user.ID)
	return edit, err
}

// taskForAccess loads the path task and checks read access, writing the
// error response itself. The bool is false when the handler should stop.
func taskForAccess(w http.ResponseWriter, r *http.Request, q db.Querier) (models.Task, bool) {
	task, ok := taskFromPath(w, r, q)
	if !ok {
		return task, false
	}
	allowed, err := canAccess(q, middleware.CurrentUser(r.Context()), task)
	if err != nil {
		internalError(w, "failed to check task access", err)
		return task, false
	}
	if !allowed {
		middleware.ErrorResponse(w, http.StatusForbidden, "You do not have access to this task")
		return task, false
	}
	return task, true
}

// taskForOwner loads the path task and requires the current user to own it
func taskForOwner(w http.ResponseWriter, r *http.Request, q db.Querier) (models.Task, bool) {
	task, ok := taskFromPath(w, r, q)
	if !ok {
		return task, false
	}
	user := middleware.CurrentUser(r.Context())
	if user == nil || task.UserID != user.ID {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the task owner can do this")
		return task, false
	}
	return task, true
}

func taskFromPath(w http.ResponseWriter, r *http.Request, q db.Querier) (models.Task, bool) {
	taskID := r.PathValue("id")
	if taskID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task id is required")
		return models.Task{}, false
	}
	task, err := loadTask(q, taskID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return task, false
	}
	if err != nil {
		internalError(w, "failed to load task", err)
		return task, false
	}
	return task, true
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
}

// pageParams reads page and per_page from the query string.
// page is at least 1; per_page falls back to def and is capped at max.
func pageParams(r *http.Request, def, max int) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = def
	}
	if perPage > max {
		perPage = max
	}
	return page, perPage
}

// paginate clamps page to the last page and returns the row offset
func paginate(total, page, perPage int) (models.Pagination, int) {
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	return models.Pagination{Page: page, PerPage: perPage, Pages: pages, Total: total}, (page - 1) * perPage
}

// likePattern escapes a user search term for LIKE ... ESCAPE '\'
func likePattern(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// uploadError maps storage failures onto HTTP responses
func uploadError(w http.ResponseWriter, store *storage.Store, err error) {
	switch {
	case errors.Is(err, storage.ErrUnsupportedExtension):
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, "File exceeds the "+store.LimitText()+" limit")
	case errors.Is(err, storage.ErrInvalidName), errors.Is(err, storage.ErrEmptyFile):
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("failed to store upload", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to store file")
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
