// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/export"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/storage"
)

const (
	adminPageSize = 20
	// resetPassword is what an administrator reset sets; users are told to change it
	resetPassword = "123456"
)

// Review actions
const (
	actionApprove   = "approve"
	actionReject    = "reject"
	actionFeature   = "feature"
	actionUnfeature = "unfeature"
)

type AdminHandler struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *storage.Store
}

func NewAdminHandler(db *sql.DB, cfg cliparse.Config, store *storage.Store) *AdminHandler {
	return &AdminHandler{db: db, cfg: cfg, store: store}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Stats handles GET /admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := db.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var s models.AdminStats
	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&s.TotalUsers, "SELECT COUNT(*) FROM users", nil},
		{&s.AdminUsers, "SELECT COUNT(*) FROM users WHERE role = $1", []any{models.RoleAdmin}},
		{&s.NewUsersToday, "SELECT COUNT(*) FROM users WHERE created_at >= $1", []any{today}},
		{&s.TotalTasks, "SELECT COUNT(*) FROM task", nil},
		{&s.NewTasksToday, "SELECT COUNT(*) FROM task WHERE created_at >= $1", []any{today}},
		{&s.TotalSubmissions, "SELECT COUNT(*) FROM submission", nil},
		{&s.NewSubmissionsToday, "SELECT COUNT(*) FROM submission WHERE submitted_at >= $1", []any{today}},
		{&s.TasksWithReports, "SELECT COUNT(*) FROM task WHERE analysis_report IS NOT NULL AND analysis_report <> ''", nil},
	}
	for _, c := range counts {
		if err := h.db.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			internalError(w, "failed to compute stats", err)
			return
		}
	}

	s.NormalUsers = s.TotalUsers - s.AdminUsers
	if s.TotalUsers > 0 {
		s.AvgTasksPerUser = round2(float64(s.TotalTasks) / float64(s.TotalUsers))
	}
	if s.TotalTasks > 0 {
		s.AvgSubmissionsPerTask = round2(float64(s.TotalSubmissions) / float64(s.TotalTasks))
		s.ReportGenerationRate = round2(float64(s.TasksWithReports) / float64(s.TotalTasks) * 100)
	}

	size, err := h.store.Size()
	if err != nil {
		slog.Warn("failed to measure upload directory", "error", err)
	}
	s.UploadDirSize = humanize.IBytes(uint64(size))

	middleware.JSONResponse(w, http.StatusOK, s)
}

// ListUsers handles GET /admin/users?q=&page=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	where := ""
	var args []any
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		p := likePattern(q)
		where = ` WHERE LOWER(username) LIKE $1 ESCAPE '\' OR LOWER(email) LIKE $2 ESCAPE '\'
			OR LOWER(school) LIKE $3 ESCAPE '\' OR phone LIKE $4 ESCAPE '\'`
		args = []any{p, p, p, p}
	}

	var total int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		internalError(w, "failed to count users", err)
		return
	}

	page, _ := pageParams(r, adminPageSize, adminPageSize)
	pagination, offset := paginate(total, page, adminPageSize)

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		db.UserColumns, where, n+1, n+2)
	rows, err := h.db.Query(query, append(args, adminPageSize, offset)...)
	if err != nil {
		internalError(w, "failed to query users", err)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := db.ScanUser(rows)
		if err != nil {
			internalError(w, "failed to scan user", err)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		internalError(w, "failed to read users", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.AdminUsersResponse{Users: users, Pagination: pagination})
}

// targetUser loads the path user and refuses actions on the caller's own
// account. With protectAdmins, administrators cannot be targeted either.
func (h *AdminHandler) targetUser(w http.ResponseWriter, r *http.Request, protectAdmins bool) (models.User, bool) {
	me := middleware.CurrentUser(r.Context())
	target, err := db.GetUser(h.db, r.PathValue("id"))
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return target, false
	}
	if err != nil {
		internalError(w, "failed to load user", err)
		return target, false
	}
	if target.ID == me.ID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "You cannot do this to your own account")
		return target, false
	}
	if protectAdmins && target.IsAdmin() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "This cannot be done to an administrator")
		return target, false
	}
	return target, true
}

func (h *AdminHandler) respondUser(w http.ResponseWriter, id string) {
	u, err := db.GetUser(h.db, id)
	if err != nil {
		internalError(w, "failed to reload user", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, u)
}

// ToggleRole handles POST /admin/users/{id}/role
func (h *AdminHandler) ToggleRole(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r, false)
	if !ok {
		return
	}

	role := models.RoleAdmin
	if target.IsAdmin() {
		role = models.RoleUser
	}
	if _, err := h.db.Exec("UPDATE users SET role = $1 WHERE id = $2", role, target.ID); err != nil {
		internalError(w, "failed to update role", err)
		return
	}

	slog.Info("user role changed", "user_id", target.ID, "role", role, "by", middleware.CurrentUser(r.Context()).ID)
	h.respondUser(w, target.ID)
}

// ToggleUnlimited handles POST /admin/users/{id}/unlimited
func (h *AdminHandler) ToggleUnlimited(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r, true)
	if !ok {
		return
	}

	limit := models.UnlimitedTasks
	if target.TaskLimit == models.UnlimitedTasks {
		limit = h.cfg.DefaultTaskLimit
	}
	if _, err := h.db.Exec("UPDATE users SET task_limit = $1 WHERE id = $2", limit, target.ID); err != nil {
		internalError(w, "failed to update task limit", err)
		return
	}
	h.respondUser(w, target.ID)
}

// ResetUserPassword handles POST /admin/users/{id}/reset-password
func (h *AdminHandler) ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r, false)
	if !ok {
		return
	}

	hash, err := auth.HashPassword(resetPassword)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to reset password")
		return
	}
	if err := setPassword(h.db, target.ID, hash); err != nil {
		internalError(w, "failed to reset password", err)
		return
	}

	slog.Info("password reset by admin", "user_id", target.ID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: "Password for " + target.Username + " was reset to " + resetPassword,
	})
}

// DeleteUser handles DELETE /admin/users/{id}. Tasks, submissions and
// memberships cascade; uploaded files are removed afterwards.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetUser(w, r, true)
	if !ok {
		return
	}

	tasks, err := queryTasks(h.db, "SELECT "+taskColumns+" FROM task WHERE user_id = $1", target.ID)
	if err != nil {
		internalError(w, "failed to list user tasks", err)
		return
	}
	certs, err := queryCertRequests(h.db, `
		SELECT c.id, c.user_id, u.username, c.file_name, c.file_path, c.status, c.review_note,
		       c.reviewed_by, c.reviewed_at, c.created_at
		FROM certification_request c JOIN users u ON u.id = c.user_id WHERE c.user_id = $1
	`, target.ID)
	if err != nil {
		internalError(w, "failed to list certification files", err)
		return
	}

	if _, err := h.db.Exec("DELETE FROM users WHERE id = $1", target.ID); err != nil {
		internalError(w, "failed to delete user", err)
		return
	}

	for _, t := range tasks {
		removeTaskFiles(h.store, t)
	}
	for _, c := range certs {
		if err := h.store.Remove(c.FilePath); err != nil {
			slog.Warn("failed to remove certification file", "file", c.FilePath, "error", err)
		}
	}

	slog.Info("user deleted", "user_id", target.ID, "tasks", len(tasks))
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "User deleted"})
}

// ExportUsers handles GET /admin/users/export
func (h *AdminHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`
		SELECT ` + db.UserColumnsAs("u") + `,
		       (SELECT COUNT(*) FROM task t WHERE t.user_id = u.id),
		       (SELECT COUNT(*) FROM submission s JOIN task t ON t.id = s.task_id WHERE t.user_id = u.id)
		FROM users u ORDER BY u.created_at
	`)
	if err != nil {
		internalError(w, "failed to query users", err)
		return
	}

	var users []export.UserRow
	for rows.Next() {
		var row export.UserRow
		u := &row.User
		err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.PasswordHash, &u.School, &u.Role,
			&u.TaskLimit, &u.IsCertified, &u.CertifiedAt, &u.CertificationNote, &u.CreatedAt,
			&row.TaskCount, &row.SubmissionCount)
		if err != nil {
			rows.Close()
			internalError(w, "failed to scan user", err)
			return
		}
		users = append(users, row)
	}
	rows.Close()

	buf, err := export.Users(users)
	if err != nil {
		slog.Error("failed to build user workbook", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to export users")
		return
	}

	name := "users_export_" + time.Now().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", export.ContentDisposition(name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// HTMLReviews handles GET /admin/reviews/html?page=. Pending pages come first.
func (h *AdminHandler) HTMLReviews(w http.ResponseWriter, r *http.Request) {
	const hasHTML = "(file_path IS NOT NULL OR html_files <> '[]')"

	var total, pending int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM task WHERE "+hasHTML).Scan(&total); err != nil {
		internalError(w, "failed to count html tasks", err)
		return
	}
	err := h.db.QueryRow("SELECT COUNT(*) FROM task WHERE "+hasHTML+" AND html_approved = $1",
		models.ReviewPending).Scan(&pending)
	if err != nil {
		internalError(w, "failed to count pending html tasks", err)
		return
	}

	page, _ := pageParams(r, adminPageSize, adminPageSize)
	pagination, offset := paginate(total, page, adminPageSize)

	tasks, err := queryTasks(h.db, `
		SELECT `+taskColumns+` FROM task WHERE `+hasHTML+`
		ORDER BY CASE WHEN html_approved = 0 THEN 0 ELSE 1 END, created_at DESC, id
		LIMIT $1 OFFSET $2
	`, adminPageSize, offset)
	if err != nil {
		internalError(w, "failed to query html tasks", err)
		return
	}

	names, err := h.usernames()
	if err != nil {
		internalError(w, "failed to load usernames", err)
		return
	}

	items := make([]models.HTMLReviewItem, 0, len(tasks))
	for _, t := range tasks {
		item := models.HTMLReviewItem{Task: t, Author: names[t.UserID]}
		if t.HTMLApprovedBy != nil {
			if name, ok := names[*t.HTMLApprovedBy]; ok {
				item.Approver = &name
			}
		}
		items = append(items, item)
	}

	middleware.JSONResponse(w, http.StatusOK, models.HTMLReviewResponse{
		Items:        items,
		PendingCount: pending,
		Pagination:   pagination,
	})
}

// usernames maps user IDs to names for review listings
func (h *AdminHandler) usernames() (map[string]string, error) {
	rows, err := h.db.Query("SELECT id, username FROM users")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// ReviewHTML handles POST /admin/reviews/html/{id}
func (h *AdminHandler) ReviewHTML(w http.ResponseWriter, r *http.Request) {
	me := middleware.CurrentUser(r.Context())
	task, ok := taskFromPath(w, r, h.db)
	if !ok {
		return
	}

	var req models.ReviewActionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	note := strings.TrimSpace(req.Note)

	var err error
	var msg string
	switch req.Action {
	case actionApprove:
		_, err = h.db.Exec(`
			UPDATE task SET html_approved = $1, html_approved_by = $2, html_approved_at = $3, html_review_note = $4
			WHERE id = $5
		`, models.ReviewApproved, me.ID, db.Now(), nullIfEmpty(note), task.ID)
		msg = "Page approved"
	case actionReject:
		if note == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "A note is required when rejecting")
			return
		}
		_, err = h.db.Exec(`
			UPDATE task SET html_approved = $1, html_approved_by = $2, html_approved_at = $3, html_review_note = $4
			WHERE id = $5
		`, models.ReviewRejected, me.ID, db.Now(), note, task.ID)
		msg = "Page rejected"
	case actionFeature, actionUnfeature:
		_, err = h.db.Exec("UPDATE task SET is_featured = $1 WHERE id = $2",
			boolInt(req.Action == actionFeature), task.ID)
		msg = "Featured flag updated"
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "action must be approve, reject, feature or unfeature")
		return
	}
	if err != nil {
		internalError(w, "failed to apply review", err)
		return
	}

	slog.Info("html reviewed", "task_id", task.ID, "action", req.Action, "by", me.ID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: msg})
}

// BatchApproveHTML handles POST /admin/reviews/html/batch. Pages that are
// already approved keep their original reviewer.
func (h *AdminHandler) BatchApproveHTML(w http.ResponseWriter, r *http.Request) {
	me := middleware.CurrentUser(r.Context())

	var req models.BatchReviewRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.TaskIDs) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task_ids is required")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	now := db.Now()
	var approved int64
	for _, id := range req.TaskIDs {
		res, err := tx.Exec(`
			UPDATE task SET html_approved = $1, html_approved_by = $2, html_approved_at = $3
			WHERE id = $4 AND html_approved <> $5
		`, models.ReviewApproved, me.ID, now, id, models.ReviewApproved)
		if err != nil {
			internalError(w, "failed to approve task", err)
			return
		}
		n, _ := res.RowsAffected()
		approved += n
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit batch approval", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: fmt.Sprintf("Approved %d of %d tasks", approved, len(req.TaskIDs)),
	})
}

// CertificationReviews handles GET /admin/reviews/certifications?page=
func (h *AdminHandler) CertificationReviews(w http.ResponseWriter, r *http.Request) {
	var total, pending int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM certification_request").Scan(&total); err != nil {
		internalError(w, "failed to count requests", err)
		return
	}
	err := h.db.QueryRow("SELECT COUNT(*) FROM certification_request WHERE status = $1",
		models.ReviewPending).Scan(&pending)
	if err != nil {
		internalError(w, "failed to count pending requests", err)
		return
	}

	page, _ := pageParams(r, adminPageSize, adminPageSize)
	pagination, offset := paginate(total, page, adminPageSize)

	reqs, err := queryCertRequests(h.db, `
		SELECT c.id, c.user_id, u.username, c.file_name, c.file_path, c.status, c.review_note,
		       c.reviewed_by, c.reviewed_at, c.created_at
		FROM certification_request c JOIN users u ON u.id = c.user_id
		ORDER BY CASE WHEN c.status = 0 THEN 0 ELSE 1 END, c.created_at DESC, c.id
		LIMIT $1 OFFSET $2
	`, adminPageSize, offset)
	if err != nil {
		internalError(w, "failed to query requests", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CertReviewResponse{
		Requests:     reqs,
		PendingCount: pending,
		Pagination:   pagination,
	})
}

// CertificationFile handles GET /admin/certifications/{id}/file
func (h *AdminHandler) CertificationFile(w http.ResponseWriter, r *http.Request) {
	var fileName, filePath string
	err := h.db.QueryRow("SELECT file_name, file_path FROM certification_request WHERE id = $1",
		r.PathValue("id")).Scan(&fileName, &filePath)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Request not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load request", err)
		return
	}

	f, err := h.store.Open(filePath)
	if err != nil {
		slog.Warn("certification file missing", "file", filePath, "error", err)
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return
	}

	if ct := mime.TypeByExtension("." + storage.Extension(fileName)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, fileName, info.ModTime(), f)
}

// ReviewCertification handles POST /admin/certifications/{id}. Approval
// certifies the user, lifts the task limit and approves all of the user's
// pages, including rejected ones.
func (h *AdminHandler) ReviewCertification(w http.ResponseWriter, r *http.Request) {
	me := middleware.CurrentUser(r.Context())
	reqID := r.PathValue("id")

	var req models.ReviewActionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Action != actionApprove && req.Action != actionReject {
		middleware.ErrorResponse(w, http.StatusBadRequest, "action must be approve or reject")
		return
	}
	note := strings.TrimSpace(req.Note)

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	var userID string
	var status int
	err = tx.QueryRow("SELECT user_id, status FROM certification_request WHERE id = $1", reqID).Scan(&userID, &status)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Request not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load request", err)
		return
	}

	newStatus := models.ReviewRejected
	if req.Action == actionApprove {
		newStatus = models.ReviewApproved
	}
	// Repeating the decision is reported; the opposite decision overrides it
	if status == newStatus {
		msg := "Request was already rejected"
		if newStatus == models.ReviewApproved {
			msg = "Request was already approved"
		}
		middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: msg})
		return
	}

	now := db.Now()
	_, err = tx.Exec(`
		UPDATE certification_request SET status = $1, review_note = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $5
	`, newStatus, nullIfEmpty(note), me.ID, now, reqID)
	if err != nil {
		internalError(w, "failed to update request", err)
		return
	}

	if req.Action == actionApprove {
		_, err = tx.Exec(`
			UPDATE users SET is_certified = 1, certified_at = $1, certification_note = $2, task_limit = $3
			WHERE id = $4
		`, now, nullIfEmpty(note), models.UnlimitedTasks, userID)
		if err != nil {
			internalError(w, "failed to certify user", err)
			return
		}
		_, err = tx.Exec(`
			UPDATE task SET html_approved = $1, html_approved_by = $2, html_approved_at = $3, html_review_note = NULL
			WHERE user_id = $4 AND html_approved <> $5
		`, models.ReviewApproved, me.ID, now, userID, models.ReviewApproved)
		if err != nil {
			internalError(w, "failed to approve pages", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit review", err)
		return
	}

	slog.Info("certification reviewed", "request_id", reqID, "action", req.Action, "by", me.ID)
	msg := "Certification rejected"
	if req.Action == actionApprove {
		msg = "Certification approved"
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: msg})
}
