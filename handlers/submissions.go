// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/export"
	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/ratelimit"
)

const (
	latestSubmissions = 3
	recentTasks       = 20
	maxSubmissionBody = 1 << 20
)

// SubmissionHandler serves the public form API and submission management
type SubmissionHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	limiter *ratelimit.SubmissionLimiter
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSubmissionHandler(db *sql.DB, cfg cliparse.Config, limiter *ratelimit.SubmissionLimiter, m *metrics.Metrics) *SubmissionHandler {
	return &SubmissionHandler{db: db, cfg: cfg, limiter: limiter, metrics: m, now: time.Now}
}

func querySubmissions(q db.Querier, query string, args ...any) ([]models.Submission, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []models.Submission{}
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Data, &s.IPHash, &s.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func publicView(s models.Submission) map[string]any {
	return map[string]any{
		"id":           s.ID,
		"submitted_at": s.SubmittedAt,
		"data":         models.PayloadView(s.Data),
	}
}

func (h *SubmissionHandler) listPublic(w http.ResponseWriter, r *http.Request, limit int) {
	taskID := r.PathValue("task")

	var title string
	err := h.db.QueryRow("SELECT title FROM task WHERE id = $1", taskID).Scan(&title)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load task", err)
		return
	}

	var total int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM submission WHERE task_id = $1", taskID).Scan(&total); err != nil {
		internalError(w, "failed to count submissions", err)
		return
	}

	query := "SELECT id, task_id, data, ip_hash, submitted_at FROM submission WHERE task_id = $1 ORDER BY submitted_at DESC, id"
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	subs, err := querySubmissions(h.db, query, args...)
	if err != nil {
		internalError(w, "failed to query submissions", err)
		return
	}

	resp := models.PublicSubmissionsResponse{
		TaskID:           taskID,
		TaskTitle:        title,
		TotalSubmissions: total,
		Submissions:      make([]map[string]any, 0, len(subs)),
	}
	if limit > 0 {
		resp.Note = fmt.Sprintf("Showing the %d most recent submissions. GET /api/%s/all returns every submission.", limit, taskID)
	} else {
		resp.Note = "All submissions, newest first."
	}
	for _, s := range subs {
		resp.Submissions = append(resp.Submissions, publicView(s))
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// LatestSubmissions handles GET /api/{task}
func (h *SubmissionHandler) LatestSubmissions(w http.ResponseWriter, r *http.Request) {
	h.listPublic(w, r, latestSubmissions)
}

// AllSubmissions handles GET /api/{task}/all
func (h *SubmissionHandler) AllSubmissions(w http.ResponseWriter, r *http.Request) {
	h.listPublic(w, r, 0)
}

// readPayload returns the submission as JSON text. JSON bodies are kept
// verbatim; form bodies become an object of strings (or string arrays
// for repeated fields).
func readPayload(r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxSubmissionBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxSubmissionBody); err != nil && err != http.ErrNotMultipart {
			return "", err
		}
		obj := make(map[string]any, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) == 1 {
				obj[k] = vs[0]
			} else {
				obj[k] = vs
			}
		}
		if len(obj) == 0 {
			return "", fmt.Errorf("empty form")
		}
		b, err := json.Marshal(obj)
		return string(b), err
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(string(body))
		if text == "" || !json.Valid([]byte(text)) {
			return "", fmt.Errorf("body is not valid JSON")
		}
		return text, nil
	}
}

// Submit handles POST /api/{task}
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task")
	ip := middleware.GetClientIP(r)
	now := h.now()

	// Blacklisted clients are turned away before any work
	if h.limiter.Blacklisted(ip, now) {
		h.rateLimited(w, taskID, ip, h.limiter.Allow(ip, now), now)
		return
	}

	var exists int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM task WHERE id = $1", taskID).Scan(&exists); err != nil {
		h.metrics.Submissions.WithLabelValues(metrics.ResultError).Inc()
		internalError(w, "failed to check task", err)
		return
	}
	if exists == 0 {
		h.metrics.Submissions.WithLabelValues(metrics.ResultNotFound).Inc()
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Submission must be a JSON or form body")
		return
	}

	// Only well-formed submissions to a real task count toward the limit
	if decision := h.limiter.Allow(ip, now); !decision.Allowed {
		h.rateLimited(w, taskID, ip, decision, now)
		return
	}

	id, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate submission ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to store submission")
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO submission (id, task_id, data, ip_hash, submitted_at) VALUES ($1, $2, $3, $4, $5)
	`, id, taskID, payload, auth.HashIP(ip, h.cfg.IPHashSalt), now.UTC().Truncate(time.Second))
	if err != nil {
		h.metrics.Submissions.WithLabelValues(metrics.ResultError).Inc()
		internalError(w, "failed to insert submission", err)
		return
	}

	h.metrics.Submissions.WithLabelValues(metrics.ResultStored).Inc()
	middleware.JSONResponse(w, http.StatusOK, models.SubmitResponse{
		Message: "Submission received",
		Status:  "success",
	})
}

func (h *SubmissionHandler) rateLimited(w http.ResponseWriter, taskID, ip string, d ratelimit.Decision, now time.Time) {
	w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	h.metrics.Submissions.WithLabelValues(metrics.ResultRateLimited).Inc()
	if d.NewlyBlocked {
		h.metrics.RateLimitBlocks.Inc()
		h.logBlock(taskID, ip, d, now)
	}
	middleware.ErrorResponse(w, http.StatusTooManyRequests, "Too many submissions, try again later")
}

// logBlock appends one line per blacklisting to the task's rate_limit_log
func (h *SubmissionHandler) logBlock(taskID, ip string, d ratelimit.Decision, now time.Time) {
	line := fmt.Sprintf("%s ip_hash=%s blocked for %s after %d submissions\n",
		now.UTC().Format("2006-01-02 15:04:05"), auth.HashIP(ip, h.cfg.IPHashSalt), d.RetryAfter, d.Count)

	_, err := h.db.Exec(`
		UPDATE task SET rate_limit_log = COALESCE(rate_limit_log, '') || $1 WHERE id = $2
	`, line, taskID)
	if err != nil {
		slog.Error("failed to append rate limit log", "task_id", taskID, "error", err)
	}
	slog.Warn("submission rate limit exceeded", "task_id", taskID, "submissions", d.Count)
}

// RecentTasks handles GET /api/tasks
func (h *SubmissionHandler) RecentTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query("SELECT id, title, created_at FROM task ORDER BY created_at DESC LIMIT $1", recentTasks)
	if err != nil {
		internalError(w, "failed to query tasks", err)
		return
	}
	defer rows.Close()

	items := []models.TaskSummary{}
	for rows.Next() {
		var t models.TaskSummary
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt); err != nil {
			internalError(w, "failed to scan task", err)
			return
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		internalError(w, "failed to read tasks", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.TaskListResponse{Items: items, Count: len(items)})
}

// DeleteSubmission handles DELETE /tasks/{id}/submissions/{sid}
func (h *SubmissionHandler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}

	res, err := h.db.Exec("DELETE FROM submission WHERE id = $1 AND task_id = $2", r.PathValue("sid"), task.ID)
	if err != nil {
		internalError(w, "failed to delete submission", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Submission not found")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Submission deleted"})
}

// DeleteAllSubmissions handles DELETE /tasks/{id}/submissions
func (h *SubmissionHandler) DeleteAllSubmissions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	task, ok := taskForOwner(w, r, h.db)
	if !ok {
		return
	}

	res, err := h.db.Exec("DELETE FROM submission WHERE task_id = $1", task.ID)
	if err != nil {
		internalError(w, "failed to delete submissions", err)
		return
	}
	n, _ := res.RowsAffected()

	slog.Info("submissions cleared", "task_id", task.ID, "count", n)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: fmt.Sprintf("Deleted %d submissions", n),
	})
}

// Export handles GET /tasks/{id}/export
func (h *SubmissionHandler) Export(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}

	subs, err := querySubmissions(h.db, `
		SELECT id, task_id, data, ip_hash, submitted_at FROM submission
		WHERE task_id = $1 ORDER BY submitted_at, id
	`, task.ID)
	if err != nil {
		internalError(w, "failed to query submissions", err)
		return
	}
	if len(subs) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "There are no submissions to export")
		return
	}

	buf, err := export.Submissions(subs)
	if err != nil {
		slog.Error("failed to build workbook", "task_id", task.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to export submissions")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", export.ContentDisposition(export.FileName(task.Title, time.Now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
