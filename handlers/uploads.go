// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"mime"
	"net/http"

	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/storage"
)

// pageCSP runs stored pages in an opaque origin so their scripts cannot
// reach the session or the API as the viewer
const pageCSP = "sandbox allow-scripts allow-forms"

// UploadHandler serves stored files. Form pages are gated on review.
type UploadHandler struct {
	db    *sql.DB
	store *storage.Store

	// prefixed with the public base URL when one is configured
	scriptURL string
}

func NewUploadHandler(db *sql.DB, cfg cliparse.Config, store *storage.Store) *UploadHandler {
	return &UploadHandler{
		db:        db,
		store:     store,
		scriptURL: cfg.PublicBaseURL + storage.EnhancementScriptPath,
	}
}

// linkedReview finds the task that references a stored page. found is
// false for pages no task points at.
func (h *UploadHandler) linkedReview(name string) (status int, note string, found bool, err error) {
	// LIKE narrows candidates; html_files is decoded to confirm the match
	tasks, err := queryTasks(h.db, `
		SELECT `+taskColumns+` FROM task
		WHERE file_path = $1 OR html_files LIKE $2
		ORDER BY created_at
	`, name, "%"+name+"%")
	if err != nil {
		return 0, "", false, err
	}
	for _, t := range tasks {
		match := t.FilePath != nil && *t.FilePath == name
		for _, f := range t.HTMLFiles {
			if f.SavedName == name {
				match = true
			}
		}
		if !match {
			continue
		}
		if t.HTMLReviewNote != nil {
			note = *t.HTMLReviewNote
		}
		return t.HTMLApproved, note, true, nil
	}
	return 0, "", false, nil
}

// ServeUpload handles GET /uploads/{name}
func (h *UploadHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	user := middleware.CurrentUser(r.Context())

	path, err := h.store.Path(name)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return
	}

	switch ext := storage.Extension(name); {
	case storage.IsHTML(name):
		h.servePage(w, r, name, user)
	case ext == "txt":
		http.ServeFile(w, r, path)
	default:
		if user == nil {
			middleware.ErrorResponse(w, http.StatusUnauthorized, "Login required")
			return
		}
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		http.ServeFile(w, r, path)
	}
}

func (h *UploadHandler) servePage(w http.ResponseWriter, r *http.Request, name string, user *models.User) {
	page, err := h.store.ReadHTML(name)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", pageCSP)
	if user.IsAdmin() {
		w.Write([]byte(page))
		return
	}

	status, note, found, err := h.linkedReview(name)
	if err != nil {
		slog.Error("failed to look up page review", "file", name, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if found && status != models.ReviewApproved {
		w.Write([]byte(storage.ReviewGatePage(status, note)))
		return
	}

	w.Write([]byte(storage.InjectScript(page, h.scriptURL)))
}

// EnhancementScript handles GET /static/js/form-enhancements.js
func EnhancementScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(storage.FormEnhancementsJS)
}
