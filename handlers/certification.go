// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/storage"
)

const certificateField = "certificate_file"

type CertificationHandler struct {
	db    *sql.DB
	store *storage.Store
}

func NewCertificationHandler(db *sql.DB, store *storage.Store) *CertificationHandler {
	return &CertificationHandler{db: db, store: store}
}

// Apply handles POST /certification (multipart, field certificate_file)
func (h *CertificationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	if user.IsCertified {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Your account is already certified")
		return
	}
	pending, err := latestCertRequest(h.db, user.ID, true)
	if err != nil {
		internalError(w, "failed to check pending requests", err)
		return
	}
	if pending != nil {
		middleware.ErrorResponse(w, http.StatusConflict, "You already have a request waiting for review")
		return
	}

	// Leave room for multipart headers around the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBytes()+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Expected a multipart upload within the "+h.store.LimitText()+" limit")
		return
	}
	file, header, err := r.FormFile(certificateField)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "certificate_file is required")
		return
	}
	defer file.Close()

	saved, err := h.store.SaveCertification(header.Filename, file)
	if err != nil {
		uploadError(w, h.store, err)
		return
	}

	req := models.CertificationRequest{
		UserID:    user.ID,
		Username:  user.Username,
		FileName:  storage.SafeName(header.Filename),
		FilePath:  saved,
		Status:    models.ReviewPending,
		CreatedAt: db.Now(),
	}
	if req.ID, err = auth.GenerateID(16); err != nil {
		h.store.Remove(saved)
		internalError(w, "failed to generate request ID", err)
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO certification_request (id, user_id, file_name, file_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.UserID, req.FileName, req.FilePath, req.Status, req.CreatedAt)
	if err != nil {
		h.store.Remove(saved)
		internalError(w, "failed to insert certification request", err)
		return
	}

	slog.Info("certification requested", "user_id", user.ID, "request_id", req.ID)
	middleware.JSONResponse(w, http.StatusCreated, req)
}

// ListOwn handles GET /certification
func (h *CertificationHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	reqs, err := queryCertRequests(h.db, `
		SELECT c.id, c.user_id, u.username, c.file_name, c.file_path, c.status, c.review_note,
		       c.reviewed_by, c.reviewed_at, c.created_at
		FROM certification_request c JOIN users u ON u.id = c.user_id
		WHERE c.user_id = $1 ORDER BY c.created_at DESC
	`, user.ID)
	if err != nil {
		internalError(w, "failed to list certification requests", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, reqs)
}

// queryCertRequests scans rows that include the requester's username
func queryCertRequests(q db.Querier, query string, args ...any) ([]models.CertificationRequest, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []models.CertificationRequest{}
	for rows.Next() {
		var c models.CertificationRequest
		err := rows.Scan(&c.ID, &c.UserID, &c.Username, &c.FileName, &c.FilePath, &c.Status,
			&c.ReviewNote, &c.ReviewedBy, &c.ReviewedAt, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, c)
	}
	return reqs, rows.Err()
}
