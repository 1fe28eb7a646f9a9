// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
)

// orgCodeAttempts bounds retries when a generated code collides
const orgCodeAttempts = 5

type OrganizationHandler struct {
	db *sql.DB
}

func NewOrganizationHandler(db *sql.DB) *OrganizationHandler {
	return &OrganizationHandler{db: db}
}

const orgColumns = "o.id, o.name, o.description, o.org_code, o.creator_id, o.created_at"

func queryOrganizations(q db.Querier, query string, args ...any) ([]models.Organization, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orgs := []models.Organization{}
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.OrgCode, &o.CreatorID, &o.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (h *OrganizationHandler) orgFromPath(w http.ResponseWriter, r *http.Request) (models.Organization, bool) {
	var o models.Organization
	err := h.db.QueryRow("SELECT "+orgColumns+" FROM organization o WHERE o.id = $1", r.PathValue("id")).
		Scan(&o.ID, &o.Name, &o.Description, &o.OrgCode, &o.CreatorID, &o.CreatedAt)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Organization not found")
		return o, false
	}
	if err != nil {
		internalError(w, "failed to load organization", err)
		return o, false
	}
	return o, true
}

// ListOrganizations handles GET /organizations
func (h *OrganizationHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	created, err := queryOrganizations(h.db,
		"SELECT "+orgColumns+" FROM organization o WHERE o.creator_id = $1 ORDER BY o.created_at DESC", user.ID)
	if err != nil {
		internalError(w, "failed to query created organizations", err)
		return
	}
	joined, err := queryOrganizations(h.db, `
		SELECT `+orgColumns+` FROM organization o
		JOIN organization_member m ON m.organization_id = o.id
		WHERE m.user_id = $1 AND o.creator_id <> $2
		ORDER BY m.joined_at DESC
	`, user.ID, user.ID)
	if err != nil {
		internalError(w, "failed to query joined organizations", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.OrganizationsResponse{Created: created, Joined: joined})
}

// CreateOrganization handles POST /organizations. The creator joins as an admin member.
func (h *OrganizationHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.CreateOrganizationRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	orgID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate organization ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create organization")
		return
	}
	memberID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate member ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create organization")
		return
	}

	for attempt := 0; attempt < orgCodeAttempts; attempt++ {
		code, err := auth.GenerateOrgCode()
		if err != nil {
			slog.Error("failed to generate organization code", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create organization")
			return
		}

		err = h.insertOrganization(orgID, memberID, name, req.Description, code, user.ID)
		if db.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			internalError(w, "failed to insert organization", err)
			return
		}

		org, ok := h.orgByID(w, orgID)
		if !ok {
			return
		}
		slog.Info("organization created", "org_id", orgID, "creator", user.ID)
		middleware.JSONResponse(w, http.StatusCreated, org)
		return
	}

	middleware.ErrorResponse(w, http.StatusInternalServerError, "Could not allocate an organization code")
}

func (h *OrganizationHandler) insertOrganization(orgID, memberID, name, description, code, creatorID string) error {
	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := db.Now()
	_, err = tx.Exec(`
		INSERT INTO organization (id, name, description, org_code, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, orgID, name, nullIfEmpty(description), code, creatorID, now)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO organization_member (id, organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, memberID, orgID, creatorID, models.MemberAdmin, now)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (h *OrganizationHandler) orgByID(w http.ResponseWriter, id string) (models.Organization, bool) {
	orgs, err := queryOrganizations(h.db, "SELECT "+orgColumns+" FROM organization o WHERE o.id = $1", id)
	if err != nil {
		internalError(w, "failed to load organization", err)
		return models.Organization{}, false
	}
	if len(orgs) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Organization not found")
		return models.Organization{}, false
	}
	return orgs[0], true
}

// JoinOrganization handles POST /organizations/join
func (h *OrganizationHandler) JoinOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var req models.JoinOrganizationRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.OrgCode))
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_code is required")
		return
	}

	orgs, err := queryOrganizations(h.db, "SELECT "+orgColumns+" FROM organization o WHERE o.org_code = $1", code)
	if err != nil {
		internalError(w, "failed to find organization", err)
		return
	}
	if len(orgs) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "No organization uses this code")
		return
	}
	org := orgs[0]

	memberID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate member ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join organization")
		return
	}

	_, err = h.db.Exec(`
		INSERT INTO organization_member (id, organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, memberID, org.ID, user.ID, models.MemberMember, db.Now())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "You are already a member of this organization")
		return
	}
	if err != nil {
		internalError(w, "failed to insert member", err)
		return
	}

	slog.Info("organization joined", "org_id", org.ID, "user_id", user.ID)
	middleware.JSONResponse(w, http.StatusOK, org)
}

// GetOrganization handles GET /organizations/{id}
func (h *OrganizationHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	org, ok := h.orgFromPath(w, r)
	if !ok {
		return
	}

	member, err := isOrgMemberOrCreator(h.db, org.ID, user.ID)
	if err != nil {
		internalError(w, "failed to check membership", err)
		return
	}
	if !member && !user.IsAdmin() {
		middleware.ErrorResponse(w, http.StatusForbidden, "You are not a member of this organization")
		return
	}

	rows, err := h.db.Query(`
		SELECT m.id, m.organization_id, m.user_id, u.username, m.role, m.joined_at
		FROM organization_member m JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY CASE WHEN m.role = 'admin' THEN 0 ELSE 1 END, m.joined_at
	`, org.ID)
	if err != nil {
		internalError(w, "failed to query members", err)
		return
	}
	members := []models.OrganizationMember{}
	for rows.Next() {
		var m models.OrganizationMember
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			rows.Close()
			internalError(w, "failed to scan member", err)
			return
		}
		members = append(members, m)
	}
	rows.Close()

	tasks, err := queryTasks(h.db,
		"SELECT "+taskColumns+" FROM task WHERE organization_id = $1 ORDER BY created_at DESC", org.ID)
	if err != nil {
		internalError(w, "failed to query organization tasks", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.OrganizationDetailResponse{
		Organization: org,
		Members:      members,
		Tasks:        tasks,
		IsCreator:    org.CreatorID == user.ID,
	})
}

// DeleteOrganization handles DELETE /organizations/{id}. Organization tasks
// fall back to private.
func (h *OrganizationHandler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	org, ok := h.orgFromPath(w, r)
	if !ok {
		return
	}
	if org.CreatorID != user.ID {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the creator can dissolve an organization")
		return
	}

	tx, err := h.db.Begin()
	if err != nil {
		internalError(w, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE task SET organization_id = NULL,
		       sharing_type = CASE WHEN sharing_type = 'organization' THEN 'private' ELSE sharing_type END
		WHERE organization_id = $1
	`, org.ID)
	if err != nil {
		internalError(w, "failed to detach organization tasks", err)
		return
	}
	if _, err := tx.Exec("DELETE FROM organization WHERE id = $1", org.ID); err != nil {
		internalError(w, "failed to delete organization", err)
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(w, "failed to commit organization removal", err)
		return
	}

	slog.Info("organization dissolved", "org_id", org.ID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Organization dissolved"})
}

// LeaveOrganization handles POST /organizations/{id}/leave
func (h *OrganizationHandler) LeaveOrganization(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	org, ok := h.orgFromPath(w, r)
	if !ok {
		return
	}
	if org.CreatorID == user.ID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "The creator cannot leave; dissolve the organization instead")
		return
	}

	res, err := h.db.Exec("DELETE FROM organization_member WHERE organization_id = $1 AND user_id = $2", org.ID, user.ID)
	if err != nil {
		internalError(w, "failed to leave organization", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "You are not a member of this organization")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Left organization"})
}

// RemoveMember handles DELETE /organization-members/{id}
func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())

	var memberUserID, creatorID string
	err := h.db.QueryRow(`
		SELECT m.user_id, o.creator_id FROM organization_member m
		JOIN organization o ON o.id = m.organization_id WHERE m.id = $1
	`, r.PathValue("id")).Scan(&memberUserID, &creatorID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Member not found")
		return
	}
	if err != nil {
		internalError(w, "failed to load member", err)
		return
	}
	if creatorID != user.ID {
		middleware.ErrorResponse(w, http.StatusForbidden, "Only the creator can remove members")
		return
	}
	if memberUserID == creatorID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "The creator cannot be removed")
		return
	}

	if _, err := h.db.Exec("DELETE FROM organization_member WHERE id = $1", r.PathValue("id")); err != nil {
		internalError(w, "failed to remove member", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Member removed"})
}
