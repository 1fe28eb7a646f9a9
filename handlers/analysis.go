// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/ai"
	"github.com/danielhkuo/quickform/export"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/report"
	"github.com/danielhkuo/quickform/storage"
)

// AIClient is what handlers need from ai.Client
type AIClient interface {
	ai.Completer
	Check(cfg models.AIConfig) error
}

type AnalysisHandler struct {
	db      *sql.DB
	ai      AIClient
	store   *storage.Store
	reports *report.Service
}

func NewAnalysisHandler(db *sql.DB, client AIClient, store *storage.Store, reports *report.Service) *AnalysisHandler {
	return &AnalysisHandler{db: db, ai: client, store: store, reports: reports}
}

// buildPrompt assembles the analysis prompt from the task's current data
func (h *AnalysisHandler) buildPrompt(task models.Task) (string, error) {
	subs, err := querySubmissions(h.db, `
		SELECT id, task_id, data, ip_hash, submitted_at FROM submission
		WHERE task_id = $1 ORDER BY submitted_at, id
	`, task.ID)
	if err != nil {
		return "", err
	}

	var page string
	if task.FilePath != nil {
		if page, err = h.store.ReadHTML(*task.FilePath); err != nil {
			slog.Warn("failed to read form page for prompt", "task_id", task.ID, "error", err)
			page = ""
		}
	}

	var template string
	if task.UserPromptTemplate != nil {
		template = *task.UserPromptTemplate
	}

	return ai.BuildAnalysisPrompt(ai.PromptInput{
		Task:         task,
		Submissions:  subs,
		HTML:         page,
		UserTemplate: template,
	}), nil
}

// GetAnalysis handles GET /tasks/{id}/analysis. The stored prompt is
// rebuilt when the submission count moved or a template is set.
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}

	var count int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM submission WHERE task_id = $1", task.ID).Scan(&count); err != nil {
		internalError(w, "failed to count submissions", err)
		return
	}

	var stored, template string
	if task.CustomPrompt != nil {
		stored = *task.CustomPrompt
	}
	if task.UserPromptTemplate != nil {
		template = *task.UserPromptTemplate
	}

	prompt := stored
	if strings.TrimSpace(template) != "" || ai.NeedsRegeneration(stored, count) {
		var err error
		if prompt, err = h.buildPrompt(task); err != nil {
			internalError(w, "failed to build prompt", err)
			return
		}
	}

	status, err := h.reports.Status(task.ID)
	if err != nil {
		internalError(w, "failed to load report status", err)
		return
	}

	resp := models.AnalysisResponse{
		Report:             task.AnalysisReport,
		PreviewPrompt:      prompt,
		UserPromptTemplate: template,
		Status:             status.Status,
	}
	if status.Status == models.ReportError {
		resp.Error = status.Message
	}
	if status.Status == models.ReportCompleted && status.Report != "" {
		resp.Report = &status.Report
	}

	cfg, err := report.LoadAIConfig(h.db, user.ID)
	if err != nil && err != sql.ErrNoRows {
		internalError(w, "failed to load ai config", err)
		return
	}
	if err == nil {
		resp.Model = cfg.SelectedModel
		resp.ModelLabel = ai.ModelLabel(cfg.SelectedModel)
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// SaveTemplate handles PUT /tasks/{id}/analysis/template
func (h *AnalysisHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}

	var req models.SaveTemplateRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	_, err := h.db.Exec("UPDATE task SET user_prompt_template = $1 WHERE id = $2",
		nullIfEmpty(req.UserPromptTemplate), task.ID)
	if err != nil {
		internalError(w, "failed to save template", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Template saved"})
}

// StartAnalysis handles POST /tasks/{id}/analysis
func (h *AnalysisHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}

	var req models.StartAnalysisRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	cfg, err := report.LoadAIConfig(h.db, user.ID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Configure an AI model before generating a report")
		return
	}
	if err != nil {
		internalError(w, "failed to load ai config", err)
		return
	}
	if err := h.ai.Check(cfg); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "AI model is not configured: "+err.Error())
		return
	}

	prompt := strings.TrimSpace(req.CustomPrompt)
	if prompt == "" {
		if prompt, err = h.buildPrompt(task); err != nil {
			internalError(w, "failed to build prompt", err)
			return
		}
	}

	if _, err := h.db.Exec("UPDATE task SET custom_prompt = $1 WHERE id = $2", prompt, task.ID); err != nil {
		internalError(w, "failed to store prompt", err)
		return
	}

	if err := h.reports.StartAnalysis(task.ID, cfg, prompt); err != nil {
		if errors.Is(err, report.ErrAlreadyRunning) {
			middleware.ErrorResponse(w, http.StatusConflict, "A report is already being generated for this task")
			return
		}
		slog.Error("failed to start analysis", "task_id", task.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start analysis")
		return
	}

	slog.Info("analysis started", "task_id", task.ID, "user_id", user.ID, "model", cfg.SelectedModel)
	middleware.JSONResponse(w, http.StatusAccepted, models.ReportStatusResponse{
		Status:  models.ReportInProgress,
		Message: "Report generation started",
	})
}

// AnalysisStatus handles GET /tasks/{id}/analysis/status
func (h *AnalysisHandler) AnalysisStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}
	status, err := h.reports.Status(task.ID)
	if err != nil {
		internalError(w, "failed to load report status", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, status)
}

// DownloadReport handles GET /tasks/{id}/analysis/report
func (h *AnalysisHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	task, ok := taskForAccess(w, r, h.db)
	if !ok {
		return
	}
	if task.AnalysisReport == nil || strings.TrimSpace(*task.AnalysisReport) == "" {
		middleware.ErrorResponse(w, http.StatusNotFound, "No report has been generated for this task")
		return
	}

	name := strings.TrimSuffix(export.FileName(task.Title, time.Now()), ".xlsx") + ".md"
	name = strings.Replace(name, "_export_", "_report_", 1)

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", export.ContentDisposition(name))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(*task.AnalysisReport))
}
