// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danielhkuo/quickform/ai"
	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/storage"
)

// RunTimeout bounds one background AI call
const RunTimeout = 5 * time.Minute

var ErrAlreadyRunning = errors.New("analysis already in progress")

// Service runs AI work off the request path and records the results
type Service struct {
	db      *sql.DB
	ai      ai.Completer
	store   *storage.Store
	tracker *Tracker
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(db *sql.DB, completer ai.Completer, store *storage.Store, m *metrics.Metrics) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		db:      db,
		ai:      completer,
		store:   store,
		tracker: NewTracker(),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Wait blocks until every background run has returned
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running work and waits for it to stop
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// StartAnalysis launches report generation for a task.
// Only one run per task may be in progress.
func (s *Service) StartAnalysis(taskID string, cfg models.AIConfig, prompt string) error {
	if !s.tracker.Start(taskID, "queued") {
		return ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAnalysis(taskID, cfg, prompt)
	}()
	return nil
}

func (s *Service) runAnalysis(taskID string, cfg models.AIConfig, prompt string) {
	ctx, cancel := context.WithTimeout(s.ctx, RunTimeout)
	defer cancel()

	s.tracker.Update(taskID, 10, "calling "+ai.ModelLabel(cfg.SelectedModel))
	text, err := s.ai.Complete(ctx, cfg, prompt)
	if err != nil {
		slog.Error("analysis failed", "task_id", taskID, "error", err)
		s.tracker.Fail(taskID, err.Error())
		s.metrics.Reports.WithLabelValues(metrics.KindAnalysis, models.ReportError).Inc()
		return
	}

	s.tracker.Update(taskID, 80, "saving report")
	if _, err := s.db.Exec("UPDATE task SET analysis_report = $1 WHERE id = $2", text, taskID); err != nil {
		slog.Error("failed to store analysis report", "task_id", taskID, "error", err)
		s.tracker.Fail(taskID, "failed to save report")
		s.metrics.Reports.WithLabelValues(metrics.KindAnalysis, models.ReportError).Inc()
		return
	}

	if path, err := s.writeReportFile(taskID, text); err != nil {
		// The database copy is authoritative
		slog.Warn("failed to write report file", "task_id", taskID, "error", err)
	} else {
		slog.Info("analysis report saved", "task_id", taskID, "path", path)
	}

	s.tracker.Complete(taskID, text)
	s.metrics.Reports.WithLabelValues(metrics.KindAnalysis, models.ReportCompleted).Inc()
}

func (s *Service) writeReportFile(taskID, text string) (string, error) {
	name := fmt.Sprintf("%s_%s.md", taskID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.store.ReportsDir(), name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// AnalyzeHTML describes an uploaded form page in the background and stores
// the result in task.html_analysis. Users without a usable AI configuration
// are skipped.
func (s *Service) AnalyzeHTML(taskID, userID, savedName string) {
	cfg, err := LoadAIConfig(s.db, userID)
	if err != nil {
		slog.Debug("html analysis skipped", "task_id", taskID, "reason", err)
		return
	}
	if checker, ok := s.ai.(interface{ Check(models.AIConfig) error }); ok {
		if err := checker.Check(cfg); err != nil {
			slog.Debug("html analysis skipped", "task_id", taskID, "reason", err)
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		page, err := s.store.ReadHTML(savedName)
		if err != nil {
			slog.Warn("html analysis could not read page", "task_id", taskID, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, RunTimeout)
		defer cancel()

		text, err := s.ai.Complete(ctx, cfg, ai.BuildHTMLReviewPrompt(page))
		if err != nil {
			slog.Warn("html analysis failed", "task_id", taskID, "error", err)
			s.metrics.Reports.WithLabelValues(metrics.KindHTML, models.ReportError).Inc()
			return
		}
		if _, err := s.db.Exec("UPDATE task SET html_analysis = $1 WHERE id = $2", text, taskID); err != nil {
			slog.Error("failed to store html analysis", "task_id", taskID, "error", err)
			return
		}
		s.metrics.Reports.WithLabelValues(metrics.KindHTML, models.ReportCompleted).Inc()
	}()
}

// Status reports live progress, falling back to the stored report
func (s *Service) Status(taskID string) (models.ReportStatusResponse, error) {
	if p, ok := s.tracker.Get(taskID); ok {
		switch p.Status {
		case models.ReportCompleted:
			return models.ReportStatusResponse{Status: p.Status, Report: p.Report}, nil
		case models.ReportError:
			return models.ReportStatusResponse{Status: p.Status, Message: p.Message}, nil
		default:
			return models.ReportStatusResponse{Status: p.Status, Progress: p.Percent, Message: p.Message}, nil
		}
	}

	var stored sql.NullString
	err := s.db.QueryRow("SELECT analysis_report FROM task WHERE id = $1", taskID).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return models.ReportStatusResponse{}, fmt.Errorf("failed to load report: %w", err)
	}
	if stored.Valid && stored.String != "" {
		return models.ReportStatusResponse{Status: models.ReportCompleted, Report: stored.String}, nil
	}
	return models.ReportStatusResponse{Status: models.ReportNotStarted}, nil
}

// LoadAIConfig reads a user's provider settings
func LoadAIConfig(db *sql.DB, userID string) (models.AIConfig, error) {
	var c models.AIConfig
	err := db.QueryRow(`
		SELECT id, user_id, selected_model, deepseek_api_key, doubao_api_key, qwen_api_key,
		       chat_server_api_url, chat_server_api_token, updated_at
		FROM ai_config WHERE user_id = $1
	`, userID).Scan(&c.ID, &c.UserID, &c.SelectedModel, &c.DeepSeekAPIKey, &c.DoubaoAPIKey,
		&c.QwenAPIKey, &c.ChatServerAPIURL, &c.ChatServerAPIToken, &c.UpdatedAt)
	if err != nil {
		return models.AIConfig{}, err
	}
	return c, nil
}
