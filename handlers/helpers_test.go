// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
	"github.com/danielhkuo/quickform/report"
	"github.com/danielhkuo/quickform/storage"
	"github.com/danielhkuo/quickform/testutil"
)

// stubAI answers every prompt with reply and records what it was sent.
// A non-nil release channel holds each call until it is closed.
type stubAI struct {
	mu       sync.Mutex
	reply    string
	err      error
	checkErr error
	release  chan struct{}
	prompts  []string
}

func (s *stubAI) Complete(ctx context.Context, cfg models.AIConfig, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func (s *stubAI) Check(cfg models.AIConfig) error {
	return s.checkErr
}

func (s *stubAI) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

var errNoKey = errors.New("no API key")

// testEnv bundles the dependencies handlers are built from
type testEnv struct {
	db      *sql.DB
	cfg     cliparse.Config
	store   *storage.Store
	ai      *stubAI
	reports *report.Service
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig(t)
	store, err := storage.New(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}
	m := metrics.New()
	client := &stubAI{reply: "# Report"}
	reports := report.NewService(conn, client, store, m)
	t.Cleanup(reports.Shutdown)

	return &testEnv{db: conn, cfg: cfg, store: store, ai: client, reports: reports, metrics: m}
}

// asUser attaches the stored user (with password hash) to the request context
func asUser(t *testing.T, conn *sql.DB, req *http.Request, userID string) *http.Request {
	t.Helper()
	u, err := db.GetUser(conn, userID)
	if err != nil {
		t.Fatalf("Failed to load user %s: %v", userID, err)
	}
	return req.WithContext(middleware.WithUser(req.Context(), &u))
}

// taskState reads a few task columns for assertions
func taskState(t *testing.T, conn *sql.DB, taskID string) models.Task {
	t.Helper()
	task, err := loadTask(conn, taskID)
	if err != nil {
		t.Fatalf("Failed to load task %s: %v", taskID, err)
	}
	return task
}

func countRows(t *testing.T, conn *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	return n
}
