// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lib/pq"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/models"
)

func openTemp(t *testing.T) cliparse.Config {
	t.Helper()
	return cliparse.Config{
		DatabaseType: cliparse.DatabaseSQLite,
		DatabaseURL:  filepath.Join(t.TempDir(), "test.db"),
	}
}

func TestOpenSQLiteAndSchema(t *testing.T) {
	conn, driver, err := Open(openTemp(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if driver != cliparse.DatabaseSQLite {
		t.Errorf("Expected sqlite driver, got %s", driver)
	}

	// Twice to confirm idempotency
	for i := 0; i < 2; i++ {
		if err := CreateSchema(conn); err != nil {
			t.Fatalf("CreateSchema run %d failed: %v", i+1, err)
		}
	}

	tables := []string{
		"users", "session", "ai_config", "organization", "organization_member",
		"task", "submission", "task_share", "task_like", "post", "post_reply",
		"certification_request",
	}
	for _, table := range tables {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s missing: %v", table, err)
		}
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	conn, _, err := Open(openTemp(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()
	if err := CreateSchema(conn); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}

	_, err = conn.Exec(`INSERT INTO task (id, user_id, title) VALUES ('t1', 'missing-user', 'x')`)
	if err == nil {
		t.Error("Expected foreign key violation for unknown user")
	}
}

func TestEnsureAdmin(t *testing.T) {
	cfg := openTemp(t)
	conn, _, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()
	if err := CreateSchema(conn); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}

	// Not configured: no-op
	if err := EnsureAdmin(conn, cfg); err != nil {
		t.Fatalf("EnsureAdmin without credentials failed: %v", err)
	}
	var count int
	conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	if count != 0 {
		t.Fatalf("Expected no users, got %d", count)
	}

	cfg.AdminUsername = "root"
	cfg.AdminPassword = "secret123"
	for i := 0; i < 2; i++ {
		if err := EnsureAdmin(conn, cfg); err != nil {
			t.Fatalf("EnsureAdmin failed: %v", err)
		}
	}

	var role, hash, email string
	var limit int
	var certified bool
	err = conn.QueryRow("SELECT role, password_hash, email, task_limit, is_certified FROM users WHERE username = 'root'").
		Scan(&role, &hash, &email, &limit, &certified)
	if err != nil {
		t.Fatalf("Admin not created: %v", err)
	}
	if role != models.RoleAdmin {
		t.Errorf("Expected admin role, got %s", role)
	}
	if limit != models.UnlimitedTasks {
		t.Errorf("Expected unlimited tasks, got %d", limit)
	}
	if !certified {
		t.Error("Expected admin to be certified")
	}
	if email != "root@localhost" {
		t.Errorf("Expected placeholder email, got %s", email)
	}
	if err := auth.CheckPassword(hash, "secret123"); err != nil {
		t.Error("Admin password hash does not verify")
	}

	conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	if count != 1 {
		t.Errorf("Expected exactly one admin, got %d", count)
	}
	conn.QueryRow("SELECT COUNT(*) FROM ai_config").Scan(&count)
	if count != 1 {
		t.Errorf("Expected admin ai_config, got %d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	conn, _, err := Open(openTemp(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()
	if err := CreateSchema(conn); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}

	insert := `INSERT INTO users (id, username, email, password_hash) VALUES ($1, 'alice', $2, 'x')`
	if _, err := conn.Exec(insert, "u1", "a@example.com"); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	_, err = conn.Exec(insert, "u2", "b@example.com")
	if !IsUniqueViolation(err) {
		t.Errorf("Expected unique violation, got %v", err)
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres other", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
