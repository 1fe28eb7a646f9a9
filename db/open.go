// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/models"
)

// fallbackSQLitePath is used when PostgreSQL cannot be reached
const fallbackSQLitePath = "quickform.db"

// Open connects to the configured database and verifies the connection.
// A PostgreSQL server that fails to answer a ping is logged and replaced
// by the local SQLite file. The returned string is the driver actually in use.
func Open(cfg cliparse.Config) (*sql.DB, string, error) {
	if cfg.DatabaseType == cliparse.DatabasePostgres {
		conn, err := sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = conn.Ping()
			if err == nil {
				return conn, cliparse.DatabasePostgres, nil
			}
			conn.Close()
		}
		slog.Warn("postgres unavailable, falling back to sqlite",
			"error", err,
			"path", fallbackSQLitePath,
		)
		conn, err = OpenSQLite(fallbackSQLitePath)
		if err != nil {
			return nil, "", err
		}
		return conn, cliparse.DatabaseSQLite, nil
	}

	conn, err := OpenSQLite(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}
	return conn, cliparse.DatabaseSQLite, nil
}

// OpenSQLite opens a SQLite file with foreign keys enforced.
// SQLite allows one writer, so the pool is pinned to a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return conn, nil
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Now returns the current UTC time truncated to whole seconds.
// Stored timestamps compare correctly as text on SQLite this way.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// EnsureAdmin creates the bootstrap admin account when none exists.
// Nothing happens unless both ADMIN_USERNAME and ADMIN_PASSWORD are set.
func EnsureAdmin(conn *sql.DB, cfg cliparse.Config) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int
	err := conn.QueryRow("SELECT COUNT(*) FROM users WHERE role = $1", models.RoleAdmin).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	userID, err := auth.GenerateID(16)
	if err != nil {
		return err
	}
	email := cfg.AdminEmail
	if email == "" {
		email = cfg.AdminUsername + "@localhost"
	}

	_, err = conn.Exec(`
		INSERT INTO users (id, username, email, password_hash, role, task_limit, is_certified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
	`, userID, cfg.AdminUsername, email, hash, models.RoleAdmin, models.UnlimitedTasks, Now())
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	if err := CreateAIConfig(conn, userID); err != nil {
		return err
	}

	slog.Info("admin account created", "username", cfg.AdminUsername)
	return nil
}

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// CreateAIConfig inserts the default chat_server configuration for a user
func CreateAIConfig(ex Execer, userID string) error {
	id, err := auth.GenerateID(16)
	if err != nil {
		return err
	}
	_, err = ex.Exec(`
		INSERT INTO ai_config (id, user_id, selected_model, updated_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, models.ProviderChatServer, Now())
	if err != nil {
		return fmt.Errorf("failed to create ai config: %w", err)
	}
	return nil
}
