// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/danielhkuo/quickform/models"
)

// UserColumns lists users columns in the order ScanUser expects
const UserColumns = "id, username, email, phone, password_hash, school, role, task_limit, is_certified, certified_at, certification_note, created_at"

// UserColumnsAs qualifies UserColumns with a table alias
func UserColumnsAs(alias string) string {
	cols := strings.Split(UserColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// Scanner is satisfied by *sql.Row and *sql.Rows
type Scanner interface {
	Scan(dest ...any) error
}

// ScanUser reads one row selected with UserColumns
func ScanUser(row Scanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.PasswordHash, &u.School, &u.Role,
		&u.TaskLimit, &u.IsCertified, &u.CertifiedAt, &u.CertificationNote, &u.CreatedAt)
	return u, err
}

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// GetUser loads a user by ID. Returns sql.ErrNoRows when missing.
func GetUser(q Querier, id string) (models.User, error) {
	return ScanUser(q.QueryRow("SELECT "+UserColumns+" FROM users WHERE id = $1", id))
}

// DeleteExpiredSessions removes sessions that expired before now
func DeleteExpiredSessions(ex Execer, now time.Time) (int64, error) {
	res, err := ex.Exec("DELETE FROM session WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
