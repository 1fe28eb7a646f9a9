// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"testing"
	"time"
)

func TestDeleteExpiredSessions(t *testing.T) {
	conn, _, err := Open(openTemp(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()
	if err := CreateSchema(conn); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}

	if _, err := conn.Exec(`INSERT INTO users (id, username, email, password_hash) VALUES ('u1', 'alice', 'a@example.com', 'x')`); err != nil {
		t.Fatalf("Insert user failed: %v", err)
	}
	now := Now()
	sessions := map[string]time.Time{
		"old":    now.Add(-time.Hour),
		"older":  now.Add(-48 * time.Hour),
		"active": now.Add(time.Hour),
	}
	for hash, expires := range sessions {
		if _, err := conn.Exec("INSERT INTO session (token_hash, user_id, expires_at) VALUES ($1, 'u1', $2)", hash, expires); err != nil {
			t.Fatalf("Insert session failed: %v", err)
		}
	}

	n, err := DeleteExpiredSessions(conn, now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 sessions removed, got %d", n)
	}

	var left string
	if err := conn.QueryRow("SELECT token_hash FROM session").Scan(&left); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if left != "active" {
		t.Errorf("Expected the active session to survive, got %s", left)
	}
}
