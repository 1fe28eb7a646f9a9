// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates the schema.

# Opening

Open selects the driver from the configuration:

	conn, driver, err := db.Open(cfg)

SQLite (modernc.org/sqlite, no cgo) is the default. PostgreSQL uses
lib/pq; when the server does not answer a ping the local SQLite file is
used instead and a warning is logged.

SQLite connections are opened with foreign keys on and a busy timeout,
and the pool holds a single connection. Callers must close rows before
issuing the next query and must use only the *sql.Tx inside a transaction.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
Flags are INTEGER columns and IDs are TEXT so the same DDL runs on both drivers.

# Tables

  - users, session, ai_config: accounts, login sessions, AI provider settings
  - organization, organization_member: groups joined by org code
  - task, submission: forms and the data posted to them
  - task_share, task_like: per-user sharing and community likes
  - post, post_reply: community board
  - certification_request: uploaded certificates awaiting review

# Relationships

	users 1──* task 1──* submission
	users 1──1 ai_config
	organization 1──* organization_member *──1 users
	organization 1──* task (SET NULL on delete)
	task *──* users (via task_share, task_like)
	post 1──* post_reply

All other foreign keys use ON DELETE CASCADE.

# Bootstrap

EnsureAdmin creates the admin account from ADMIN_USERNAME and
ADMIN_PASSWORD when no admin exists yet.
*/
package db
