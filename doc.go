// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the QuickForm API server.

QuickForm lets users publish HTML form pages, collect submissions from
them through a public JSON API, export the results to Excel and have an
AI provider write an analysis report.

# Starting the Server

The server reads a .env file, environment variables or CLI flags:

	SESSION_SECRET=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..."

Without a database type the server uses a local SQLite file. A PostgreSQL
server that does not answer falls back to SQLite as well.

# Configuration

Required settings:

  - SESSION_SECRET (--session-secret): secret for session token hashing

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t), DATABASE_URL (-d): sqlite (default) or postgres
  - IP_HASH_SALT: salt for hashed client IPs (default: the session secret)
  - UPLOAD_DIR (--uploads), MAX_UPLOAD_MB: uploaded pages and certification files
  - PUBLIC_BASE_URL: prefix for links in emails and form pages
  - TLS_CERT, TLS_KEY (--tls-cert, --tls-key): serve HTTPS directly
  - MAIL_SERVER, MAIL_PORT, MAIL_USERNAME, MAIL_PASSWORD, MAIL_USE_TLS:
    outgoing mail for verification codes (logged when unset)
  - CHAT_SERVER_API_URL, CHAT_SERVER_API_TOKEN: default AI endpoint
  - DEFAULT_TASK_LIMIT: tasks allowed per regular user (default: 5)
  - ADMIN_USERNAME, ADMIN_PASSWORD, ADMIN_EMAIL: bootstrap administrator

# Architecture

  - handlers: HTTP request handlers (accounts, tasks, submissions, analysis, admin)
  - router: Route definitions using Go 1.22+ routing
  - middleware: sessions, CORS, logging, 404 bans, JSON helpers
  - models: Request/response types
  - auth: Password hashing and token generation
  - db: Connection, schema and shared queries
  - storage: Uploaded files and form page rewriting
  - report: Background AI analysis and progress tracking
  - ai, mailer, export: AI providers, SMTP and Excel workbooks
  - ratelimit, verify, scheduler, metrics: in-memory state and its upkeep
  - cliparse: Configuration parsing

The watchdog in cmd/watchdog restarts the server when its health check
stops answering.

See package documentation for each component.
*/
package main
