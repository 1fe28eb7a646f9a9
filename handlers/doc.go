// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the QuickForm API.

# Handler Types

Each handler is a struct holding the services it needs:

  - AuthHandler: registration, login, logout and account recovery
  - ProfileHandler: the current user's profile, password and AI settings
  - TaskHandler: task lifecycle, sharing, organizations and likes
  - SubmissionHandler: the public form API, deletion and Excel export
  - AnalysisHandler: prompt preview, background AI reports and downloads
  - OrganizationHandler: organizations and their members
  - CommunityHandler: posts and replies
  - CertificationHandler: certification requests from users
  - AdminHandler: statistics, user management and review queues
  - UploadHandler: stored files and the form enhancement script

Handlers are created via constructor functions:

	taskHandler := handlers.NewTaskHandler(db, cfg, store, reports)

The logged-in user is read from the request context, where the router's
middleware.Authenticator put it:

	user := middleware.CurrentUser(r.Context())

# Task Access

Tasks are readable by administrators, their owner, members of the task's
organization and users it was shared with. Public tasks are readable by
anyone. Editing requires ownership, an administrator or a share with
can_edit; deleting requires ownership.

# Form Pages

Uploaded HTML pages are reviewed before they are served. Pages from
certified users and administrators are approved on upload; the rest wait
in the admin review queue and visitors see a review-gate page instead:

	POST /tasks                   → CreateTask (optional base64 page)
	POST /admin/reviews/html/{id} → ReviewHTML (approve, reject, feature)
	GET  /uploads/{name}          → ServeUpload (gate or enhanced page)

# Submissions

Pages post to the public form API with JSON or urlencoded bodies:

	POST /api/{task}     → Submit (rate limited per client IP)
	GET  /api/{task}     → LatestSubmissions
	GET  /api/{task}/all → AllSubmissions

Clients over the limit receive 429 with Retry-After, and the blacklisting
is appended to the task's rate_limit_log with a hashed IP.

# Analysis

Reports are generated in the background by report.Service:

	POST /tasks/{id}/analysis        → StartAnalysis (202, 409 when running)
	GET  /tasks/{id}/analysis/status → AnalysisStatus (poll until completed)
*/
package handlers
