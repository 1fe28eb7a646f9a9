// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the QuickForm API.

# Route Registration

NewRouter builds every handler from Deps and returns the wrapped mux:

	handler := router.NewRouter(router.Deps{DB: conn, Config: cfg, ...})

The mux is wrapped, outermost first, with request metrics, the 404 ban
filter and CORS. The public form API under /api/ skips the credentialed
CORS policy and answers any origin itself.

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Accounts (public):

	POST /auth/register, /auth/login, /auth/logout
	POST /auth/email-code, /auth/forgot-username, /auth/forgot-password/...

Signed-in users (Authorization: Bearer or the quickform_session cookie):

	GET  /me, /tasks, /organizations, /certification
	POST /tasks, /tasks/{id}/analysis, /community/posts, ...

Public:

	GET  /tasks/{id} (public tasks only), /community, /uploads/{name}
	GET  /api/tasks, /api/{task}, /api/{task}/all
	POST /api/{task}

Administrators:

	GET  /admin/stats, /admin/users, /admin/reviews/...
	POST /admin/users/{id}/..., /admin/certifications/{id}

The full list lives in NewRouter.
*/
package router
