// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/handlers"
	"github.com/danielhkuo/quickform/mailer"
	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/ratelimit"
	"github.com/danielhkuo/quickform/report"
	"github.com/danielhkuo/quickform/storage"
	"github.com/danielhkuo/quickform/verify"
)

// Deps holds the long-lived services the handlers are built from
type Deps struct {
	DB       *sql.DB
	Config   cliparse.Config
	Store    *storage.Store
	Mail     mailer.Sender
	AI       handlers.AIClient
	Reports  *report.Service
	Limiter  *ratelimit.SubmissionLimiter
	Banner   *ratelimit.NotFoundBanner
	Failures *ratelimit.FailureCounter
	Codes    *verify.Store
	Tickets  *verify.Store
	Metrics  *metrics.Metrics
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()
	log := middleware.WithLogging
	authn := middleware.NewAuthenticator(d.DB, d.Config.SessionSecret)
	user := authn.RequireUser
	admin := authn.RequireAdmin

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(d.DB, d.Config, d.Mail, d.Codes, d.Tickets, d.Failures)
	profileHandler := handlers.NewProfileHandler(d.DB, d.AI)
	taskHandler := handlers.NewTaskHandler(d.DB, d.Config, d.Store, d.Reports)
	submissionHandler := handlers.NewSubmissionHandler(d.DB, d.Config, d.Limiter, d.Metrics)
	analysisHandler := handlers.NewAnalysisHandler(d.DB, d.AI, d.Store, d.Reports)
	orgHandler := handlers.NewOrganizationHandler(d.DB)
	communityHandler := handlers.NewCommunityHandler(d.DB)
	certHandler := handlers.NewCertificationHandler(d.DB, d.Store)
	adminHandler := handlers.NewAdminHandler(d.DB, d.Config, d.Store)
	uploadHandler := handlers.NewUploadHandler(d.DB, d.Config, d.Store)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// Accounts
	mux.HandleFunc("POST /auth/email-code", log(authHandler.SendEmailCode))
	mux.HandleFunc("POST /auth/register", log(authHandler.Register))
	mux.HandleFunc("POST /auth/login", log(authHandler.Login))
	mux.HandleFunc("POST /auth/logout", log(authHandler.Logout))
	mux.HandleFunc("POST /auth/forgot-username", log(authHandler.ForgotUsername))
	mux.HandleFunc("POST /auth/forgot-password", log(authHandler.ForgotPassword))
	mux.HandleFunc("POST /auth/forgot-password/send-code", log(authHandler.SendResetCode))
	mux.HandleFunc("POST /auth/forgot-password/reset", log(authHandler.ResetPassword))

	mux.HandleFunc("GET /me", log(user(profileHandler.Me)))
	mux.HandleFunc("PUT /me/profile", log(user(profileHandler.UpdateProfile)))
	mux.HandleFunc("PUT /me/password", log(user(profileHandler.ChangePassword)))
	mux.HandleFunc("GET /me/ai-config", log(user(profileHandler.GetAIConfig)))
	mux.HandleFunc("PUT /me/ai-config", log(user(profileHandler.UpdateAIConfig)))
	mux.HandleFunc("POST /me/ai-config/test", log(user(profileHandler.TestAIConfig)))

	// Tasks
	mux.HandleFunc("GET /tasks", log(user(taskHandler.Dashboard)))
	mux.HandleFunc("POST /tasks", log(user(taskHandler.CreateTask)))
	mux.HandleFunc("GET /tasks/{id}", log(authn.OptionalUser(taskHandler.GetTask)))
	mux.HandleFunc("PUT /tasks/{id}", log(user(taskHandler.UpdateTask)))
	mux.HandleFunc("DELETE /tasks/{id}", log(user(taskHandler.DeleteTask)))
	mux.HandleFunc("POST /tasks/{id}/assign-org", log(user(taskHandler.AssignOrganization)))
	mux.HandleFunc("POST /tasks/{id}/remove-org", log(user(taskHandler.RemoveOrganization)))
	mux.HandleFunc("POST /tasks/{id}/shares", log(user(taskHandler.ShareTask)))
	mux.HandleFunc("DELETE /shares/{id}", log(user(taskHandler.DeleteShare)))
	mux.HandleFunc("POST /tasks/{id}/like", log(user(taskHandler.ToggleLike)))

	// Submissions owned by a task
	mux.HandleFunc("DELETE /tasks/{id}/submissions", log(user(submissionHandler.DeleteAllSubmissions)))
	mux.HandleFunc("DELETE /tasks/{id}/submissions/{sid}", log(user(submissionHandler.DeleteSubmission)))
	mux.HandleFunc("GET /tasks/{id}/export", log(user(submissionHandler.Export)))

	// Public form API
	mux.HandleFunc("GET /api/tasks", log(middleware.PublicCORS(submissionHandler.RecentTasks)))
	mux.HandleFunc("OPTIONS /api/{task}", middleware.PublicCORS(submissionHandler.Submit))
	mux.HandleFunc("GET /api/{task}", log(middleware.PublicCORS(submissionHandler.LatestSubmissions)))
	mux.HandleFunc("POST /api/{task}", log(middleware.PublicCORS(submissionHandler.Submit)))
	mux.HandleFunc("OPTIONS /api/{task}/all", middleware.PublicCORS(submissionHandler.AllSubmissions))
	mux.HandleFunc("GET /api/{task}/all", log(middleware.PublicCORS(submissionHandler.AllSubmissions)))

	// Analysis
	mux.HandleFunc("GET /tasks/{id}/analysis", log(user(analysisHandler.GetAnalysis)))
	mux.HandleFunc("POST /tasks/{id}/analysis", log(user(analysisHandler.StartAnalysis)))
	mux.HandleFunc("PUT /tasks/{id}/analysis/template", log(user(analysisHandler.SaveTemplate)))
	mux.HandleFunc("GET /tasks/{id}/analysis/status", log(user(analysisHandler.AnalysisStatus)))
	mux.HandleFunc("GET /tasks/{id}/analysis/report", log(user(analysisHandler.DownloadReport)))

	// Organizations
	mux.HandleFunc("GET /organizations", log(user(orgHandler.ListOrganizations)))
	mux.HandleFunc("POST /organizations", log(user(orgHandler.CreateOrganization)))
	mux.HandleFunc("POST /organizations/join", log(user(orgHandler.JoinOrganization)))
	mux.HandleFunc("GET /organizations/{id}", log(user(orgHandler.GetOrganization)))
	mux.HandleFunc("DELETE /organizations/{id}", log(user(orgHandler.DeleteOrganization)))
	mux.HandleFunc("POST /organizations/{id}/leave", log(user(orgHandler.LeaveOrganization)))
	mux.HandleFunc("DELETE /organization-members/{id}", log(user(orgHandler.RemoveMember)))

	// Community
	mux.HandleFunc("GET /community", log(communityHandler.Community))
	mux.HandleFunc("POST /community/posts", log(user(communityHandler.CreatePost)))
	mux.HandleFunc("POST /community/posts/{id}/replies", log(user(communityHandler.CreateReply)))
	mux.HandleFunc("DELETE /community/posts/{id}", log(admin(communityHandler.DeletePost)))
	mux.HandleFunc("DELETE /community/replies/{id}", log(admin(communityHandler.DeleteReply)))

	// Certification
	mux.HandleFunc("POST /certification", log(user(certHandler.Apply)))
	mux.HandleFunc("GET /certification", log(user(certHandler.ListOwn)))

	// Administration
	mux.HandleFunc("GET /admin/stats", log(admin(adminHandler.Stats)))
	mux.HandleFunc("GET /admin/users", log(admin(adminHandler.ListUsers)))
	mux.HandleFunc("GET /admin/users/export", log(admin(adminHandler.ExportUsers)))
	mux.HandleFunc("POST /admin/users/{id}/role", log(admin(adminHandler.ToggleRole)))
	mux.HandleFunc("POST /admin/users/{id}/unlimited", log(admin(adminHandler.ToggleUnlimited)))
	mux.HandleFunc("POST /admin/users/{id}/reset-password", log(admin(adminHandler.ResetUserPassword)))
	mux.HandleFunc("DELETE /admin/users/{id}", log(admin(adminHandler.DeleteUser)))
	mux.HandleFunc("GET /admin/reviews/html", log(admin(adminHandler.HTMLReviews)))
	mux.HandleFunc("POST /admin/reviews/html/batch", log(admin(adminHandler.BatchApproveHTML)))
	mux.HandleFunc("POST /admin/reviews/html/{id}", log(admin(adminHandler.ReviewHTML)))
	mux.HandleFunc("GET /admin/reviews/certifications", log(admin(adminHandler.CertificationReviews)))
	mux.HandleFunc("GET /admin/certifications/{id}/file", log(admin(adminHandler.CertificationFile)))
	mux.HandleFunc("POST /admin/certifications/{id}", log(admin(adminHandler.ReviewCertification)))

	// Uploaded files and the script injected into form pages
	mux.HandleFunc("GET /uploads/{name}", log(authn.OptionalUser(uploadHandler.ServeUpload)))
	mux.HandleFunc("GET "+storage.EnhancementScriptPath, handlers.EnhancementScript)

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("quickform API v1"))
	})

	return middleware.Instrument(d.Metrics,
		middleware.BanNotFound(d.Banner, d.Metrics, appCORS(mux)))
}

// appCORS applies the credentialed CORS policy everywhere except the public
// form API, which sets its own wildcard headers.
func appCORS(mux *http.ServeMux) http.Handler {
	app := middleware.CORS(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			mux.ServeHTTP(w, r)
			return
		}
		app.ServeHTTP(w, r)
	})
}
