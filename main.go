package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danielhkuo/quickform/ai"
	"github.com/danielhkuo/quickform/cliparse"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/mailer"
	"github.com/danielhkuo/quickform/metrics"
	"github.com/danielhkuo/quickform/ratelimit"
	"github.com/danielhkuo/quickform/report"
	"github.com/danielhkuo/quickform/router"
	"github.com/danielhkuo/quickform/scheduler"
	"github.com/danielhkuo/quickform/storage"
	"github.com/danielhkuo/quickform/verify"
)

const (
	sweepInterval    = 5 * time.Minute
	progressLifetime = time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// A missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	dbConn, driver, err := db.Open(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()
	slog.Info("Database connected", "driver", driver)

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	if err := db.EnsureAdmin(dbConn, cfg); err != nil {
		slog.Error("admin bootstrap failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready")

	store, err := storage.New(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		slog.Error("upload directory unavailable", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}

	m := metrics.New()
	aiClient := ai.NewClient(cfg.ChatServerURL, cfg.ChatServerToken)
	reports := report.NewService(dbConn, aiClient, store, m)
	deps := router.Deps{
		DB:       dbConn,
		Config:   cfg,
		Store:    store,
		Mail:     mailer.New(cfg.Mail),
		AI:       aiClient,
		Reports:  reports,
		Limiter:  ratelimit.NewSubmissionLimiter(),
		Banner:   ratelimit.NewNotFoundBanner(),
		Failures: ratelimit.NewFailureCounter(),
		Codes:    verify.NewStore(),
		Tickets:  verify.NewStore(),
		Metrics:  m,
	}

	sched := scheduler.New()
	if err := registerSweeps(sched, dbConn, deps); err != nil {
		slog.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}
	sched.Start()

	// Create server
	server := http.Server{
		Handler:           router.NewRouter(deps),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Wait for Ctrl-C signal
		<-ctrlc
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("graceful shutdown failed", "error", err)
			server.Close()
		}
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port, "tls", cfg.TLSCert != "")
	if cfg.TLSCert != "" {
		err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed", "error", err)
	}

	sched.Stop()
	reports.Shutdown()
}

// registerSweeps schedules the cleanup of expired in-memory and session state
func registerSweeps(s *scheduler.Scheduler, conn *sql.DB, d router.Deps) error {
	jobs := []struct {
		name string
		run  func() int64
	}{
		{"verification-codes", func() int64 {
			now := time.Now()
			return int64(d.Codes.Sweep(now) + d.Tickets.Sweep(now))
		}},
		{"submission-limiter", func() int64 { return int64(d.Limiter.Sweep(time.Now())) }},
		{"notfound-bans", func() int64 { return int64(d.Banner.Sweep(time.Now())) }},
		{"login-failures", func() int64 { return int64(d.Failures.Sweep(time.Now())) }},
		{"report-progress", func() int64 {
			return int64(d.Reports.Tracker().Sweep(time.Now().Add(-progressLifetime)))
		}},
		{"sessions", func() int64 {
			n, err := db.DeleteExpiredSessions(conn, db.Now())
			if err != nil {
				slog.Error("session sweep failed", "error", err)
			}
			return n
		}},
	}

	for _, job := range jobs {
		_, err := s.Every(job.name, sweepInterval, func() {
			if n := job.run(); n > 0 {
				slog.Debug("sweep finished", "job", job.name, "removed", n)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
