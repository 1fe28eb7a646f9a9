// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package watchdog keeps the server process alive. It runs the server as a
// child process, checks its home page on an interval and restarts it when
// the check fails twice in a row. Restarts are counted in a JSON state file.
package watchdog

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// maxWarmup caps the wait between starting the server and the first check
	maxWarmup = 30 * time.Second
	// killGrace is how long a terminated server gets before it is killed
	killGrace = 15 * time.Second
)

type Config struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	RetryDelay time.Duration
	StatePath  string
	Command    []string
}

// ConfigFromEnv reads the WATCHDOG_* variables
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:       envString("WATCHDOG_URL", "http://127.0.0.1:3318/"),
		StatePath: envString("WATCHDOG_STATE", "watchdog_refresh.json"),
		Command:   strings.Fields(envString("WATCHDOG_CMD", "./quickform")),
	}

	durations := []struct {
		key  string
		def  int
		dest *time.Duration
	}{
		{"WATCHDOG_INTERVAL", 300, &cfg.Interval},
		{"WATCHDOG_TIMEOUT", 15, &cfg.Timeout},
		{"WATCHDOG_RETRY_DELAY", 60, &cfg.RetryDelay},
	}
	for _, d := range durations {
		seconds := d.def
		if v := strings.TrimSpace(os.Getenv(d.key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Config{}, fmt.Errorf("invalid %s env variable", d.key)
			}
			seconds = n
		}
		*d.dest = time.Duration(seconds) * time.Second
	}

	if len(cfg.Command) == 0 {
		return Config{}, errors.New("WATCHDOG_CMD is empty")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// State is persisted after every successful check and every restart
type State struct {
	RefreshCount  int        `json:"refresh_count"`
	LastRefreshAt *time.Time `json:"last_refresh_at"`
	LastCheckOKAt *time.Time `json:"last_check_ok_at"`
}

// LoadState reads the state file. A missing file is an empty state.
func LoadState(path string) (State, error) {
	var s State
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes the state through a temporary file and a rename
func (s State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".watchdog-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Checker requests the health URL. Certificates are not verified since the
// server usually runs with a self-signed one.
type Checker struct {
	url    string
	client *http.Client
}

func NewChecker(url string, timeout time.Duration) *Checker {
	return &Checker{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Check succeeds only on a 200 response
func (c *Checker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

type Watchdog struct {
	cfg     Config
	start   Starter
	checker *Checker
	grace   time.Duration

	mu    sync.Mutex
	state State
}

// New loads the previous state. An unreadable state file is logged and
// replaced.
func New(cfg Config, start Starter) *Watchdog {
	state, err := LoadState(cfg.StatePath)
	if err != nil {
		slog.Warn("could not read watchdog state, starting fresh", "path", cfg.StatePath, "error", err)
	}
	return &Watchdog{
		cfg:     cfg,
		start:   start,
		checker: NewChecker(cfg.URL, cfg.Timeout),
		grace:   killGrace,
		state:   state,
	}
}

// State returns a copy of the current counters
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run starts the server and supervises it until ctx is cancelled, at which
// point the server is stopped. It fails only when the server cannot start.
func (w *Watchdog) Run(ctx context.Context) error {
	slog.Info("watchdog started",
		"url", w.cfg.URL,
		"interval", w.cfg.Interval,
		"timeout", w.cfg.Timeout,
		"refresh_count", w.State().RefreshCount,
	)

	for {
		child, err := w.start()
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		warmup := min(maxWarmup, w.cfg.Interval)
		slog.Info("server started", "warmup", warmup)

		if !w.supervise(ctx, child, warmup) {
			if err := child.Stop(w.grace); err != nil {
				slog.Error("failed to stop server", "error", err)
			}
			return nil
		}
	}
}

// supervise returns true when the server should be restarted and false when
// ctx was cancelled.
func (w *Watchdog) supervise(ctx context.Context, child Child, warmup time.Duration) bool {
	if !sleep(ctx, warmup) {
		return false
	}

	for {
		if !sleep(ctx, w.cfg.Interval) {
			return false
		}
		if exited(child) {
			slog.Warn("server exited, restarting")
			return true
		}
		if w.check(ctx) {
			continue
		}

		slog.Warn("health check failed, retrying", "delay", w.cfg.RetryDelay)
		if !sleep(ctx, w.cfg.RetryDelay) {
			return false
		}
		if exited(child) {
			slog.Warn("server exited, restarting")
			return true
		}
		if w.check(ctx) {
			slog.Info("retry passed, still monitoring")
			continue
		}

		count := w.recordRefresh()
		slog.Warn("retry failed, restarting server", "refresh_count", count)
		if err := child.Stop(w.grace); err != nil {
			slog.Error("failed to stop server", "error", err)
		}
		return true
	}
}

func (w *Watchdog) check(ctx context.Context) bool {
	if err := w.checker.Check(ctx); err != nil {
		slog.Debug("health check error", "error", err)
		return false
	}
	w.mu.Lock()
	now := time.Now()
	w.state.LastCheckOKAt = &now
	w.persist()
	w.mu.Unlock()
	return true
}

func (w *Watchdog) recordRefresh() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.state.RefreshCount++
	w.state.LastRefreshAt = &now
	w.persist()
	return w.state.RefreshCount
}

// persist must be called with mu held
func (w *Watchdog) persist() {
	if err := w.state.Save(w.cfg.StatePath); err != nil {
		slog.Error("failed to write watchdog state", "path", w.cfg.StatePath, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func exited(c Child) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
