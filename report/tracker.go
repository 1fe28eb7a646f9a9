// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package report

import (
	"sync"
	"time"

	"github.com/danielhkuo/quickform/models"
)

// Progress is the live state of one background analysis
type Progress struct {
	Status    string
	Percent   int
	Message   string
	Report    string
	UpdatedAt time.Time
}

// Tracker records progress per task behind one mutex
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]Progress
	now   func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		tasks: make(map[string]Progress),
		now:   time.Now,
	}
}

// Start marks taskID as running. It returns false if a run is already in progress.
func (t *Tracker) Start(taskID, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.tasks[taskID]; ok && p.Status == models.ReportInProgress {
		return false
	}
	t.tasks[taskID] = Progress{
		Status:    models.ReportInProgress,
		Message:   message,
		UpdatedAt: t.now(),
	}
	return true
}

func (t *Tracker) Update(taskID string, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tasks[taskID]
	if !ok || p.Status != models.ReportInProgress {
		return
	}
	p.Percent = percent
	p.Message = message
	p.UpdatedAt = t.now()
	t.tasks[taskID] = p
}

func (t *Tracker) Complete(taskID, report string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[taskID] = Progress{
		Status:    models.ReportCompleted,
		Percent:   100,
		Message:   "done",
		Report:    report,
		UpdatedAt: t.now(),
	}
}

func (t *Tracker) Fail(taskID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[taskID] = Progress{
		Status:    models.ReportError,
		Message:   message,
		UpdatedAt: t.now(),
	}
}

func (t *Tracker) Get(taskID string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.tasks[taskID]
	return p, ok
}

// Sweep forgets finished runs last updated before cutoff.
// Runs still in progress are kept.
func (t *Tracker) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, p := range t.tasks {
		if p.Status != models.ReportInProgress && p.UpdatedAt.Before(cutoff) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}
