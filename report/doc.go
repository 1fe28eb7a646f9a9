// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package report runs AI analysis in the background and tracks its progress.

StartAnalysis returns immediately; clients poll Status until the run is
completed or failed:

	if err := svc.StartAnalysis(taskID, cfg, prompt); errors.Is(err, report.ErrAlreadyRunning) {
		// 409
	}
	status, _ := svc.Status(taskID)

Progress lives in a Tracker guarded by one mutex. Once the tracker has
forgotten a task, Status falls back to the report stored in the database.
Completed reports are also written to <upload dir>/reports as Markdown.
*/
package report
