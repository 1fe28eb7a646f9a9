// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package storage manages uploaded files on local disk.

Form pages (html, htm) and certification documents (png, jpg, jpeg, pdf) are
saved under a UUID prefix so names never collide:

	saved, err := store.SaveHTML("survey.html", content)
	// saved == "3f1c...-..._survey.html"

Stored names are flat; Path rejects anything containing a directory.

Pages served back to respondents go through InjectScript, which adds the
embedded form-enhancements.js. Pages that have not been approved are
replaced by ReviewGatePage.
*/
package storage
