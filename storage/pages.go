// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"bytes"
	_ "embed"
	"html/template"
	"strings"

	"github.com/danielhkuo/quickform/models"
)

// EnhancementScriptPath is where the router serves FormEnhancementsJS
const EnhancementScriptPath = "/static/js/form-enhancements.js"

//go:embed static/form-enhancements.js
var FormEnhancementsJS []byte

// InjectScript adds a script tag for scriptURL before </head>, else before
// </body>, else at the end of the document. Only the first match is used.
func InjectScript(page, scriptURL string) string {
	tag := `<script src="` + template.HTMLEscapeString(scriptURL) + `"></script>`
	for _, marker := range []string{"</head>", "</body>"} {
		if i := strings.Index(page, marker); i >= 0 {
			return page[:i] + tag + "\n" + page[i:]
		}
	}
	return page + "\n" + tag + "\n"
}

var gateTemplate = template.Must(template.New("gate").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               display: flex; justify-content: center; align-items: center;
               min-height: 100vh; margin: 0; background-color: #f5f5f5; padding: 16px; }
        .container { max-width: 520px; text-align: center; padding: 40px; background: white;
                     border-radius: 12px; box-shadow: 0 12px 32px rgba(15, 23, 42, 0.1); }
        h1 { color: #333; margin-bottom: 16px; font-size: 24px; }
        p { color: #555; margin-top: 12px; line-height: 1.6; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Icon}} {{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>
`))

type gateData struct {
	Title   string
	Icon    string
	Message string
}

// ReviewGatePage renders the page shown in place of a form that has not
// been approved. The reviewer note is escaped.
func ReviewGatePage(status int, note string) string {
	data := gateData{
		Title:   "Under review",
		Icon:    "⏳",
		Message: "This page is waiting for administrator review and will be available once approved.",
	}
	if status == models.ReviewRejected {
		if note == "" {
			note = "No reason was given"
		}
		data = gateData{
			Title:   "Review rejected",
			Icon:    "❌",
			Message: "This page did not pass review. Reason: " + note,
		}
	}

	var buf bytes.Buffer
	// Execute only fails on a bad template or writer; both are static here
	gateTemplate.Execute(&buf, data)
	return buf.String()
}
