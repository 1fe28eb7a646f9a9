// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danielhkuo/quickform/models"
)

// Prompt caps
const (
	MaxPromptHTMLChars = 8000
	MaxPromptRows      = 200
)

// DefaultInstructions are used when the task has no user template
const DefaultInstructions = `You are a data analyst. Using the form and the submissions below, write a report in Markdown with:
1. An overview of who responded and how many
2. Key statistics for each question or field
3. Notable patterns, outliers, or correlations
4. Concrete conclusions and recommendations`

type PromptInput struct {
	Task         models.Task
	Submissions  []models.Submission
	HTML         string
	UserTemplate string
}

var countPattern = regexp.MustCompile(`Total submissions:\s*(\d+)`)

// SubmissionCountFromPrompt extracts the submission count recorded in a
// previously built prompt
func SubmissionCountFromPrompt(prompt string) (int, bool) {
	m := countPattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NeedsRegeneration reports whether a stored prompt is stale for count
// submissions. An empty prompt is stale; one without a count line was
// written by hand and is kept.
func NeedsRegeneration(stored string, count int) bool {
	if strings.TrimSpace(stored) == "" {
		return true
	}
	saved, ok := SubmissionCountFromPrompt(stored)
	return ok && saved != count
}

func truncateRunes(s string, max int) (string, bool) {
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}

// BuildAnalysisPrompt assembles the full analysis prompt for a task
func BuildAnalysisPrompt(in PromptInput) string {
	var b strings.Builder

	instructions := strings.TrimSpace(in.UserTemplate)
	if instructions == "" {
		instructions = DefaultInstructions
	}
	b.WriteString(instructions)
	b.WriteString("\n\n## Task\n")
	fmt.Fprintf(&b, "Title: %s\n", in.Task.Title)
	if d := strings.TrimSpace(in.Task.Description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}
	fmt.Fprintf(&b, "Total submissions: %d\n", len(in.Submissions))

	if html := strings.TrimSpace(in.HTML); html != "" {
		excerpt, cut := truncateRunes(html, MaxPromptHTMLChars)
		b.WriteString("\n## Form page\n```html\n")
		b.WriteString(excerpt)
		b.WriteString("\n```\n")
		if cut {
			fmt.Fprintf(&b, "(form page truncated to %d characters)\n", MaxPromptHTMLChars)
		}
	}

	b.WriteString("\n## Submissions (one JSON object per line)\n")
	rows := in.Submissions
	if len(rows) > MaxPromptRows {
		rows = rows[:MaxPromptRows]
	}
	for _, s := range rows {
		b.WriteString(strings.TrimSpace(s.Data))
		b.WriteByte('\n')
	}
	if len(in.Submissions) > MaxPromptRows {
		fmt.Fprintf(&b, "(showing the first %d of %d submissions)\n", MaxPromptRows, len(in.Submissions))
	}
	if len(in.Submissions) == 0 {
		b.WriteString("(no submissions yet)\n")
	}

	return b.String()
}

// BuildHTMLReviewPrompt asks for a short description of an uploaded form page
func BuildHTMLReviewPrompt(html string) string {
	excerpt, _ := truncateRunes(strings.TrimSpace(html), MaxPromptHTMLChars)
	return `Describe the HTML form below in Markdown. List:
1. The purpose of the form
2. Every field it collects, with its type and allowed values
3. How it submits data (the endpoint and payload shape)
4. Any usability or data-quality problems

` + "```html\n" + excerpt + "\n```\n"
}
