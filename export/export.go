// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package export builds Excel workbooks of submissions and users.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/danielhkuo/quickform/models"
)

// ContentType is the MIME type of an xlsx workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	submittedAtColumn = "submitted_at"
	rawDataColumn     = "raw_data"
	timeLayout        = "2006-01-02 15:04:05"
)

// payloadKeys returns the top-level keys of a JSON object in document order.
// Double-encoded payloads are unwrapped first.
func payloadKeys(raw string) ([]string, bool) {
	data := []byte(raw)
	var s string
	if json.Unmarshal(data, &s) == nil {
		data = []byte(s)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, false
		}
		keys = append(keys, key)
	}
	return keys, true
}

// cellValue flattens a decoded JSON value for a spreadsheet cell
func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case string, float64, bool:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// Submissions writes one row per submission. Column A is the submission
// time; the remaining columns are the union of payload keys in first-seen
// order. Payloads that are not JSON objects go in raw_data.
func Submissions(rows []models.Submission) (*bytes.Buffer, error) {
	var columns []string
	seen := map[string]bool{}
	addColumn := func(k string) {
		if !seen[k] {
			seen[k] = true
			columns = append(columns, k)
		}
	}

	decoded := make([]map[string]any, len(rows))
	for i, s := range rows {
		obj, ok := models.DecodePayload(s.Data)
		if !ok {
			decoded[i] = map[string]any{rawDataColumn: s.Data}
			addColumn(rawDataColumn)
			continue
		}
		decoded[i] = obj
		keys, _ := payloadKeys(s.Data)
		for _, k := range keys {
			addColumn(k)
		}
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Submissions"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, 0, len(columns)+1)
	header = append(header, submittedAtColumn)
	for _, c := range columns {
		header = append(header, c)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, s := range rows {
		row := make([]any, 0, len(columns)+1)
		row = append(row, s.SubmittedAt.UTC().Format(timeLayout))
		for _, c := range columns {
			row = append(row, cellValue(decoded[i][c]))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return f.WriteToBuffer()
}

// UserRow is one user with activity counts
type UserRow struct {
	User            models.User
	TaskCount       int
	SubmissionCount int
}

// Users writes a user sheet and a per-school summary sheet
func Users(rows []UserRow) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const usersSheet = "Users"
	if err := f.SetSheetName("Sheet1", usersSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	header := []any{"id", "username", "email", "phone", "school", "role", "certified", "task_limit", "tasks", "submissions", "created_at"}
	if err := f.SetSheetRow(usersSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	type schoolTotals struct {
		users, tasks, submissions int
	}
	schools := map[string]*schoolTotals{}

	for i, r := range rows {
		u := r.User
		row := []any{u.ID, u.Username, u.Email, u.Phone, u.School, u.Role, u.IsCertified, u.TaskLimit,
			r.TaskCount, r.SubmissionCount, u.CreatedAt.UTC().Format(timeLayout)}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(usersSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write user row: %w", err)
		}

		school := strings.TrimSpace(u.School)
		if school == "" {
			school = "(none)"
		}
		st, ok := schools[school]
		if !ok {
			st = &schoolTotals{}
			schools[school] = st
		}
		st.users++
		st.tasks += r.TaskCount
		st.submissions += r.SubmissionCount
	}

	const schoolSheet = "Schools"
	if _, err := f.NewSheet(schoolSheet); err != nil {
		return nil, fmt.Errorf("failed to add sheet: %w", err)
	}
	schoolHeader := []any{"school", "users", "tasks", "submissions"}
	if err := f.SetSheetRow(schoolSheet, "A1", &schoolHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	names := make([]string, 0, len(schools))
	for name := range schools {
		names = append(names, name)
	}
	// Most users first, then by name
	sort.Slice(names, func(i, j int) bool {
		a, b := schools[names[i]], schools[names[j]]
		if a.users != b.users {
			return a.users > b.users
		}
		return names[i] < names[j]
	})
	for i, name := range names {
		st := schools[name]
		row := []any{name, st.users, st.tasks, st.submissions}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(schoolSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write school row: %w", err)
		}
	}

	return f.WriteToBuffer()
}

// FileName builds "<title>_export_<YYYYmmdd_HHMMSS>.xlsx"
func FileName(title string, now time.Time) string {
	title = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if title == "" {
		title = "task"
	}
	return fmt.Sprintf("%s_export_%s.xlsx", title, now.Format("20060102_150405"))
}

// ContentDisposition returns an attachment header with an ASCII fallback and
// an RFC 5987 UTF-8 name
func ContentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, encodeExtValue(name))
}

// encodeExtValue percent-encodes every byte outside the RFC 5987 attr-char set
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
