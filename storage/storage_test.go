// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielhkuo/quickform/models"
)

func newTestStore(t *testing.T, max int64) *Store {
	t.Helper()
	s, err := New(t.TempDir(), max)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"survey.html", "survey.html"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\form.htm`, "form.htm"},
		{"my form (1).html", "my_form_1.html"},
		{".hidden.html", "hidden.html"},
		{"问卷.html", "问卷.html"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeName(tt.in); got != tt.want {
				t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSaveHTML(t *testing.T) {
	s := newTestStore(t, 1024)

	saved, err := s.SaveHTML("Survey.HTML", []byte("<html></html>"))
	if err != nil {
		t.Fatalf("SaveHTML failed: %v", err)
	}
	if !strings.HasSuffix(saved, "_Survey.HTML") {
		t.Errorf("Expected original name suffix, got %s", saved)
	}

	got, err := s.ReadHTML(saved)
	if err != nil {
		t.Fatalf("ReadHTML failed: %v", err)
	}
	if got != "<html></html>" {
		t.Errorf("Unexpected content %q", got)
	}

	// Names never collide
	other, _ := s.SaveHTML("Survey.HTML", []byte("x"))
	if other == saved {
		t.Error("Expected distinct stored names")
	}
}

func TestSaveHTMLErrors(t *testing.T) {
	s := newTestStore(t, 8)

	tests := []struct {
		name    string
		file    string
		content []byte
		want    error
	}{
		{"wrong extension", "form.php", []byte("x"), ErrUnsupportedExtension},
		{"empty", "form.html", nil, ErrEmptyFile},
		{"too large", "form.html", bytes.Repeat([]byte("a"), 9), ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SaveHTML(tt.file, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveCertification(t *testing.T) {
	s := newTestStore(t, 16)

	saved, err := s.SaveCertification("cert.PDF", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("SaveCertification failed: %v", err)
	}
	f, err := s.Open(saved)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.Close()

	if _, err := s.SaveCertification("cert.exe", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedExtension) {
		t.Errorf("Expected ErrUnsupportedExtension, got %v", err)
	}
	if _, err := s.SaveCertification("big.png", strings.NewReader(strings.Repeat("a", 17))); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}

	// Oversized upload must not leave a partial file behind
	entries, _ := os.ReadDir(s.Dir())
	files := 0
	for _, e := range entries {
		if !e.IsDir() {
			files++
		}
	}
	if files != 1 {
		t.Errorf("Expected only the valid upload on disk, found %d files", files)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s := newTestStore(t, 16)
	for _, name := range []string{"", "../x.html", "a/b.html", ".env"} {
		if _, err := s.Path(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Path(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestRemoveAndSize(t *testing.T) {
	s := newTestStore(t, 1024)
	saved, _ := s.SaveHTML("a.html", []byte("12345"))
	os.WriteFile(filepath.Join(s.ReportsDir(), "r.md"), []byte("123"), 0o644)

	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 8 {
		t.Errorf("Expected 8 bytes, got %d", size)
	}

	if err := s.Remove(saved); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.Remove(saved); err != nil {
		t.Errorf("Removing a missing file should succeed, got %v", err)
	}
}

func TestLimitText(t *testing.T) {
	s := newTestStore(t, 16<<20)
	if got := s.LimitText(); got != "16 MiB" {
		t.Errorf("Expected 16 MiB, got %s", got)
	}
}

func TestInjectScript(t *testing.T) {
	const url = "https://example.com/static/js/form-enhancements.js"
	tag := `<script src="` + url + `"></script>`

	tests := []struct {
		name string
		page string
		want string
	}{
		{
			"before head",
			"<html><head><title>x</title></head><body></body></html>",
			"<html><head><title>x</title>" + tag + "\n</head><body></body></html>",
		},
		{
			"before body",
			"<html><body><p>x</p></body></html>",
			"<html><body><p>x</p>" + tag + "\n</body></html>",
		},
		{
			"appended",
			"<p>fragment</p>",
			"<p>fragment</p>\n" + tag + "\n",
		},
		{
			"first head only",
			"<head></head><template></head></template>",
			"<head>" + tag + "\n</head><template></head></template>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InjectScript(tt.page, url); got != tt.want {
				t.Errorf("InjectScript() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestReviewGatePage(t *testing.T) {
	pending := ReviewGatePage(models.ReviewPending, "")
	if !strings.Contains(pending, "Under review") {
		t.Error("Pending page should say it is under review")
	}

	rejected := ReviewGatePage(models.ReviewRejected, `<script>alert(1)</script>`)
	if strings.Contains(rejected, "<script>alert(1)</script>") {
		t.Error("Reviewer note must be escaped")
	}
	if !strings.Contains(rejected, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Errorf("Expected escaped note in page, got %s", rejected)
	}

	noReason := ReviewGatePage(models.ReviewRejected, "")
	if !strings.Contains(noReason, "No reason was given") {
		t.Error("Rejected page without a note should say so")
	}
}

func TestEmbeddedScript(t *testing.T) {
	if !bytes.Contains(FormEnhancementsJS, []byte("table-zoom-wrapper")) {
		t.Error("Embedded enhancement script looks wrong")
	}
}
