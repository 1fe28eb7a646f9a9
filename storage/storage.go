// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedExtension = errors.New("unsupported file type")
	ErrTooLarge             = errors.New("file too large")
	ErrInvalidName          = errors.New("invalid file name")
	ErrEmptyFile            = errors.New("file is empty")
)

// MaxHTMLFiles is the most pages one task may carry in html_files
const MaxHTMLFiles = 10

var (
	htmlExtensions = []string{"html", "htm"}
	certExtensions = []string{"png", "jpg", "jpeg", "pdf"}
)

// Store keeps uploaded files in a single flat directory
type Store struct {
	dir      string
	maxBytes int64
}

// New creates the upload directory (and its reports subdirectory) if needed
func New(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "reports"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ReportsDir holds generated Markdown reports
func (s *Store) ReportsDir() string {
	return filepath.Join(s.dir, "reports")
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// LimitText is the upload limit in human form, e.g. "16 MiB"
func (s *Store) LimitText() string {
	return humanize.IBytes(uint64(s.maxBytes))
}

// Extension returns the lower-cased extension without the dot
func Extension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func IsHTML(name string) bool {
	return hasExtension(name, htmlExtensions)
}

func IsCertificationFile(name string) bool {
	return hasExtension(name, certExtensions)
}

func hasExtension(name string, allowed []string) bool {
	ext := Extension(name)
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// SafeName strips directories and characters that are unsafe in a file name.
// Letters in any script are kept.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

// SaveHTML stores an uploaded form page and returns the stored name
func (s *Store) SaveHTML(name string, content []byte) (string, error) {
	if !IsHTML(name) {
		return "", ErrUnsupportedExtension
	}
	if len(content) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(content)) > s.maxBytes {
		return "", fmt.Errorf("%w: limit is %s", ErrTooLarge, s.LimitText())
	}
	saved, err := s.savedName(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, saved), content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return saved, nil
}

// SaveCertification stores a certificate image or PDF read from r
func (s *Store) SaveCertification(name string, r io.Reader) (string, error) {
	if !IsCertificationFile(name) {
		return "", ErrUnsupportedExtension
	}
	saved, err := s.savedName(name)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, saved)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	case n > s.maxBytes:
		os.Remove(path)
		return "", fmt.Errorf("%w: limit is %s", ErrTooLarge, s.LimitText())
	case n == 0:
		os.Remove(path)
		return "", ErrEmptyFile
	}
	return saved, nil
}

// savedName prefixes the sanitized base name with a UUID
func (s *Store) savedName(name string) (string, error) {
	base := SafeName(name)
	if base == "" || Extension(base) == "" {
		return "", ErrInvalidName
	}
	return uuid.NewString() + "_" + base, nil
}

// Path resolves a stored name inside the upload directory
func (s *Store) Path(saved string) (string, error) {
	if saved == "" || saved != filepath.Base(saved) || strings.HasPrefix(saved, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, saved), nil
}

// Open opens a stored file for reading
func (s *Store) Open(saved string) (*os.File, error) {
	path, err := s.Path(saved)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// ReadHTML returns a stored page as text
func (s *Store) ReadHTML(saved string) (string, error) {
	path, err := s.Path(saved)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(saved string) error {
	path, err := s.Path(saved)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}

// Size walks the upload directory and totals file sizes
func (s *Store) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size upload directory: %w", err)
	}
	return total, nil
}
