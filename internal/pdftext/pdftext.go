// Package pdftext pulls plain text out of uploaded requirement documents.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxFileBytes = 20 * 1024 * 1024
	// MaxTextRunes bounds the returned text.
	MaxTextRunes = 24000
	minRunLength = 24
)

// ErrNoText is returned when a document holds no extractable text, such
// as a scanned PDF without a text layer.
var ErrNoText = errors.New("no extractable text found")

type Result struct {
	Text      string
	Method    string
	Truncated bool
}

// pdfToText is swapped in tests.
var pdfToText = func(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Extract reads the PDF at path with pdftotext, falling back to the
// printable runs of the raw bytes.
func Extract(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	if info.Size() > MaxFileBytes {
		return Result{}, fmt.Errorf("pdf too large: %d bytes", info.Size())
	}

	if text, err := pdfToText(ctx, path); err == nil && strings.TrimSpace(text) != "" {
		return truncate(text, "pdftotext"), nil
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	fallback := printableText(blob)
	if fallback == "" {
		return Result{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
	}
	return truncate(fallback, "byte-fallback"), nil
}

// ReadDocument accepts .pdf, .txt and .md files.
func ReadDocument(ctx context.Context, path string) (Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return Extract(ctx, path)
	case ".txt", ".md", ".markdown", "":
		blob, err := os.ReadFile(path)
		if err != nil {
			return Result{}, err
		}
		if !utf8.Valid(blob) {
			return Result{}, fmt.Errorf("%s: not valid UTF-8 text", filepath.Base(path))
		}
		if strings.TrimSpace(string(blob)) == "" {
			return Result{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
		}
		return truncate(string(blob), "plain"), nil
	}
	return Result{}, fmt.Errorf("unsupported document type %q", filepath.Ext(path))
}

// printableText keeps runs of printable UTF-8 at least minRunLength runes
// long.
func printableText(blob []byte) string {
	var runs []string
	var b strings.Builder
	n := 0
	flush := func() {
		s := strings.TrimSpace(b.String())
		if n >= minRunLength && s != "" {
			runs = append(runs, s)
		}
		b.Reset()
		n = 0
	}
	for len(blob) > 0 {
		r, size := utf8.DecodeRune(blob)
		blob = blob[size:]
		if r != utf8.RuneError && (unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r') {
			b.WriteRune(r)
			n++
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(strings.Join(runs, "\n"))
}

func truncate(text, method string) Result {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= MaxTextRunes {
		return Result{Text: trimmed, Method: method}
	}
	return Result{
		Text:      string([]rune(trimmed)[:MaxTextRunes]) + "\n\n[TRUNCATED]",
		Method:    method,
		Truncated: true,
	}
}
