// Package pdftest provides a file-backed fake of the pdf engine. A fake
// document is a JSON file holding one text string per page, which keeps
// grouping, lookup and merge tests independent of native PDF libraries.
package pdftest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cbm/medreport/internal/platform/pdf"
)

type fileFormat struct {
	Pages []string `json:"pages"`
}

// Engine is a fake pdf engine. Opened counts Open calls per path.
type Engine struct {
	Opened map[string]int
}

func NewEngine() *Engine {
	return &Engine{Opened: make(map[string]int)}
}

type document struct {
	pages []string
}

func (d *document) NumPages() int { return len(d.pages) }

func (d *document) PageText(i int) (string, error) {
	if i < 0 || i >= len(d.pages) {
		return "", fmt.Errorf("%w: %d", pdf.ErrPageOutOfRange, i)
	}
	return d.pages[i], nil
}

func (d *document) Close() error { return nil }

func (e *Engine) Open(path string) (pdf.Document, error) {
	e.Opened[path]++
	pages, err := Read(path)
	if err != nil {
		return nil, err
	}
	return &document{pages: pages}, nil
}

func (e *Engine) ExtractPages(src string, pages []int, dst string) error {
	if len(pages) == 0 {
		return pdf.ErrNothingToMerge
	}
	all, err := Read(src)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if p < 0 || p >= len(all) {
			return fmt.Errorf("%w: %d", pdf.ErrPageOutOfRange, p)
		}
		out = append(out, all[p])
	}
	return Write(dst, out...)
}

func (e *Engine) Merge(dst string, srcs []string) (pdf.MergeReport, error) {
	var rep pdf.MergeReport
	var out []string
	for _, src := range srcs {
		pages, err := Read(src)
		if err != nil {
			rep.Skipped = append(rep.Skipped, pdf.Skip{Path: src, Err: err})
			continue
		}
		if len(pages) == 0 {
			rep.Skipped = append(rep.Skipped, pdf.Skip{Path: src, Err: pdf.ErrEmptyDocument})
			continue
		}
		out = append(out, pages...)
		rep.Pages += len(pages)
		rep.Included = append(rep.Included, src)
	}
	if rep.Pages == 0 {
		return rep, pdf.ErrNothingToMerge
	}
	return rep, Write(dst, out...)
}

// Write stores a fake document with the given page texts.
func Write(path string, pages ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if pages == nil {
		pages = []string{}
	}
	data, err := json.Marshal(fileFormat{Pages: pages})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads the page texts of a fake document.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.New("not a fake document: " + path)
	}
	return f.Pages, nil
}

// MustWrite is Write for tests.
func MustWrite(t testing.TB, path string, pages ...string) {
	t.Helper()
	if err := Write(path, pages...); err != nil {
		t.Fatalf("write fake document %s: %v", path, err)
	}
}

// MustRead is Read for tests.
func MustRead(t testing.TB, path string) []string {
	t.Helper()
	pages, err := Read(path)
	if err != nil {
		t.Fatalf("read fake document %s: %v", path, err)
	}
	return pages
}
