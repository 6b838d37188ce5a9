// Package pdf is the document engine used by the report pipeline. Page text
// comes from MuPDF (go-fitz), the pure-Go ledongthuc/pdf reader or the unipdf
// extractor. Page copying and merging go through unipdf.
package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
)

var (
	ErrEmptyDocument   = errors.New("document has no pages")
	ErrNothingToMerge  = errors.New("no pages to merge")
	ErrPageOutOfRange  = errors.New("page index out of range")
	ErrUnknownTextMode = errors.New("unknown text engine")
	ErrLicenseRequired = errors.New("unipdf license key required to write documents")
)

// TextEngine names the backend used to read page text.
type TextEngine string

const (
	TextMuPDF  TextEngine = "mupdf"
	TextNative TextEngine = "native"
	TextUniPDF TextEngine = "unipdf"
)

// Document is an opened source document.
type Document interface {
	NumPages() int
	// PageText returns the plain text of page i (0-based), lines separated
	// by "\n".
	PageText(i int) (string, error)
	Close() error
}

// Skip records a merge input that could not be used.
type Skip struct {
	Path string
	Err  error
}

// MergeReport describes the outcome of a best-effort merge.
type MergeReport struct {
	Pages    int
	Included []string
	Skipped  []Skip
}

// Engine implements document opening, page extraction and merging.
type Engine struct {
	text TextEngine
}

var licenseOnce sync.Once

// NewEngine builds an engine and installs licenseKey as the unipdf metered key
// once per process. unipdf does not write unlicensed, so the key is required.
func NewEngine(text TextEngine, licenseKey string) (*Engine, error) {
	switch text {
	case "":
		text = TextMuPDF
	case TextMuPDF, TextNative, TextUniPDF:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTextMode, text)
	}

	if strings.TrimSpace(licenseKey) == "" {
		return nil, ErrLicenseRequired
	}

	var licErr error
	licenseOnce.Do(func() {
		licErr = license.SetMeteredKey(licenseKey)
	})
	if licErr != nil {
		return nil, fmt.Errorf("set unipdf license: %w", licErr)
	}
	return &Engine{text: text}, nil
}

// Open opens path for page-text access.
func (e *Engine) Open(path string) (Document, error) {
	switch e.text {
	case TextNative:
		return openNative(path)
	case TextUniPDF:
		return openUniPDF(path)
	default:
		return openMuPDF(path)
	}
}

// writeAtomic writes through a temporary sibling file and renames it into
// place, so a crash never leaves a truncated document under the final name.
func writeAtomic(dst string, write func(f *os.File) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))+"-*.partial")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}
