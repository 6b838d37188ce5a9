package pdf_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cbm/medreport/internal/platform/pdf"
	"github.com/cbm/medreport/internal/platform/pdf/pdftest"
)

func pageTexts(t *testing.T, e *pdf.Engine, path string) []string {
	t.Helper()
	doc, err := e.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer doc.Close()
	texts := make([]string, doc.NumPages())
	for i := range texts {
		if texts[i], err = doc.PageText(i); err != nil {
			t.Fatalf("page %d of %s: %v", i, path, err)
		}
	}
	return texts
}

func TestPageText_RealDocument(t *testing.T) {
	src := filepath.Join(t.TempDir(), "LABORATORIO.pdf")
	pdftest.MustWritePDF(t, src,
		"Informe de laboratorio DNI 12.345.678",
		"Nombre: ANA GOMEZ\nFECHA 02/05/2024",
	)

	for _, mode := range []pdf.TextEngine{pdf.TextMuPDF, pdf.TextNative} {
		t.Run(string(mode), func(t *testing.T) {
			texts := pageTexts(t, pdf.TextOnly(mode), src)
			if len(texts) != 2 {
				t.Fatalf("expected 2 pages, got %d", len(texts))
			}
			if !strings.Contains(texts[0], "12.345.678") {
				t.Errorf("page 1 text %q lacks the ID", texts[0])
			}
			if !strings.Contains(texts[1], "GOMEZ") || !strings.Contains(texts[1], "FECHA") {
				t.Errorf("page 2 text %q lacks name and date", texts[1])
			}
		})
	}
}

func TestPageText_OutOfRange(t *testing.T) {
	src := filepath.Join(t.TempDir(), "one.pdf")
	pdftest.MustWritePDF(t, src, "only page")

	for _, mode := range []pdf.TextEngine{pdf.TextMuPDF, pdf.TextNative} {
		doc, err := pdf.TextOnly(mode).Open(src)
		if err != nil {
			t.Fatalf("%s open: %v", mode, err)
		}
		if _, err := doc.PageText(1); !errors.Is(err, pdf.ErrPageOutOfRange) {
			t.Errorf("%s: expected ErrPageOutOfRange, got %v", mode, err)
		}
		doc.Close()
	}
}

func TestPageText_UniPDF(t *testing.T) {
	e, err := pdf.NewEngine(pdf.TextUniPDF, pdftest.LicenseKey(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	src := filepath.Join(t.TempDir(), "EEG.pdf")
	pdftest.MustWritePDF(t, src, "Nombre: JUAN PEREZ FECHA 02/05/2024")

	texts := pageTexts(t, e, src)
	if len(texts) != 1 || !strings.Contains(texts[0], "JUAN PEREZ") {
		t.Errorf("unexpected text %q", texts)
	}
}

func TestExtractPages_RealDocument(t *testing.T) {
	e, err := pdf.NewEngine(pdf.TextMuPDF, pdftest.LicenseKey(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "bulk.pdf")
	pdftest.MustWritePDF(t, src, "page one", "page two", "page three")

	dst := filepath.Join(dir, "split", "12345678.pdf")
	if err := e.ExtractPages(src, []int{0, 2}, dst); err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	texts := pageTexts(t, e, dst)
	if len(texts) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "one") || !strings.Contains(texts[1], "three") {
		t.Errorf("pages out of order: %q", texts)
	}

	if err := e.ExtractPages(src, []int{3}, filepath.Join(dir, "bad.pdf")); !errors.Is(err, pdf.ErrPageOutOfRange) {
		t.Errorf("expected ErrPageOutOfRange, got %v", err)
	}
}

func TestMerge_RealDocuments(t *testing.T) {
	e, err := pdf.NewEngine(pdf.TextMuPDF, pdftest.LicenseKey(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover_1.pdf")
	lab := filepath.Join(dir, "12345678.pdf")
	pdftest.MustWritePDF(t, cover, "cover")
	pdftest.MustWritePDF(t, lab, "lab page 1", "lab page 2")
	missing := filepath.Join(dir, "missing.pdf")

	dst := filepath.Join(dir, "out", "GOMEZ_12345678.pdf")
	rep, err := e.Merge(dst, []string{cover, missing, lab})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rep.Pages != 3 || len(rep.Included) != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Path != missing {
		t.Errorf("expected the missing input skipped, got %+v", rep.Skipped)
	}

	texts := pageTexts(t, e, dst)
	if len(texts) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "cover") || !strings.Contains(texts[2], "lab page 2") {
		t.Errorf("unexpected page order %q", texts)
	}
}
