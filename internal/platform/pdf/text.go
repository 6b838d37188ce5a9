package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	ledpdf "github.com/ledongthuc/pdf"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

type mupdfDocument struct {
	doc *fitz.Document
}

func openMuPDF(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &mupdfDocument{doc: doc}, nil
}

func (d *mupdfDocument) NumPages() int { return d.doc.NumPage() }

func (d *mupdfDocument) PageText(i int) (string, error) {
	if i < 0 || i >= d.doc.NumPage() {
		return "", fmt.Errorf("%w: %d", ErrPageOutOfRange, i)
	}
	text, err := d.doc.Text(i)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", i+1, err)
	}
	return text, nil
}

func (d *mupdfDocument) Close() error { return d.doc.Close() }

// nativeDocument reads text with ledongthuc/pdf. Text is rebuilt row by row so
// that line-oriented rules keep working.
type nativeDocument struct {
	f *os.File
	r *ledpdf.Reader
}

func openNative(path string) (Document, error) {
	f, r, err := ledpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &nativeDocument{f: f, r: r}, nil
}

func (d *nativeDocument) NumPages() int { return d.r.NumPage() }

func (d *nativeDocument) PageText(i int) (string, error) {
	if i < 0 || i >= d.r.NumPage() {
		return "", fmt.Errorf("%w: %d", ErrPageOutOfRange, i)
	}
	p := d.r.Page(i + 1)
	if p.V.IsNull() {
		return "", nil
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", i+1, err)
	}
	var b strings.Builder
	for _, row := range rows {
		for _, word := range row.Content {
			b.WriteString(word.S)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (d *nativeDocument) Close() error { return d.f.Close() }

type unipdfDocument struct {
	f      *os.File
	reader *model.PdfReader
	pages  int
}

func openUniPDF(path string) (Document, error) {
	reader, f, err := openReader(path)
	if err != nil {
		return nil, err
	}
	n, err := reader.GetNumPages()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("count pages of %s: %w", path, err)
	}
	return &unipdfDocument{f: f, reader: reader, pages: n}, nil
}

func (d *unipdfDocument) NumPages() int { return d.pages }

func (d *unipdfDocument) PageText(i int) (string, error) {
	if i < 0 || i >= d.pages {
		return "", fmt.Errorf("%w: %d", ErrPageOutOfRange, i)
	}
	page, err := d.reader.GetPage(i + 1)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", i+1, err)
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", fmt.Errorf("page %d extractor: %w", i+1, err)
	}
	text, err := ex.ExtractText()
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", i+1, err)
	}
	return text, nil
}

func (d *unipdfDocument) Close() error { return d.f.Close() }
