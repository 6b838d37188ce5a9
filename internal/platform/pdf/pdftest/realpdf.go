package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WritePDF writes a genuine PDF with one Helvetica page per entry of pages.
// Lines of a page are separated by "\n". It is built by hand so fixtures
// exist without any licensed writer.
func WritePDF(path string, pages ...string) error {
	if len(pages) == 0 {
		return fmt.Errorf("pdftest: no pages for %s", path)
	}
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	// 1 catalog, 2 page tree, 3 font, then a page and a content object per page.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := contentStream(text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func contentStream(text string) string {
	var b strings.Builder
	b.WriteString("BT /F1 12 Tf 16 TL 72 720 Td")
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteString(" T*")
		}
		fmt.Fprintf(&b, " (%s) Tj", escapeString(line))
	}
	b.WriteString(" ET")
	return b.String()
}

func escapeString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}

// MustWritePDF is WritePDF for tests.
func MustWritePDF(t testing.TB, path string, pages ...string) {
	t.Helper()
	if err := WritePDF(path, pages...); err != nil {
		t.Fatalf("write pdf %s: %v", path, err)
	}
}

// LicenseKey returns UNIDOC_LICENSE_KEY or skips t when it is unset.
func LicenseKey(t testing.TB) string {
	t.Helper()
	key := os.Getenv("UNIDOC_LICENSE_KEY")
	if key == "" {
		t.Skip("UNIDOC_LICENSE_KEY not set; unipdf does not write unlicensed")
	}
	return key
}
