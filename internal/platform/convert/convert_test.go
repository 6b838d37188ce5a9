package convert

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/cbm/medreport/internal/platform/pdf"
	"github.com/cbm/medreport/internal/platform/pdf/pdftest"
)

// fakeOffice writes a shell script that mimics the converter's command line.
func fakeOffice(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter")
	}
	path := filepath.Join(t.TempDir(), "office")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const convertScript = `outdir=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) outdir="$2"; shift 2 ;;
    -*) shift ;;
    *) src="$1"; shift ;;
  esac
done
name=$(basename "$src" .xlsx)
echo "converted $name" > "$outdir/$name.pdf"`

func writeCover(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "1.xlsx")
	if err := os.WriteFile(src, []byte("xlsx"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestLibreOffice_Convert(t *testing.T) {
	lo := NewLibreOffice(fakeOffice(t, convertScript))
	src := writeCover(t)
	outDir := t.TempDir()
	out := filepath.Join(outDir, "cover_1.pdf")

	if err := lo.Convert(context.Background(), src, out); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "converted 1\n" {
		t.Errorf("unexpected output %q", data)
	}

	entries, _ := os.ReadDir(outDir)
	if len(entries) != 1 {
		t.Errorf("work directory left behind: %d entries", len(entries))
	}
}

func TestLibreOffice_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"non-zero exit", "echo 'source file could not be loaded' >&2; exit 3"},
		{"no output", "exit 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo := NewLibreOffice(fakeOffice(t, tt.script))
			err := lo.Convert(context.Background(), writeCover(t), filepath.Join(t.TempDir(), "out.pdf"))
			if !errors.Is(err, ErrConversion) {
				t.Fatalf("expected ErrConversion, got %v", err)
			}
		})
	}
}

func TestLibreOffice_MissingSource(t *testing.T) {
	lo := NewLibreOffice("libreoffice")
	err := lo.Convert(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"), filepath.Join(t.TempDir(), "out.pdf"))
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestNewLibreOffice_DefaultBinary(t *testing.T) {
	if lo := NewLibreOffice(""); lo.Bin != "libreoffice" {
		t.Errorf("Bin = %q", lo.Bin)
	}
}

func TestFitWidth(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 1400, 1000))
	got := fitWidth(wide, 700)
	if got.Bounds().Dx() != 700 || got.Bounds().Dy() != 500 {
		t.Errorf("resized to %v, want 700x500", got.Bounds())
	}

	narrow := image.NewRGBA(image.Rect(0, 0, 600, 800))
	if got := fitWidth(narrow, 700); got != image.Image(narrow) {
		t.Error("narrow image should be returned unchanged")
	}
	if got := fitWidth(wide, 0); got != image.Image(wide) {
		t.Error("zero max width disables resizing")
	}
}

func TestPageSize(t *testing.T) {
	size := pageSize(image.Rect(0, 0, 1100, 1400), 100)
	if size[0] != 792 || size[1] != 1008 {
		t.Errorf("page size = %v, want [792 1008]", size)
	}
	size = pageSize(image.Rect(0, 0, 700, 900), screenDPI)
	if size[0] != 700 || size[1] != 900 {
		t.Errorf("page size at 72 dpi = %v", size)
	}
}

func TestImagesToPDF_Errors(t *testing.T) {
	var im Images
	if err := im.ImagesToPDF(context.Background(), nil, filepath.Join(t.TempDir(), "rx.pdf"), 700); !errors.Is(err, ErrConversion) {
		t.Errorf("no images: expected ErrConversion, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := im.ImagesToPDF(context.Background(), []string{bad}, filepath.Join(t.TempDir(), "rx.pdf"), 700); !errors.Is(err, ErrConversion) {
		t.Errorf("bad image: expected ErrConversion, got %v", err)
	}
}

func TestRescale_Errors(t *testing.T) {
	var r Rescaler
	out := filepath.Join(t.TempDir(), "a.pdf")
	if err := r.Rescale(context.Background(), "in.pdf", out, 0, 1100); !errors.Is(err, ErrConversion) {
		t.Errorf("zero dpi: expected ErrConversion, got %v", err)
	}
	if err := r.Rescale(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), out, 100, 1100); !errors.Is(err, ErrConversion) {
		t.Errorf("missing input: expected ErrConversion, got %v", err)
	}
}

// licensed installs the unipdf key from the environment or skips t.
func licensed(t *testing.T) {
	t.Helper()
	if _, err := pdf.NewEngine(pdf.TextMuPDF, pdftest.LicenseKey(t)); err != nil {
		t.Fatalf("install license: %v", err)
	}
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 40, G: 40, B: 40, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

// pageWidths opens a written document and returns the width of every page
// in points.
func pageWidths(t *testing.T, path string) []int {
	t.Helper()
	doc, err := fitz.New(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer doc.Close()
	widths := make([]int, doc.NumPage())
	for i := range widths {
		b, err := doc.Bound(i)
		if err != nil {
			t.Fatalf("bound page %d: %v", i, err)
		}
		widths[i] = b.Dx()
	}
	return widths
}

func near(got, want int) bool { return got >= want-1 && got <= want+1 }

func TestImagesToPDF(t *testing.T) {
	licensed(t)
	dir := t.TempDir()
	wide := filepath.Join(dir, "01.png")
	narrow := filepath.Join(dir, "02.jpg")
	writeImage(t, wide, 1400, 1000)
	writeImage(t, narrow, 600, 800)

	out := filepath.Join(dir, "scratch", "rx_12345678.pdf")
	if err := NewImages().ImagesToPDF(context.Background(), []string{wide, narrow}, out, 700); err != nil {
		t.Fatalf("ImagesToPDF: %v", err)
	}
	widths := pageWidths(t, out)
	if len(widths) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(widths))
	}
	if !near(widths[0], 700) || !near(widths[1], 600) {
		t.Errorf("page widths = %v, want [700 600]", widths)
	}
}

func TestRescale(t *testing.T) {
	licensed(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "12345678.pdf")
	pdftest.MustWritePDF(t, in, "audiometria tonal", "logoaudiometria")

	out := filepath.Join(dir, "audiometria_12345678.pdf")
	if err := NewRescaler().Rescale(context.Background(), in, out, 100, 1100); err != nil {
		t.Fatalf("Rescale: %v", err)
	}
	widths := pageWidths(t, out)
	if len(widths) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(widths))
	}
	// 612pt at 100 dpi renders 850px wide, below the cap, and maps back to 612pt.
	for i, w := range widths {
		if !near(w, 612) {
			t.Errorf("page %d width = %d, want 612", i+1, w)
		}
	}
}

func TestRescale_CapsWidth(t *testing.T) {
	licensed(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "12345678.pdf")
	pdftest.MustWritePDF(t, in, "audiometria")

	out := filepath.Join(dir, "audiometria_12345678.pdf")
	if err := NewRescaler().Rescale(context.Background(), in, out, 100, 425); err != nil {
		t.Fatalf("Rescale: %v", err)
	}
	// 850px capped to 425px, laid out at 100 dpi: 306pt.
	if widths := pageWidths(t, out); len(widths) != 1 || !near(widths[0], 306) {
		t.Errorf("page widths = %v, want [306]", widths)
	}
}
