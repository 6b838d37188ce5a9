package convert

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/unidoc/unipdf/v3/core"
	"github.com/unidoc/unipdf/v3/creator"
)

const (
	screenDPI   = 72
	jpegQuality = 95
)

// Images turns ordered image files into a document, one image per page.
type Images struct{}

func NewImages() *Images { return &Images{} }

// ImagesToPDF applies EXIF orientation, caps the width at maxWidth pixels and
// writes one page per image to out.
func (Images) ImagesToPDF(ctx context.Context, paths []string, out string, maxWidth int) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no images", ErrConversion)
	}
	imgs := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrConversion, filepath.Base(p), err)
		}
		imgs = append(imgs, fitWidth(img, maxWidth))
	}
	return writeImages(imgs, out, screenDPI)
}

// Rescaler re-renders every page of a document as an image.
type Rescaler struct{}

func NewRescaler() *Rescaler { return &Rescaler{} }

// Rescale rasterizes in at dpi, caps each page at maxWidth pixels and writes
// the images to out with page sizes matching dpi.
func (Rescaler) Rescale(ctx context.Context, in, out string, dpi, maxWidth int) error {
	if dpi <= 0 {
		return fmt.Errorf("%w: invalid dpi %d", ErrConversion, dpi)
	}
	doc, err := fitz.New(in)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConversion, filepath.Base(in), err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return fmt.Errorf("%w: %s has no pages", ErrConversion, filepath.Base(in))
	}
	imgs := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return fmt.Errorf("%w: render page %d of %s: %v", ErrConversion, i+1, filepath.Base(in), err)
		}
		imgs = append(imgs, fitWidth(img, maxWidth))
	}
	return writeImages(imgs, out, float64(dpi))
}

// fitWidth downsizes img to maxWidth keeping the aspect ratio. Narrower
// images and a non-positive maxWidth leave img unchanged.
func fitWidth(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}

// pageSize converts pixel dimensions at dpi to PDF points.
func pageSize(b image.Rectangle, dpi float64) creator.PageSize {
	return creator.PageSize{
		float64(b.Dx()) * 72 / dpi,
		float64(b.Dy()) * 72 / dpi,
	}
}

func writeImages(imgs []image.Image, out string, dpi float64) error {
	c := creator.New()
	c.SetPageMargins(0, 0, 0, 0)

	for i, goImg := range imgs {
		img, err := c.NewImageFromGoImage(goImg)
		if err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrConversion, i+1, err)
		}
		enc := core.NewDCTEncoder()
		enc.Quality = jpegQuality
		enc.Width = goImg.Bounds().Dx()
		enc.Height = goImg.Bounds().Dy()
		img.SetEncoder(enc)

		size := pageSize(goImg.Bounds(), dpi)
		c.SetPageSize(size)
		c.NewPage()
		img.SetPos(0, 0)
		img.ScaleToWidth(size[0])
		if err := c.Draw(img); err != nil {
			return fmt.Errorf("%w: draw page %d: %v", ErrConversion, i+1, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if err := c.WriteToFile(out); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConversion, filepath.Base(out), err)
	}
	return nil
}
