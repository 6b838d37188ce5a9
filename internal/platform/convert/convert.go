// Package convert wraps the external conversions used while assembling a
// packet: spreadsheet covers to PDF, X-ray images to PDF, and re-rendering
// scanned documents at a fixed resolution.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrConversion wraps every failure of an external conversion step.
var ErrConversion = errors.New("conversion failed")

// LibreOffice converts spreadsheets with a headless office binary.
type LibreOffice struct {
	Bin     string
	Timeout time.Duration
}

func NewLibreOffice(bin string) *LibreOffice {
	if bin == "" {
		bin = "libreoffice"
	}
	return &LibreOffice{Bin: bin, Timeout: 2 * time.Minute}
}

// Convert renders the spreadsheet at src into the PDF at out.
func (l *LibreOffice) Convert(ctx context.Context, src, out string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	// Work next to out so the final rename stays on one filesystem.
	work, err := os.MkdirTemp(filepath.Dir(out), ".office-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer os.RemoveAll(work)

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	profile := "file://" + filepath.ToSlash(filepath.Join(work, "profile"))
	cmd := exec.CommandContext(ctx, l.Bin,
		"-env:UserInstallation="+profile,
		"--headless", "--convert-to", "pdf",
		"--outdir", work, src,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s %s: %v: %s", ErrConversion, filepath.Base(l.Bin), filepath.Base(src), err, strings.TrimSpace(output.String()))
	}

	generated := filepath.Join(work, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".pdf")
	if _, err := os.Stat(generated); err != nil {
		return fmt.Errorf("%w: expected output %s was not produced", ErrConversion, filepath.Base(generated))
	}
	if err := os.Rename(generated, out); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return nil
}
