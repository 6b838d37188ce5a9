package pdf

import (
	"fmt"
	"os"

	"github.com/unidoc/unipdf/v3/model"
)

// openReader opens src with unipdf, decrypting with an empty password when the
// file is encrypted. The caller closes the returned file after the writer that
// references its pages has been flushed.
func openReader(src string) (*model.PdfReader, *os.File, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, nil, err
	}
	reader, err := model.NewPdfReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("read %s: %w", src, err)
	}

	encrypted, err := reader.IsEncrypted()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("check encryption of %s: %w", src, err)
	}
	if encrypted {
		ok, err := reader.Decrypt([]byte(""))
		if err != nil || !ok {
			f.Close()
			return nil, nil, fmt.Errorf("%s is password protected", src)
		}
	}
	return reader, f, nil
}

// ExtractPages writes the given 0-based pages of src, in the given order, to
// a new document at dst.
func (e *Engine) ExtractPages(src string, pages []int, dst string) error {
	if len(pages) == 0 {
		return ErrNothingToMerge
	}
	reader, f, err := openReader(src)
	if err != nil {
		return err
	}
	defer f.Close()

	total, err := reader.GetNumPages()
	if err != nil {
		return fmt.Errorf("count pages of %s: %w", src, err)
	}

	w := model.NewPdfWriter()
	for _, p := range pages {
		if p < 0 || p >= total {
			return fmt.Errorf("%w: %d of %d in %s", ErrPageOutOfRange, p, total, src)
		}
		page, err := reader.GetPage(p + 1)
		if err != nil {
			return fmt.Errorf("get page %d of %s: %w", p+1, src, err)
		}
		if err := w.AddPage(page); err != nil {
			return fmt.Errorf("add page %d of %s: %w", p+1, src, err)
		}
	}

	return writeAtomic(dst, func(out *os.File) error {
		return w.Write(out)
	})
}

// Merge concatenates every page of srcs, in order, into dst. Inputs that are
// missing, unreadable or empty are reported in MergeReport.Skipped and do not
// stop the merge. ErrNothingToMerge is returned when no page survives.
func (e *Engine) Merge(dst string, srcs []string) (MergeReport, error) {
	var rep MergeReport
	w := model.NewPdfWriter()

	var open []*os.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()

	for _, src := range srcs {
		reader, f, err := openReader(src)
		if err != nil {
			rep.Skipped = append(rep.Skipped, Skip{Path: src, Err: err})
			continue
		}
		open = append(open, f)

		n, err := reader.GetNumPages()
		if err != nil {
			rep.Skipped = append(rep.Skipped, Skip{Path: src, Err: err})
			continue
		}
		if n == 0 {
			rep.Skipped = append(rep.Skipped, Skip{Path: src, Err: ErrEmptyDocument})
			continue
		}

		added := 0
		var pageErr error
		for i := 1; i <= n; i++ {
			page, err := reader.GetPage(i)
			if err == nil {
				err = w.AddPage(page)
			}
			if err != nil {
				pageErr = fmt.Errorf("page %d: %w", i, err)
				break
			}
			added++
		}
		rep.Pages += added
		if pageErr != nil {
			// Pages already handed to the writer stay in the output.
			rep.Skipped = append(rep.Skipped, Skip{Path: src, Err: pageErr})
			if added == 0 {
				continue
			}
		}
		rep.Included = append(rep.Included, src)
	}

	if rep.Pages == 0 {
		return rep, ErrNothingToMerge
	}
	if err := writeAtomic(dst, func(out *os.File) error { return w.Write(out) }); err != nil {
		return rep, err
	}
	return rep, nil
}
