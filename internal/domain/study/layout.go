package study

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var ErrDateNotFound = errors.New("date folder not found")

// Layout is the folder convention of one compilation date D:
//
//	<data root>/D/                 date root: bulk documents, ECG D/, RX D/
//	<data root>/D/D/               day folder: roster, covers, split folders
type Layout struct {
	Date     string
	DateRoot string
	DayDir   string
}

// NewLayout resolves the layout of date under dataRoot. The date root must
// exist; the day folder is created on first split when missing.
func NewLayout(dataRoot, date string) (Layout, error) {
	if date == "" || date != filepath.Base(date) || date == "." || date == ".." {
		return Layout{}, fmt.Errorf("%w: invalid date %q", ErrDateNotFound, date)
	}
	root := filepath.Join(dataRoot, date)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Layout{}, fmt.Errorf("%w: %s", ErrDateNotFound, root)
	}
	return Layout{Date: date, DateRoot: root, DayDir: filepath.Join(root, date)}, nil
}

// ListDates returns the date folders under dataRoot, sorted.
func ListDates(dataRoot string) ([]string, error) {
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dataRoot, err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dates = append(dates, e.Name())
		}
	}
	return dates, nil
}

// SplitDir holds the per-patient documents of a study.
func (l Layout) SplitDir(t Type) string {
	return filepath.Join(l.DayDir, t.Folder())
}

// RosterPath is the master roster file inside the day folder.
func (l Layout) RosterPath(name string) string {
	return filepath.Join(l.DayDir, name)
}

// CoverPath is the cover spreadsheet of the roster row with the given ordinal.
func (l Layout) CoverPath(ordinal int) string {
	return filepath.Join(l.DayDir, strconv.Itoa(ordinal)+".xlsx")
}

// RXRoot holds one folder of X-ray images per patient.
func (l Layout) RXRoot() string {
	return filepath.Join(l.DateRoot, "RX "+l.Date)
}

// BulkDocument returns the multi-patient document of a study: "<FOLDER> D.pdf"
// in the date root, else the first "<FOLDER>*.pdf" by name.
func (l Layout) BulkDocument(t Type) (string, bool) {
	exact := filepath.Join(l.DateRoot, t.Folder()+" "+l.Date+".pdf")
	if isFile(exact) {
		return exact, true
	}
	matches := matchPrefix(l.DateRoot, t.Folder(), ".pdf", false)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// ECGDir returns the first directory of the date root whose name starts
// with "ECG".
func (l Layout) ECGDir() (string, bool) {
	dirs := matchPrefix(l.DateRoot, "ECG", "", true)
	if len(dirs) == 0 {
		return "", false
	}
	return dirs[0], true
}

// matchPrefix lists entries of dir whose name starts with prefix and ends
// with suffix, sorted by name. Suffix matching ignores case.
func matchPrefix(dir, prefix, suffix string, dirs bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() != dirs || !strings.HasPrefix(name, prefix) {
			continue
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(name), suffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// countDocuments returns the number of PDF files in dir. A missing directory
// counts as empty.
func countDocuments(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			n++
		}
	}
	return n
}
