package study

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/cbm/medreport/internal/domain/extract"
	"github.com/cbm/medreport/internal/domain/grouping"
	"github.com/cbm/medreport/internal/domain/roster"
)

func defaultPolicies() []Policy {
	return []Policy{
		idFilePolicy{study: Lab},
		ecgPolicy{},
		rxPolicy{},
		audiometryPolicy{},
		fullNamePolicy{study: EEG},
		fullNamePolicy{study: Psychometric},
		spirometryPolicy{},
	}
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func requireID(p roster.PatientRecord, t Type) (string, error) {
	id := p.ID()
	if id == "" {
		return "", fmt.Errorf("%w: %s needs a national ID", ErrMissingIdentity, t)
	}
	return id, nil
}

func requireName(p roster.PatientRecord, t Type) (last, first string, err error) {
	last = strings.TrimSpace(p.LastName)
	first = strings.TrimSpace(p.FirstName)
	if last == "" || first == "" {
		return "", "", fmt.Errorf("%w: %s needs last and first name", ErrMissingIdentity, t)
	}
	return last, first, nil
}

// nameWords splits a roster name into upper-case words, treating "_" as a
// space.
func nameWords(s string) []string {
	s = norm.NFC.String(strings.ReplaceAll(s, "_", " "))
	return strings.Fields(strings.ToUpper(s))
}

// idFilePolicy resolves <split dir>/<id>.pdf.
type idFilePolicy struct{ study Type }

func (p idFilePolicy) Study() Type { return p.study }

func (p idFilePolicy) Locate(_ context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	id, err := requireID(rec, p.study)
	if err != nil {
		return Resolution{}, err
	}
	path := filepath.Join(l.layout.SplitDir(p.study), id+".pdf")
	if !isFile(path) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Resolution{Study: p.study, Path: path}, nil
}

// audiometryPolicy resolves the split audiometry and re-renders it at a
// fixed resolution into the scratch space.
type audiometryPolicy struct{}

func (audiometryPolicy) Study() Type { return Audiometry }

func (audiometryPolicy) Locate(ctx context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	src, err := idFilePolicy{study: Audiometry}.Locate(ctx, l, rec)
	if err != nil {
		return Resolution{}, err
	}
	out, err := l.deps.Scratch.Path("audiometria_" + rec.ID() + ".pdf")
	if err != nil {
		return Resolution{}, err
	}
	if err := l.deps.Rescaler.Rescale(ctx, src.Path, out, l.opts.AudiometryDPI, l.opts.AudiometryMaxWidth); err != nil {
		return Resolution{}, fmt.Errorf("rescale %s: %w", filepath.Base(src.Path), err)
	}
	return Resolution{Study: Audiometry, Path: out, Sources: []string{src.Path}}, nil
}

// ecgPolicy searches the ECG folder by name prefix. The first surname word is
// tried before the full surname; exactly one file must match.
type ecgPolicy struct{}

func (ecgPolicy) Study() Type { return ECG }

func (ecgPolicy) Locate(_ context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	last, first, err := requireName(rec, ECG)
	if err != nil {
		return Resolution{}, err
	}
	dir, ok := l.layout.ECGDir()
	if !ok {
		return Resolution{}, fmt.Errorf("%w: no ECG folder in %s", ErrNotFound, l.layout.DateRoot)
	}
	lastWords, firstWords := nameWords(last), nameWords(first)
	if len(lastWords) == 0 || len(firstWords) == 0 {
		return Resolution{}, fmt.Errorf("%w: ECG needs last and first name", ErrMissingIdentity)
	}

	prefixes := []string{lastWords[0] + "_" + firstWords[0]}
	if full := strings.Join(lastWords, "_") + "_" + firstWords[0]; full != prefixes[0] {
		prefixes = append(prefixes, full)
	}

	var matches []string
	for _, prefix := range prefixes {
		if matches = matchPrefix(dir, prefix, ".pdf", false); len(matches) > 0 {
			break
		}
	}
	switch len(matches) {
	case 0:
		return Resolution{}, fmt.Errorf("%w: no ECG matching %s* in %s", ErrNotFound, strings.Join(prefixes, "* or "), dir)
	case 1:
		return Resolution{Study: ECG, Path: matches[0]}, nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = filepath.Base(m)
		}
		return Resolution{}, fmt.Errorf("%w: %d ECG files (%s)", ErrAmbiguous, len(matches), strings.Join(names, ", "))
	}
}

// rxPolicy assembles the images of the first RX folder whose name contains
// the patient's ID into one document.
type rxPolicy struct{}

func (rxPolicy) Study() Type { return RX }

func (rxPolicy) Locate(ctx context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	id, err := requireID(rec, RX)
	if err != nil {
		return Resolution{}, err
	}
	root := l.layout.RXRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: RX folder %s: %v", ErrNotFound, root, err)
	}

	folder := ""
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), id) {
			folder = filepath.Join(root, e.Name())
			break
		}
	}
	if folder == "" {
		return Resolution{}, fmt.Errorf("%w: no RX folder containing %s in %s", ErrNotFound, id, root)
	}

	files, err := os.ReadDir(folder)
	if err != nil {
		return Resolution{}, fmt.Errorf("read %s: %w", folder, err)
	}
	var images []string
	for _, f := range files {
		if !f.IsDir() && imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
			images = append(images, filepath.Join(folder, f.Name()))
		}
	}
	if len(images) == 0 {
		return Resolution{}, fmt.Errorf("%w: no images in %s", ErrNotFound, folder)
	}
	sort.Strings(images)

	out, err := l.deps.Scratch.Path("rx_" + id + ".pdf")
	if err != nil {
		return Resolution{}, err
	}
	if err := l.deps.Images.ImagesToPDF(ctx, images, out, l.opts.RXMaxWidth); err != nil {
		return Resolution{}, fmt.Errorf("assemble RX %s: %w", filepath.Base(folder), err)
	}
	return Resolution{Study: RX, Path: out, Sources: images}, nil
}

// fullNamePolicy resolves <split dir>/<LAST>_<FIRST>.pdf after populating the
// split folder when needed.
type fullNamePolicy struct{ study Type }

func (p fullNamePolicy) Study() Type { return p.study }

func (p fullNamePolicy) Locate(ctx context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	last, first, err := requireName(rec, p.study)
	if err != nil {
		return Resolution{}, err
	}
	if _, err := l.EnsureSplit(ctx, p.study); err != nil {
		l.logger.Warn().Err(err).Str("study", p.study.String()).Msgf("split of %s failed: %v", p.study, err)
	}
	name := grouping.SafeName(extract.NormalizeName(strings.ReplaceAll(last, "_", " ")+" "+first)) + ".pdf"
	path := filepath.Join(l.layout.SplitDir(p.study), name)
	if !isFile(path) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Resolution{Study: p.study, Path: path}, nil
}

// spirometryPolicy tries <LAST>_<first given name>* then
// <LAST>_<last given name>*; the first pattern with a hit wins.
type spirometryPolicy struct{}

func (spirometryPolicy) Study() Type { return Spirometry }

func (spirometryPolicy) Locate(ctx context.Context, l *Locator, rec roster.PatientRecord) (Resolution, error) {
	last, first, err := requireName(rec, Spirometry)
	if err != nil {
		return Resolution{}, err
	}
	if _, err := l.EnsureSplit(ctx, Spirometry); err != nil {
		l.logger.Warn().Err(err).Str("study", Spirometry.String()).Msgf("split of %s failed: %v", Spirometry, err)
	}

	surname := strings.Join(nameWords(last), "_")
	given := nameWords(first)
	if surname == "" || len(given) == 0 {
		return Resolution{}, fmt.Errorf("%w: ESPIROMETRIA needs last and first name", ErrMissingIdentity)
	}
	prefixes := SpirometryPrefixes(surname, given)

	dir := l.layout.SplitDir(Spirometry)
	for _, prefix := range prefixes {
		if m := matchPrefix(dir, prefix, ".pdf", false); len(m) > 0 {
			return Resolution{Study: Spirometry, Path: m[0]}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: no spirometry matching %s* in %s", ErrNotFound, strings.Join(prefixes, "* or "), dir)
}

// SpirometryPrefixes returns the candidate file-name prefixes for a surname
// and upper-cased given-name words.
func SpirometryPrefixes(surname string, given []string) []string {
	prefixes := []string{surname + "_" + given[0]}
	if lastGiven := given[len(given)-1]; lastGiven != given[0] {
		prefixes = append(prefixes, surname+"_"+lastGiven)
	}
	return prefixes
}
