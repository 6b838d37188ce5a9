package study

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cbm/medreport/internal/domain/extract"
	"github.com/cbm/medreport/internal/domain/grouping"
	"github.com/cbm/medreport/internal/domain/roster"
)

// Splitter partitions a bulk document into per-key documents.
type Splitter interface {
	Split(ctx context.Context, src string, kind extract.Kind, outputDir string) (*grouping.Outcome, error)
}

// ImageAssembler builds one document from ordered image files.
type ImageAssembler interface {
	ImagesToPDF(ctx context.Context, images []string, out string, maxWidth int) error
}

// Rescaler re-renders a document as scaled images.
type Rescaler interface {
	Rescale(ctx context.Context, in, out string, dpi, maxWidth int) error
}

// Scratch hands out run-scoped file paths for converted artifacts.
type Scratch interface {
	Path(name string) (string, error)
}

// Deps are the collaborators used during lookup.
type Deps struct {
	Splitter Splitter
	Images   ImageAssembler
	Rescaler Rescaler
	Scratch  Scratch
}

type Options struct {
	RXMaxWidth         int
	AudiometryDPI      int
	AudiometryMaxWidth int
}

func DefaultOptions() Options {
	return Options{RXMaxWidth: 700, AudiometryDPI: 100, AudiometryMaxWidth: 1100}
}

// Resolution is a located study document.
type Resolution struct {
	Study Type   `json:"study"`
	Path  string `json:"path"`
	// Sources are the files the document was converted from, if any.
	Sources []string `json:"sources,omitempty"`
}

// Converted reports whether Path is a scratch artifact.
func (r Resolution) Converted() bool { return len(r.Sources) > 0 }

// SplitStatus is the outcome of EnsureSplit for one study.
type SplitStatus struct {
	Study Type   `json:"study"`
	Dir   string `json:"dir"`
	// Existing is the number of documents already present, in which case
	// no split ran.
	Existing int               `json:"existing"`
	Source   string            `json:"source,omitempty"`
	Outcome  *grouping.Outcome `json:"outcome,omitempty"`
}

// Ran reports whether a split pass was executed.
func (s SplitStatus) Ran() bool { return s.Outcome != nil }

// Policy resolves one study type.
type Policy interface {
	Study() Type
	Locate(ctx context.Context, l *Locator, p roster.PatientRecord) (Resolution, error)
}

// Locator resolves study documents for one compilation date. Split state is
// captured once by Prepare; splits done through EnsureSplit keep it current.
// Each study is split at most once per Locator, whatever the outcome.
// A Locator is not meant to be shared by concurrent runs, and nothing guards
// the split folders against a second process populating them at the same
// time.
type Locator struct {
	layout   Layout
	deps     Deps
	opts     Options
	logger   zerolog.Logger
	policies map[Type]Policy

	mu        sync.Mutex
	prepared  bool
	populated map[Type]int
	attempted map[Type]bool
}

func NewLocator(layout Layout, deps Deps, opts Options, logger zerolog.Logger) *Locator {
	l := &Locator{
		layout:    layout,
		deps:      deps,
		opts:      opts,
		logger:    logger,
		policies:  make(map[Type]Policy),
		populated: make(map[Type]int),
		attempted: make(map[Type]bool),
	}
	for _, p := range defaultPolicies() {
		l.policies[p.Study()] = p
	}
	return l
}

// Layout returns the folder layout the locator works on.
func (l *Locator) Layout() Layout { return l.layout }

// Prepare snapshots which split folders already hold documents. It runs at
// most once; later calls are no-ops.
func (l *Locator) Prepare() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepareLocked()
}

func (l *Locator) prepareLocked() {
	if l.prepared {
		return
	}
	for _, t := range All {
		if t.Splittable() {
			l.populated[t] = countDocuments(l.layout.SplitDir(t))
		}
	}
	l.prepared = true
}

// Populated returns the document count of a split folder as last known.
func (l *Locator) Populated(t Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepareLocked()
	return l.populated[t]
}

// EnsureSplit partitions the study's bulk document into its split folder
// unless that folder already holds documents or a split was already attempted
// by this Locator. A missing bulk document leaves the folder empty and is not
// an error.
func (l *Locator) EnsureSplit(ctx context.Context, t Type) (SplitStatus, error) {
	kind, ok := t.KeyKind()
	if !ok {
		return SplitStatus{}, fmt.Errorf("%w: %s is not split", ErrUnknownStudy, t)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepareLocked()

	st := SplitStatus{Study: t, Dir: l.layout.SplitDir(t), Existing: l.populated[t]}
	if st.Existing > 0 || l.attempted[t] {
		return st, nil
	}
	l.attempted[t] = true

	src, ok := l.layout.BulkDocument(t)
	if !ok {
		l.logger.Warn().Str("study", t.String()).
			Msgf("no bulk document %s*.pdf in %s", t.Folder(), l.layout.DateRoot)
		return st, nil
	}
	st.Source = src

	l.logger.Info().Str("study", t.String()).Str("source", filepath.Base(src)).
		Msgf("splitting %s by patient", t)
	out, err := l.deps.Splitter.Split(ctx, src, kind, st.Dir)
	st.Outcome = out
	if out != nil {
		l.populated[t] += len(out.Artifacts)
	}
	if err != nil {
		return st, fmt.Errorf("split %s: %w", t, err)
	}
	return st, nil
}

// Locate resolves the document of study t for patient p.
func (l *Locator) Locate(ctx context.Context, p roster.PatientRecord, t Type) (Resolution, error) {
	pol, ok := l.policies[t]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownStudy, t)
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	l.Prepare()
	return pol.Locate(ctx, l, p)
}
