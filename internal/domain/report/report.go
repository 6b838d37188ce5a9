// Package report assembles one packet per patient: the converted cover
// spreadsheet followed by every study document the patient requested.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbm/medreport/internal/domain/grouping"
	"github.com/cbm/medreport/internal/domain/roster"
	"github.com/cbm/medreport/internal/domain/study"
	"github.com/cbm/medreport/internal/platform/ledger"
	"github.com/cbm/medreport/internal/platform/pdf"
)

var (
	// ErrMissingCover means the patient's cover spreadsheet does not exist.
	ErrMissingCover = errors.New("cover spreadsheet not found")
	ErrCoverFailed  = errors.New("cover conversion failed")
)

// CoverConverter turns a cover spreadsheet into a document.
type CoverConverter interface {
	Convert(ctx context.Context, src, out string) error
}

// Merger concatenates documents best-effort.
type Merger interface {
	Merge(dst string, srcs []string) (pdf.MergeReport, error)
}

// Locator resolves study documents for the compilation date.
type Locator interface {
	Layout() study.Layout
	Locate(ctx context.Context, p roster.PatientRecord, t study.Type) (study.Resolution, error)
}

type Scratch interface {
	Path(name string) (string, error)
	Remove(name string) error
}

type Recorder interface {
	Record(ctx context.Context, r *ledger.Run) error
}

type Observer interface {
	ObserveLookup(study, outcome string)
	ObserveReport(status string, pages int, d time.Duration)
}

// Deps are the collaborators of a Builder. Ledger and Metrics may be nil.
type Deps struct {
	Covers  CoverConverter
	Merger  Merger
	Locator Locator
	Scratch Scratch
	Ledger  Recorder
	Metrics Observer
}

// Item states.
const (
	ItemIncluded = "included"
	ItemMissing  = "missing"
	ItemSkipped  = "skipped"
)

// Item is one planned input of a packet.
type Item struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Result is the outcome of one patient's build.
type Result struct {
	Patient roster.PatientRecord `json:"patient"`
	Output  string               `json:"output,omitempty"`
	Pages   int                  `json:"pages"`
	Studies []string             `json:"studies"`
	Unknown []string             `json:"unknown_tokens,omitempty"`
	Items   []Item               `json:"items"`
	Status  string               `json:"status"`
	Error   string               `json:"error,omitempty"`
}

// Complete reports whether every planned input made it into the packet.
func (r *Result) Complete() bool {
	for _, it := range r.Items {
		if it.Status != ItemIncluded {
			return false
		}
	}
	return r.Output != ""
}

// Summary is the outcome of a bulk build.
type Summary struct {
	Date    string    `json:"date"`
	Built   int       `json:"built"`
	Partial int       `json:"partial"`
	Failed  int       `json:"failed"`
	Results []*Result `json:"results"`
}

// Builder writes packets for the patients of one roster into
// <output root>/<date>/.
type Builder struct {
	roster     *roster.Roster
	outputRoot string
	runID      string
	deps       Deps
	logger     zerolog.Logger
	now        func() time.Time
}

func NewBuilder(r *roster.Roster, outputRoot, runID string, deps Deps, logger zerolog.Logger) *Builder {
	return &Builder{
		roster:     r,
		outputRoot: outputRoot,
		runID:      runID,
		deps:       deps,
		logger:     logger,
		now:        time.Now,
	}
}

// OutputName is the packet file name: last name with spaces as "_", then the
// digits of the national ID.
func OutputName(p roster.PatientRecord) string {
	return grouping.SafeName(strings.TrimSpace(p.LastName)) + "_" + p.ID() + ".pdf"
}

// OutputDir is where packets of the compilation date are written.
func (b *Builder) OutputDir() string {
	return filepath.Join(b.outputRoot, b.deps.Locator.Layout().Date)
}

// Build assembles the packet of the roster record at index. The returned
// Result is non-nil whenever the record exists, including on failure.
func (b *Builder) Build(ctx context.Context, index int) (*Result, error) {
	rec, err := b.roster.Record(index)
	if err != nil {
		return nil, err
	}
	start := b.now()
	res, err := b.build(ctx, rec)
	b.finish(ctx, res, err, start)
	return res, err
}

func (b *Builder) build(ctx context.Context, rec roster.PatientRecord) (*Result, error) {
	res := &Result{Patient: rec}
	layout := b.deps.Locator.Layout()
	b.logger.Info().Int("row", rec.Index).Msgf("building report for %s", rec)

	studies, unknown := study.Expand(rec.Tokens)
	res.Unknown = unknown
	for _, tok := range unknown {
		b.logger.Warn().Int("row", rec.Index).Msgf("%s: unknown study %q ignored", rec, tok)
	}
	for _, t := range studies {
		res.Studies = append(res.Studies, t.String())
	}

	coverSrc := layout.CoverPath(rec.Ordinal)
	if _, err := os.Stat(coverSrc); err != nil {
		res.Items = append(res.Items, Item{Name: "COVER", Path: coverSrc, Status: ItemMissing, Reason: "not found"})
		return res, fmt.Errorf("%w: %s", ErrMissingCover, coverSrc)
	}
	coverName := "cover_" + strconv.Itoa(rec.Ordinal) + ".pdf"
	coverPDF, err := b.deps.Scratch.Path(coverName)
	if err != nil {
		return res, err
	}
	if err := b.deps.Covers.Convert(ctx, coverSrc, coverPDF); err != nil {
		res.Items = append(res.Items, Item{Name: "COVER", Path: coverSrc, Status: ItemSkipped, Reason: err.Error()})
		return res, fmt.Errorf("%w: %s: %v", ErrCoverFailed, filepath.Base(coverSrc), err)
	}
	res.Items = append(res.Items, Item{Name: "COVER", Path: coverPDF, Status: ItemIncluded})
	inputs := []string{coverPDF}

	for _, t := range studies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		loc, err := b.deps.Locator.Locate(ctx, rec, t)
		b.observeLookup(t, err)
		if err != nil {
			res.Items = append(res.Items, Item{Name: t.String(), Status: ItemMissing, Reason: err.Error()})
			b.logger.Warn().Str("study", t.String()).Msgf("%s: %s not included: %v", rec, t, err)
			continue
		}
		res.Items = append(res.Items, Item{Name: t.String(), Path: loc.Path, Status: ItemIncluded})
		inputs = append(inputs, loc.Path)
	}

	outDir := filepath.Join(b.outputRoot, layout.Date)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(outDir, OutputName(rec))

	rep, err := b.deps.Merger.Merge(out, inputs)
	for _, skip := range rep.Skipped {
		markSkipped(res.Items, skip)
		b.logger.Warn().Msgf("%s: skipped %s: %v", rec, filepath.Base(skip.Path), skip.Err)
	}
	if err != nil {
		return res, fmt.Errorf("merge %s: %w", filepath.Base(out), err)
	}
	res.Output = out
	res.Pages = rep.Pages

	if err := b.deps.Scratch.Remove(coverName); err != nil {
		b.logger.Warn().Msgf("remove converted cover %s: %v", coverName, err)
	}
	b.logger.Info().Int("row", rec.Index).Msgf("wrote %s (%d pages)", filepath.Base(out), rep.Pages)
	return res, nil
}

func markSkipped(items []Item, skip pdf.Skip) {
	for i := range items {
		if items[i].Path == skip.Path && items[i].Status == ItemIncluded {
			items[i].Status = ItemSkipped
			items[i].Reason = skip.Err.Error()
			return
		}
	}
}

func (b *Builder) finish(ctx context.Context, res *Result, buildErr error, start time.Time) {
	switch {
	case buildErr != nil:
		res.Status = ledger.StatusFailed
		res.Error = buildErr.Error()
	case res.Complete():
		res.Status = ledger.StatusOK
	default:
		res.Status = ledger.StatusPartial
	}
	end := b.now()

	if b.deps.Metrics != nil {
		b.deps.Metrics.ObserveReport(res.Status, res.Pages, end.Sub(start))
	}
	if b.deps.Ledger == nil {
		return
	}
	misses := 0
	for _, it := range res.Items {
		if it.Status != ItemIncluded {
			misses++
		}
	}
	run := &ledger.Run{
		RunID:      b.runID,
		Kind:       ledger.KindReport,
		Date:       b.deps.Locator.Layout().Date,
		Subject:    res.Patient.String(),
		Artifact:   filepath.Base(res.Output),
		Pages:      res.Pages,
		Misses:     misses,
		Status:     res.Status,
		Detail:     res.Error,
		StartedAt:  start.UTC(),
		FinishedAt: end.UTC(),
	}
	if res.Output == "" {
		run.Artifact = ""
	}
	if err := b.deps.Ledger.Record(ctx, run); err != nil {
		b.logger.Warn().Msgf("record report run for %s: %v", res.Patient, err)
	}
}

func (b *Builder) observeLookup(t study.Type, err error) {
	if b.deps.Metrics == nil {
		return
	}
	outcome := "found"
	switch {
	case err == nil:
	case errors.Is(err, study.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, study.ErrAmbiguous):
		outcome = "ambiguous"
	case errors.Is(err, study.ErrMissingIdentity):
		outcome = "missing_identity"
	default:
		outcome = "error"
	}
	b.deps.Metrics.ObserveLookup(t.String(), outcome)
}

// BuildAll builds every roster record in order. A failing patient is logged
// and counted; the run continues with the next one. Only cancellation stops
// it early.
func (b *Builder) BuildAll(ctx context.Context) (*Summary, error) {
	sum := &Summary{Date: b.deps.Locator.Layout().Date}
	for i := range b.roster.Records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := b.Build(ctx, i)
		if res != nil {
			sum.Results = append(sum.Results, res)
		}
		switch {
		case err != nil:
			sum.Failed++
			b.logger.Error().Int("row", i).Msgf("report for %s failed: %v", b.roster.Records[i], err)
		case res.Status == ledger.StatusPartial:
			sum.Partial++
			sum.Built++
		default:
			sum.Built++
		}
	}
	b.logger.Info().Msgf("%d of %d reports written, %d incomplete, %d failed",
		sum.Built, len(b.roster.Records), sum.Partial, sum.Failed)
	return sum, nil
}
