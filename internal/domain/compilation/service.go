// Package compilation runs split and report passes for one compilation date.
// Every run gets its own ID, scratch space and diagnostics transcript.
package compilation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cbm/medreport/internal/domain/extract"
	"github.com/cbm/medreport/internal/domain/grouping"
	"github.com/cbm/medreport/internal/domain/report"
	"github.com/cbm/medreport/internal/domain/roster"
	"github.com/cbm/medreport/internal/domain/study"
	"github.com/cbm/medreport/internal/platform/ledger"
	"github.com/cbm/medreport/internal/platform/logging"
	"github.com/cbm/medreport/internal/platform/metrics"
	"github.com/cbm/medreport/internal/platform/scratch"
)

var (
	// ErrBusy is returned when another run holds the service.
	ErrBusy           = errors.New("another run is in progress")
	ErrPacketNotFound = errors.New("packet not found")
)

// DocumentEngine opens, splits and merges documents.
type DocumentEngine interface {
	grouping.Engine
	report.Merger
}

type Options struct {
	DataRoot    string
	OutputRoot  string
	ScratchRoot string
	RosterFile  string
	Study       study.Options
}

// Deps are the adapters shared by every run. Ledger and Metrics may be nil.
type Deps struct {
	Engine   DocumentEngine
	Covers   report.CoverConverter
	Images   study.ImageAssembler
	Rescaler study.Rescaler
	Ledger   ledger.Store
	Metrics  *metrics.Collector
}

// Service serializes runs within the process; split folders are not safe to
// populate from two runs at once.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	mu     sync.Mutex
	newID  func() string
}

func NewService(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.Ledger == nil {
		deps.Ledger = ledger.Nop{}
	}
	return &Service{opts: opts, deps: deps, logger: logger, newID: uuid.NewString}
}

// Run is the envelope common to split and report passes.
type Run struct {
	ID         string    `json:"id"`
	Date       string    `json:"date"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Log        []string  `json:"log"`
}

type SplitRun struct {
	Run
	Studies []study.SplitStatus `json:"studies"`
}

type BuildRun struct {
	Run
	Summary *report.Summary `json:"summary"`
}

func (s *Service) Dates() ([]string, error) {
	return study.ListDates(s.opts.DataRoot)
}

// Patients loads the roster of date.
func (s *Service) Patients(date string) (*roster.Roster, error) {
	layout, err := study.NewLayout(s.opts.DataRoot, date)
	if err != nil {
		return nil, err
	}
	return roster.Load(layout.RosterPath(s.opts.RosterFile))
}

// Packet returns the path of a written packet of date. name must be a bare
// file name as reported in a build result.
func (s *Service) Packet(date, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", fmt.Errorf("%w: %q", ErrPacketNotFound, name)
	}
	if date == "" || date != filepath.Base(date) || date == "." || date == ".." {
		return "", fmt.Errorf("%w: invalid date %q", ErrPacketNotFound, date)
	}
	path := filepath.Join(s.opts.OutputRoot, date, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrPacketNotFound, path)
	}
	return path, nil
}

// History lists ledger entries of date, newest first.
func (s *Service) History(ctx context.Context, date string, limit, offset int) ([]*ledger.Run, int, error) {
	return s.deps.Ledger.List(ctx, date, limit, offset)
}

// session holds the per-run state.
type session struct {
	run        Run
	layout     study.Layout
	space      *scratch.Space
	transcript *logging.Transcript
	logger     zerolog.Logger
	locator    *study.Locator
}

func (s *Service) begin(date string) (*session, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	layout, err := study.NewLayout(s.opts.DataRoot, date)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	id := s.newID()
	space, err := scratch.New(s.opts.ScratchRoot, id)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create scratch space: %w", err)
	}

	transcript := logging.NewTranscript()
	logger := logging.Tee(s.logger.With().Str("run_id", id).Str("date", date).Logger(), transcript)
	splitter := &recordingSplitter{
		inner:   grouping.NewSplitter(s.deps.Engine, logger),
		runID:   id,
		date:    date,
		ledger:  s.deps.Ledger,
		metrics: s.deps.Metrics,
		logger:  logger,
	}
	deps := study.Deps{Splitter: splitter, Images: s.deps.Images, Rescaler: s.deps.Rescaler, Scratch: space}

	return &session{
		run:        Run{ID: id, Date: date, StartedAt: time.Now().UTC()},
		layout:     layout,
		space:      space,
		transcript: transcript,
		logger:     logger,
		locator:    study.NewLocator(layout, deps, s.opts.Study, logger),
	}, nil
}

func (s *Service) end(sess *session) Run {
	defer s.mu.Unlock()
	if err := sess.space.Close(); err != nil {
		sess.logger.Warn().Msgf("remove scratch space %s: %v", sess.space.Dir(), err)
	}
	sess.run.FinishedAt = time.Now().UTC()
	sess.run.Log = sess.transcript.Lines()
	return sess.run
}

// Split partitions every splittable study whose split folder is still empty.
// One study failing does not stop the others.
func (s *Service) Split(ctx context.Context, date string) (*SplitRun, error) {
	sess, err := s.begin(date)
	if err != nil {
		return nil, err
	}
	out := &SplitRun{}
	defer func() { out.Run = s.end(sess) }()

	sess.locator.Prepare()
	for _, t := range study.All {
		if !t.Splittable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st, err := sess.locator.EnsureSplit(ctx, t)
		if err != nil {
			sess.logger.Error().Str("study", t.String()).Msgf("%s: %v", t, err)
		} else if !st.Ran() && st.Existing > 0 {
			sess.logger.Info().Str("study", t.String()).
				Msgf("%s already split (%d documents in %s)", t, st.Existing, filepath.Base(st.Dir))
		}
		out.Studies = append(out.Studies, st)
	}
	return out, nil
}

func (s *Service) builder(sess *session, r *roster.Roster) *report.Builder {
	deps := report.Deps{
		Covers:  s.deps.Covers,
		Merger:  s.deps.Engine,
		Locator: sess.locator,
		Scratch: sess.space,
		Ledger:  s.deps.Ledger,
	}
	if s.deps.Metrics != nil {
		deps.Metrics = s.deps.Metrics
	}
	return report.NewBuilder(r, s.opts.OutputRoot, sess.run.ID, deps, sess.logger)
}

func (s *Service) loadRoster(sess *session) (*roster.Roster, error) {
	r, err := roster.Load(sess.layout.RosterPath(s.opts.RosterFile))
	if err != nil {
		return nil, err
	}
	for _, d := range r.Dropped {
		sess.logger.Warn().Msgf("roster row %d skipped: %s", d.SheetRow, d.Reason)
	}
	return r, nil
}

// BuildOne writes the packet of the roster record at index.
func (s *Service) BuildOne(ctx context.Context, date string, index int) (*BuildRun, error) {
	sess, err := s.begin(date)
	if err != nil {
		return nil, err
	}
	out := &BuildRun{}
	defer func() { out.Run = s.end(sess) }()

	r, err := s.loadRoster(sess)
	if err != nil {
		return out, err
	}
	res, err := s.builder(sess, r).Build(ctx, index)
	out.Summary = &report.Summary{Date: date}
	if res != nil {
		out.Summary.Results = []*report.Result{res}
	}
	switch {
	case err != nil:
		out.Summary.Failed = 1
		sess.logger.Error().Msgf("report failed: %v", err)
	case res.Status == ledger.StatusPartial:
		out.Summary.Built, out.Summary.Partial = 1, 1
	default:
		out.Summary.Built = 1
	}
	return out, err
}

// BuildAll writes the packets of every roster record.
func (s *Service) BuildAll(ctx context.Context, date string) (*BuildRun, error) {
	sess, err := s.begin(date)
	if err != nil {
		return nil, err
	}
	out := &BuildRun{}
	defer func() { out.Run = s.end(sess) }()

	r, err := s.loadRoster(sess)
	if err != nil {
		return out, err
	}
	sess.locator.Prepare()
	out.Summary, err = s.builder(sess, r).BuildAll(ctx)
	return out, err
}

// recordingSplitter reports every split pass to the ledger and metrics.
type recordingSplitter struct {
	inner   *grouping.Splitter
	runID   string
	date    string
	ledger  ledger.Store
	metrics *metrics.Collector
	logger  zerolog.Logger
}

func (r *recordingSplitter) Split(ctx context.Context, src string, kind extract.Kind, outputDir string) (*grouping.Outcome, error) {
	start := time.Now().UTC()
	out, err := r.inner.Split(ctx, src, kind, outputDir)

	name := filepath.Base(outputDir)
	if t, perr := study.Parse(name); perr == nil {
		name = t.String()
	}
	run := &ledger.Run{
		RunID:     r.runID,
		Kind:      ledger.KindSplit,
		Date:      r.date,
		Subject:   name,
		Artifact:  filepath.Base(src),
		Status:    ledger.StatusOK,
		StartedAt: start,
	}
	if out != nil && out.Result != nil {
		run.Pages = out.Result.Pages
		run.Misses = len(out.Result.Misses)
		if run.Misses > 0 {
			run.Status = ledger.StatusPartial
		}
	}
	if err != nil {
		run.Status = ledger.StatusFailed
		run.Detail = err.Error()
	}
	run.FinishedAt = time.Now().UTC()

	r.metrics.ObserveSplit(name, run.Status, run.Pages-run.Misses, run.Misses)
	if lerr := r.ledger.Record(ctx, run); lerr != nil {
		r.logger.Warn().Msgf("record split run for %s: %v", name, lerr)
	}
	if out != nil {
		r.logger.Info().Str("study", name).
			Msgf("%s: %d documents from %d pages, %d pages unmatched", name, len(out.Artifacts), run.Pages, run.Misses)
	}
	return out, err
}
