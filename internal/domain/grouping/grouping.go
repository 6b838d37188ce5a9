// Package grouping partitions a multi-patient document into one document per
// extracted key.
package grouping

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/cbm/medreport/internal/domain/extract"
	"github.com/cbm/medreport/internal/platform/pdf"
)

// Group is the ordered set of pages of one source document that share a key.
type Group struct {
	Key   extract.Key `json:"key"`
	Pages []int       `json:"pages"`
}

// Miss is a page for which no key could be extracted.
type Miss struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

// Result holds groups in first-seen key order.
type Result struct {
	Groups []*Group `json:"groups"`
	Misses []Miss   `json:"misses,omitempty"`
	Pages  int      `json:"pages"`
	index  map[extract.Key]*Group
}

// Get returns the group for key, or nil.
func (r *Result) Get(key extract.Key) *Group {
	return r.index[key]
}

// Keys returns the keys in first-seen order.
func (r *Result) Keys() []extract.Key {
	keys := make([]extract.Key, len(r.Groups))
	for i, g := range r.Groups {
		keys[i] = g.Key
	}
	return keys
}

// PageSource is the read side of a document.
type PageSource interface {
	NumPages() int
	PageText(i int) (string, error)
}

// Partition reads every page of doc once and groups page indices by key.
// Pages without a key are recorded as misses and left out of every group.
func Partition(doc PageSource, fn extract.Func) *Result {
	res := &Result{Pages: doc.NumPages(), index: make(map[extract.Key]*Group)}
	for i := 0; i < res.Pages; i++ {
		text, err := doc.PageText(i)
		if err != nil {
			res.Misses = append(res.Misses, Miss{Page: i + 1, Reason: err.Error()})
			continue
		}
		key, ok := fn(text)
		if !ok {
			res.Misses = append(res.Misses, Miss{Page: i + 1, Reason: "no key found"})
			continue
		}
		g, seen := res.index[key]
		if !seen {
			g = &Group{Key: key}
			res.index[key] = g
			res.Groups = append(res.Groups, g)
		}
		g.Pages = append(g.Pages, i)
	}
	return res
}

// Artifact is one materialized single-patient document.
type Artifact struct {
	Keys  []extract.Key `json:"keys"`
	Path  string        `json:"path"`
	Pages int           `json:"pages"`
}

// Engine opens documents and copies pages between them.
type Engine interface {
	Open(path string) (pdf.Document, error)
	ExtractPages(src string, pages []int, dst string) error
}

// Outcome summarizes one split pass.
type Outcome struct {
	Source    string     `json:"source"`
	OutputDir string     `json:"output_dir"`
	Result    *Result    `json:"result"`
	Artifacts []Artifact `json:"artifacts"`
}

// Splitter runs Partition against a file and materializes the groups.
type Splitter struct {
	engine Engine
	logger zerolog.Logger
}

func NewSplitter(engine Engine, logger zerolog.Logger) *Splitter {
	return &Splitter{engine: engine, logger: logger}
}

// Split partitions src with the rules of kind and writes one document per key
// into outputDir. Callers are responsible for only splitting into a directory
// that holds no artifacts yet.
func (s *Splitter) Split(ctx context.Context, src string, kind extract.Kind, outputDir string) (*Outcome, error) {
	doc, err := s.engine.Open(src)
	if err != nil {
		return nil, err
	}
	res := Partition(doc, extract.For(kind))
	doc.Close()

	for _, m := range res.Misses {
		s.logger.Warn().Int("page", m.Page).Str("source", filepath.Base(src)).
			Str("kind", kind.String()).Msgf("page %d: %s", m.Page, m.Reason)
	}

	arts, err := s.Materialize(ctx, src, res, outputDir)
	out := &Outcome{Source: src, OutputDir: outputDir, Result: res, Artifacts: arts}
	if err != nil {
		return out, err
	}
	s.logger.Info().Str("source", filepath.Base(src)).Int("files", len(arts)).
		Int("unmatched_pages", len(res.Misses)).
		Msgf("split complete: %d files written to %s", len(arts), outputDir)
	return out, nil
}

// Materialize writes one document per group into outputDir, named after the
// filesystem-safe form of the key. Groups whose keys map to the same file
// name are written as one document with their pages in source order.
func (s *Splitter) Materialize(ctx context.Context, src string, res *Result, outputDir string) ([]Artifact, error) {
	type pending struct {
		keys  []extract.Key
		pages []int
	}
	var order []string
	byName := make(map[string]*pending)
	for _, g := range res.Groups {
		name := SafeName(string(g.Key))
		if name == "" {
			s.logger.Warn().Str("key", string(g.Key)).Msgf("key %q has no usable file name; pages skipped", g.Key)
			continue
		}
		p, ok := byName[name]
		if !ok {
			p = &pending{}
			byName[name] = p
			order = append(order, name)
		} else {
			s.logger.Warn().Str("file", name).Str("key", string(g.Key)).
				Str("previous_key", string(p.keys[0])).
				Msgf("keys %q and %q share file name %s; pages merged", p.keys[0], g.Key, name)
		}
		p.keys = append(p.keys, g.Key)
		p.pages = append(p.pages, g.Pages...)
	}

	var arts []Artifact
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return arts, err
		}
		p := byName[name]
		if len(p.keys) > 1 {
			sort.Ints(p.pages)
		}
		dst := filepath.Join(outputDir, name+".pdf")
		if err := s.engine.ExtractPages(src, p.pages, dst); err != nil {
			return arts, fmt.Errorf("write %s: %w", dst, err)
		}
		s.logger.Info().Str("file", filepath.Base(dst)).Int("pages", len(p.pages)).
			Msgf("saved %s (%d pages)", filepath.Base(dst), len(p.pages))
		arts = append(arts, Artifact{Keys: p.keys, Path: dst, Pages: len(p.pages)})
	}
	return arts, nil
}

// SafeName turns a key into a file name: control characters and path
// separators are dropped, whitespace runs become "_".
func SafeName(key string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.TrimSpace(key) {
		switch {
		case unicode.IsSpace(r):
			gap = true
			continue
		case unicode.IsControl(r), r == '/', r == '\\':
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('_')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}
