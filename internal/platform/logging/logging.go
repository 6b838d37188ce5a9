// Package logging builds the process logger and per-run transcripts.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatECS     = "ecs"
)

type Options struct {
	Format string
	Level  string
	Out    io.Writer
}

// New builds a logger for opts. Console output carries no timestamps so the
// operator sees the same text as the run transcript.
func New(opts Options) (zerolog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var logger zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:          out,
			NoColor:      out != os.Stdout,
			PartsExclude: []string{zerolog.TimestampFieldName},
		})
	case FormatJSON:
		logger = zerolog.New(out).With().Timestamp().Logger()
	case FormatECS:
		logger = ecszerolog.New(out)
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}
	return logger.Level(level), nil
}

// Entry is one transcript line.
type Entry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (e Entry) String() string {
	if e.Level == "" {
		return e.Message
	}
	return strings.ToUpper(e.Level) + " " + e.Message
}

// Transcript records the messages of one run. It is a zerolog hook, so the
// messages are captured independently of the logger's output format.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTranscript() *Transcript { return &Transcript{} }

// Run implements zerolog.Hook.
func (t *Transcript) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if msg == "" {
		return
	}
	lvl := ""
	if level != zerolog.NoLevel {
		lvl = level.String()
	}
	t.mu.Lock()
	t.entries = append(t.entries, Entry{Level: lvl, Message: msg})
	t.mu.Unlock()
}

func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lines renders the transcript as human-readable lines.
func (t *Transcript) Lines() []string {
	entries := t.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

func (t *Transcript) String() string {
	return strings.Join(t.Lines(), "\n")
}

// Tee returns a logger that writes like base and also records into t.
func Tee(base zerolog.Logger, t *Transcript) zerolog.Logger {
	return base.Hook(t)
}
