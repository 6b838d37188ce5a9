// Package extract pulls an identifying key (national ID or full name) out of
// the plain text of a single document page.
//
// Every key kind is served by an ordered list of rules. Rules are evaluated in
// order and the first one that produces a non-empty value wins; there is no
// scoring and no "best" match. A page for which no rule matches yields no key,
// which callers report and skip.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind selects which family of rules is applied to a page.
type Kind int

const (
	// KindNationalID extracts a national ID (digits only).
	KindNationalID Kind = iota
	// KindNameLabeled extracts a full name that follows a "Nombre:" or
	// "SR/A" label on the same page (EEG and psychometric reports).
	KindNameLabeled
	// KindNameStacked extracts a name printed as two lines (surname, given
	// names) right after a "grupo pacientes" line (spirometry reports).
	KindNameStacked
)

func (k Kind) String() string {
	switch k {
	case KindNationalID:
		return "national-id"
	case KindNameLabeled:
		return "name-labeled"
	case KindNameStacked:
		return "name-stacked"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key is a normalized identifying key. Two pages belong to the same patient
// exactly when their keys are equal.
type Key string

func (k Key) String() string { return string(k) }

// Rule is one step of a fallback chain.
type Rule struct {
	Name  string
	Match func(text string) (string, bool)
}

// Func extracts a key from page text.
type Func func(text string) (Key, bool)

// -- ID rules --

var (
	parenthesizedID = regexp.MustCompile(`\(\s*[A-Z]?\s*([0-9.]{6,15})\s*\)`)
	labeledID       = regexp.MustCompile(`DNI[\s:]*([0-9.]{6,15})`)
)

// -- labeled name rules --

var (
	nameLabel      = regexp.MustCompile(`(?i)Nombres?:\s*([A-ZÁÉÍÓÚÜÑ\s]+)`)
	nameLabelStop  = regexp.MustCompile(`(?i)\bFECHA\b`)
	honorificLabel = regexp.MustCompile(`(?i)SR/A\s+([A-ZÁÉÍÓÚÜÑ\s]+)`)
	honorificStop  = regexp.MustCompile(`(?i)\b(FECHA|TEST|EVALUADOS?)\b`)
)

const stackedTrigger = "grupo pacientes"

var nationalIDRules = []Rule{
	{Name: "parenthesized-id", Match: captureRule(parenthesizedID, nil, NormalizeID)},
	{Name: "dni-label", Match: captureRule(labeledID, nil, NormalizeID)},
}

var labeledNameRules = []Rule{
	{Name: "nombre-label", Match: captureRule(nameLabel, nameLabelStop, NormalizeName)},
	{Name: "sra-label", Match: captureRule(honorificLabel, honorificStop, NormalizeName)},
}

var stackedNameRules = []Rule{
	{Name: "grupo-pacientes", Match: stackedName},
}

// Rules returns the ordered rule chain for kind. The returned slice must not
// be modified.
func Rules(kind Kind) []Rule {
	switch kind {
	case KindNationalID:
		return nationalIDRules
	case KindNameLabeled:
		return labeledNameRules
	case KindNameStacked:
		return stackedNameRules
	default:
		return nil
	}
}

// Extract runs the rule chain for kind against text.
func Extract(text string, kind Kind) (Key, bool) {
	return ExtractWith(text, Rules(kind))
}

// ExtractWith runs an explicit rule chain against text. The first rule that
// yields a non-empty value wins.
func ExtractWith(text string, rules []Rule) (Key, bool) {
	for _, r := range rules {
		if v, ok := r.Match(text); ok && v != "" {
			return Key(v), true
		}
	}
	return "", false
}

// For returns an extraction function bound to kind.
func For(kind Kind) Func {
	rules := Rules(kind)
	return func(text string) (Key, bool) {
		return ExtractWith(text, rules)
	}
}

// captureRule builds a rule from a pattern whose first group holds the value.
// When stop is set, the value is cut at the first stop match.
func captureRule(re, stop *regexp.Regexp, normalize func(string) string) func(string) (string, bool) {
	return func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		v := m[1]
		if stop != nil {
			if loc := stop.FindStringIndex(v); loc != nil {
				v = v[:loc[0]]
			}
		}
		v = normalize(v)
		return v, v != ""
	}
}

func stackedName(text string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), stackedTrigger) {
			continue
		}
		if i+2 >= len(lines) {
			return "", false
		}
		surname := strings.TrimSpace(lines[i+1])
		given := strings.TrimSpace(lines[i+2])
		if surname == "" || given == "" {
			return "", false
		}
		name := strings.ToUpper(norm.NFC.String(surname + "_" + given))
		return strings.ReplaceAll(name, " ", "_"), true
	}
	return "", false
}

// NormalizeID keeps only the digits of an ID, dropping thousands separators
// and any other punctuation.
func NormalizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName composes accents (NFC), collapses every whitespace run into a
// single space, trims and upper-cases.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.ToUpper(strings.Join(fields, " "))
}
