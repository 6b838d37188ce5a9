// Package study resolves, for one patient and one study type, the single
// patient document that goes into the report packet.
package study

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cbm/medreport/internal/domain/extract"
)

var (
	// ErrNotFound means no document could be resolved for the study.
	ErrNotFound = errors.New("study document not found")
	// ErrAmbiguous means several candidates matched where one was required.
	ErrAmbiguous = errors.New("ambiguous study document match")
	// ErrMissingIdentity means the patient lacks the field the study is keyed on.
	ErrMissingIdentity = errors.New("patient identity field missing")
	ErrUnknownStudy    = errors.New("unknown study type")
)

// Type is one diagnostic category.
type Type int

const (
	Lab Type = iota + 1
	ECG
	RX
	Audiometry
	EEG
	Psychometric
	Spirometry
)

// All lists every study type in declaration order.
var All = []Type{Lab, ECG, RX, Audiometry, EEG, Psychometric, Spirometry}

var names = map[Type]string{
	Lab:          "LAB",
	ECG:          "ECG",
	RX:           "RX",
	Audiometry:   "AUDIOMETRIA",
	EEG:          "EEG",
	Psychometric: "PSICOS",
	Spirometry:   "ESPIROMETRIA",
}

func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("study(%d)", int(t))
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Folder is the directory and bulk-document prefix used for the study.
func (t Type) Folder() string {
	if t == Lab {
		return "LABORATORIO"
	}
	return t.String()
}

// Splittable reports whether the study arrives as one bulk document that is
// partitioned per patient.
func (t Type) Splittable() bool {
	_, ok := t.KeyKind()
	return ok
}

// KeyKind returns the extraction rules used to partition the study's bulk
// document.
func (t Type) KeyKind() (extract.Kind, bool) {
	switch t {
	case Lab, Audiometry:
		return extract.KindNationalID, true
	case EEG, Psychometric:
		return extract.KindNameLabeled, true
	case Spirometry:
		return extract.KindNameStacked, true
	default:
		return 0, false
	}
}

// LazySplit reports whether lookup populates the split directory on demand.
func (t Type) LazySplit() bool {
	return t == EEG || t == Psychometric || t == Spirometry
}

// Parse accepts a study name or its folder name, case-insensitively.
func Parse(s string) (Type, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, t := range All {
		if s == t.String() || s == t.Folder() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStudy, s)
}

// Packages maps a requested package token to the studies it bundles, in
// report order.
var Packages = map[string][]Type{
	"BASICO":       {Lab, ECG, RX},
	"ALTURA":       {EEG, Psychometric, Audiometry},
	"AUDIOMETRIA":  {Audiometry},
	"PSICOTECNICO": {Psychometric},
	"ESPIROMETRIA": {Spirometry},
}

// Expand maps tokens to studies, keeping token order and then package order.
// A study requested by more than one token is kept at its first position.
// Unknown tokens are returned separately.
func Expand(tokens []string) (studies []Type, unknown []string) {
	seen := make(map[Type]bool)
	for _, tok := range tokens {
		list, ok := Packages[strings.ToUpper(strings.TrimSpace(tok))]
		if !ok {
			unknown = append(unknown, tok)
			continue
		}
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				studies = append(studies, t)
			}
		}
	}
	return studies, unknown
}
