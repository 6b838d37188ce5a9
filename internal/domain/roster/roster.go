// Package roster loads the master patient list of a compilation date.
package roster

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/cbm/medreport/internal/domain/extract"
)

var (
	ErrRosterNotFound = errors.New("roster file not found")
	ErrMissingColumns = errors.New("roster is missing required columns")
	ErrEmptyRoster    = errors.New("roster has no header row")
	ErrRowOutOfRange  = errors.New("roster row out of range")
)

// Column headers.
const (
	ColDate      = "FECHA"
	ColLastName  = "APELLIDOS"
	ColFirstName = "NOMBRES"
	ColID        = "DNI"
	ColDetail    = "DETALLE"
)

var requiredColumns = []string{ColDate, ColLastName, ColFirstName, ColID, ColDetail}

// ordinalHeaders are the accepted spellings of the row-number column.
var ordinalHeaders = []string{"Nº", "N°", "NRO", "NRO.", "NUMERO", "NÚMERO"}

// PatientRecord is one retained roster row.
type PatientRecord struct {
	// Index is the 0-based position among retained records.
	Index int `json:"index"`
	// SheetRow is the 1-based spreadsheet row the record came from.
	SheetRow int `json:"sheet_row"`
	// Ordinal names the per-patient cover file (<Ordinal>.xlsx).
	Ordinal    int      `json:"ordinal"`
	Date       string   `json:"date"`
	LastName   string   `json:"last_name"`
	FirstName  string   `json:"first_name"`
	NationalID string   `json:"national_id"`
	Detail     string   `json:"detail"`
	Tokens     []string `json:"tokens"`
}

// ID returns the national ID with separators stripped.
func (p PatientRecord) ID() string {
	return extract.NormalizeID(p.NationalID)
}

func (p PatientRecord) String() string {
	return fmt.Sprintf("%s %s (%s)", p.LastName, p.FirstName, p.NationalID)
}

// Dropped is a data row excluded because an identity field is blank or the
// DNI holds no digits.
type Dropped struct {
	SheetRow int    `json:"sheet_row"`
	Reason   string `json:"reason"`
}

// Roster is the parsed master list.
type Roster struct {
	Path    string          `json:"path"`
	Records []PatientRecord `json:"records"`
	Dropped []Dropped       `json:"dropped,omitempty"`
}

// Record returns the record at 0-based index i.
func (r *Roster) Record(i int) (PatientRecord, error) {
	if i < 0 || i >= len(r.Records) {
		return PatientRecord{}, fmt.Errorf("%w: %d (have %d)", ErrRowOutOfRange, i, len(r.Records))
	}
	return r.Records[i], nil
}

// Load reads the first sheet of the workbook at path.
func Load(path string) (*Roster, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRosterNotFound, path)
		}
		return nil, fmt.Errorf("stat roster: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open roster %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	r, err := FromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.Path = path
	return r, nil
}

// FromRows parses a header row followed by data rows.
func FromRows(rows [][]string) (*Roster, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyRoster
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		h = strings.ToUpper(strings.TrimSpace(h))
		if _, dup := cols[h]; h != "" && !dup {
			cols[h] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	ordinalCol := -1
	for _, h := range ordinalHeaders {
		if i, ok := cols[strings.ToUpper(h)]; ok {
			ordinalCol = i
			break
		}
	}

	r := &Roster{}
	for n, row := range rows[1:] {
		sheetRow := n + 2
		cell := func(col string) string {
			i := cols[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if blank(row) {
			continue
		}

		rec := PatientRecord{
			SheetRow:   sheetRow,
			Date:       cell(ColDate),
			LastName:   cell(ColLastName),
			FirstName:  cell(ColFirstName),
			NationalID: cell(ColID),
			Detail:     cell(ColDetail),
		}
		var absent []string
		if rec.LastName == "" {
			absent = append(absent, ColLastName)
		}
		if rec.FirstName == "" {
			absent = append(absent, ColFirstName)
		}
		if rec.NationalID == "" {
			absent = append(absent, ColID)
		}
		if len(absent) > 0 {
			r.Dropped = append(r.Dropped, Dropped{SheetRow: sheetRow, Reason: "blank " + strings.Join(absent, ", ")})
			continue
		}
		if rec.ID() == "" {
			r.Dropped = append(r.Dropped, Dropped{SheetRow: sheetRow, Reason: fmt.Sprintf("%s %q has no digits", ColID, rec.NationalID)})
			continue
		}

		rec.Ordinal = n + 1
		if ordinalCol >= 0 && ordinalCol < len(row) {
			if v, ok := parseOrdinal(row[ordinalCol]); ok {
				rec.Ordinal = v
			}
		}
		rec.Tokens = ParseTokens(rec.Detail)
		rec.Index = len(r.Records)
		r.Records = append(r.Records, rec)
	}
	return r, nil
}

// ParseTokens upper-cases a detail field, drops commas and splits it on "+".
// "basico, + altura" yields [BASICO ALTURA].
func ParseTokens(detail string) []string {
	detail = strings.ReplaceAll(strings.ToUpper(detail), ",", "")
	var tokens []string
	for _, t := range strings.Split(detail, "+") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func parseOrdinal(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, v > 0
	}
	// Numeric cells may come back formatted as "3.0".
	if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 && v == float64(int(v)) {
		return int(v), true
	}
	return 0, false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
