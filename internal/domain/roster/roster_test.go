package roster

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

var header = []string{"Nº", "FECHA", "APELLIDOS", "NOMBRES", "DNI", "DETALLE"}

func TestFromRows(t *testing.T) {
	rows := [][]string{
		header,
		{"1", "02/05/2024", "GOMEZ", "ANA", "30.111.222", "BASICO"},
		{"2", "02/05/2024", "PEREZ", "", "28000111", "ALTURA"},
		{},
		{"4", "02/05/2024", "DIAZ LOPEZ", "Juan Carlos", "31222333", "basico, + espirometria"},
		{"5", "02/05/2024", "SOSA", "LUIS", "", ""},
	}
	r, err := FromRows(rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if len(r.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(r.Records))
	}

	gomez := r.Records[0]
	if gomez.Ordinal != 1 || gomez.Index != 0 || gomez.SheetRow != 2 {
		t.Errorf("unexpected positions: %+v", gomez)
	}
	if gomez.ID() != "30111222" {
		t.Errorf("ID() = %q", gomez.ID())
	}

	diaz := r.Records[1]
	if diaz.Ordinal != 4 || diaz.Index != 1 {
		t.Errorf("unexpected positions: %+v", diaz)
	}
	if !reflect.DeepEqual(diaz.Tokens, []string{"BASICO", "ESPIROMETRIA"}) {
		t.Errorf("tokens = %v", diaz.Tokens)
	}

	if len(r.Dropped) != 2 {
		t.Fatalf("expected 2 dropped rows, got %+v", r.Dropped)
	}
	if r.Dropped[0].SheetRow != 3 || !strings.Contains(r.Dropped[0].Reason, ColFirstName) {
		t.Errorf("unexpected drop %+v", r.Dropped[0])
	}
	if r.Dropped[1].SheetRow != 6 || !strings.Contains(r.Dropped[1].Reason, ColID) {
		t.Errorf("unexpected drop %+v", r.Dropped[1])
	}
}

func TestFromRows_DropsIDWithoutDigits(t *testing.T) {
	r, err := FromRows([][]string{
		header,
		{"1", "02/05/2024", "GOMEZ", "ANA", "S/D", "BASICO"},
		{"2", "02/05/2024", "GOMEZ", "LUIS", "-", "BASICO"},
		{"3", "02/05/2024", "PEREZ", "JUAN", "DNI 28.000.111", "ALTURA"},
	})
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if len(r.Records) != 1 || r.Records[0].ID() != "28000111" || r.Records[0].Index != 0 {
		t.Fatalf("expected only PEREZ retained at index 0, got %+v", r.Records)
	}
	if len(r.Dropped) != 2 {
		t.Fatalf("expected 2 dropped rows, got %+v", r.Dropped)
	}
	for i, want := range []int{2, 3} {
		d := r.Dropped[i]
		if d.SheetRow != want || !strings.Contains(d.Reason, "no digits") {
			t.Errorf("unexpected drop %+v", d)
		}
	}
	if !strings.Contains(r.Dropped[0].Reason, `"S/D"`) {
		t.Errorf("reason should quote the cell: %s", r.Dropped[0].Reason)
	}
}

func TestFromRows_MissingColumns(t *testing.T) {
	_, err := FromRows([][]string{{"FECHA", "APELLIDOS", "NOMBRES"}})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	if !strings.Contains(err.Error(), "DNI") || !strings.Contains(err.Error(), "DETALLE") {
		t.Errorf("error should name the missing columns: %v", err)
	}
}

func TestFromRows_Empty(t *testing.T) {
	if _, err := FromRows(nil); !errors.Is(err, ErrEmptyRoster) {
		t.Fatalf("expected ErrEmptyRoster, got %v", err)
	}
}

func TestFromRows_OrdinalFallback(t *testing.T) {
	rows := [][]string{
		{" fecha ", "apellidos", "nombres", "dni", "detalle"},
		{"x", "A", "B", "1", ""},
		{"x", "C", "D", "2", "BASICO"},
	}
	r, err := FromRows(rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if r.Records[0].Ordinal != 1 || r.Records[1].Ordinal != 2 {
		t.Errorf("ordinals should follow data-row position: %+v", r.Records)
	}
	if len(r.Records[0].Tokens) != 0 {
		t.Errorf("blank detail should yield no tokens, got %v", r.Records[0].Tokens)
	}
}

func TestParseTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"BASICO", []string{"BASICO"}},
		{"basico + altura", []string{"BASICO", "ALTURA"}},
		{"BASICO, + AUDIOMETRIA,+PSICOTECNICO", []string{"BASICO", "AUDIOMETRIA", "PSICOTECNICO"}},
		{" + ", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := ParseTokens(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTokens(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"3", 3, true},
		{" 12 ", 12, true},
		{"3.0", 3, true},
		{"3.5", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseOrdinal(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseOrdinal(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRecord(t *testing.T) {
	r := &Roster{Records: []PatientRecord{{LastName: "GOMEZ"}}}
	if _, err := r.Record(0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := r.Record(1); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("expected ErrRowOutOfRange, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PRUEBA SISTEMA NUEVO.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{"Nº", "FECHA", "APELLIDOS", "NOMBRES", "DNI", "DETALLE"}); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &[]interface{}{1, "02/05/2024", "GOMEZ", "ANA", "30.111.222", "BASICO"}); err != nil {
		t.Fatalf("row: %v", err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.Close()

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Path != path || len(r.Records) != 1 {
		t.Fatalf("unexpected roster %+v", r)
	}
	rec := r.Records[0]
	if rec.LastName != "GOMEZ" || rec.Ordinal != 1 || rec.ID() != "30111222" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.xlsx"))
	if !errors.Is(err, ErrRosterNotFound) {
		t.Fatalf("expected ErrRosterNotFound, got %v", err)
	}
}
