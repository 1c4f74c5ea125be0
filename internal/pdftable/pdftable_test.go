package pdftable

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ledongthuc/pdf"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/testhelpers"
)

func TestExtract_SingleTable(t *testing.T) {
	rows := [][]string{
		{"Bezirk", "Januar", "Februar"},
		{"Bad Aibling", "08.01.25", "05.02.25"},
		{"Kolbermoor", "09.01.25", "06.02.25"},
	}
	data := testhelpers.BuildPDF(testhelpers.Grid(rows, 40, 780, 120, 14))

	got, err := Extract(data, []int{1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 || got[0].Page != 1 {
		t.Fatalf("Extract() pages = %+v, want one entry for page 1", got)
	}
	want := []models.Table{rows}
	if !reflect.DeepEqual(got[0].Tables, want) {
		t.Errorf("Extract() tables = %q, want %q", got[0].Tables, want)
	}
}

func TestExtract_BlankCellsKeepColumns(t *testing.T) {
	rows := [][]string{
		{"Bruckmühl", "", "14.03.25"},
		{"", "02.02.25", "15.03.25"},
	}
	data := testhelpers.BuildPDF(testhelpers.Grid(rows, 40, 700, 120, 14))

	got, err := Extract(data, []int{1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []models.Table{rows}
	if !reflect.DeepEqual(got[0].Tables, want) {
		t.Errorf("Extract() tables = %q, want %q", got[0].Tables, want)
	}
}

func TestExtract_SplitsTablesOnVerticalGap(t *testing.T) {
	first := [][]string{
		{"Au", "01.01.25"},
		{"Babensham", "02.01.25"},
		{"Brannenburg", "03.01.25"},
	}
	second := [][]string{
		{"Edling", "04.01.25"},
		{"Eiselfing", "05.01.25"},
	}
	runs := append(testhelpers.Grid(first, 40, 780, 120, 14), testhelpers.Grid(second, 40, 600, 120, 14)...)
	data := testhelpers.BuildPDF(runs)

	got, err := Extract(data, []int{1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []models.Table{first, second}
	if !reflect.DeepEqual(got[0].Tables, want) {
		t.Errorf("Extract() tables = %q, want %q", got[0].Tables, want)
	}
}

func TestExtract_PagesInRequestedOrder(t *testing.T) {
	page1 := testhelpers.Grid([][]string{{"Feldkirchen", "10.01.25"}}, 40, 780, 120, 14)
	page2 := testhelpers.Grid([][]string{{"Flintsbach", "11.01.25"}}, 40, 780, 120, 14)
	data := testhelpers.BuildPDF(page1, page2)

	got, err := Extract(data, []int{2, 1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Extract() returned %d pages, want 2", len(got))
	}
	if got[0].Page != 2 || got[1].Page != 1 {
		t.Errorf("Extract() page order = %d,%d, want 2,1", got[0].Page, got[1].Page)
	}
	if got[0].Tables[0][0][0] != "Flintsbach" {
		t.Errorf("page 2 first cell = %q, want Flintsbach", got[0].Tables[0][0][0])
	}
}

func TestExtract_EmptyPageHasNoTables(t *testing.T) {
	data := testhelpers.BuildPDF(nil)

	got, err := Extract(data, []int{1})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got[0].Tables) != 0 {
		t.Errorf("Extract() tables = %q, want none", got[0].Tables)
	}
}

func TestExtract_PageOutOfRange(t *testing.T) {
	data := testhelpers.BuildPDF(testhelpers.Grid([][]string{{"Halfing"}}, 40, 780, 120, 14))

	for _, page := range []int{0, 2, -1} {
		_, err := Extract(data, []int{page})
		if !errors.Is(err, ErrPageOutOfRange) {
			t.Errorf("Extract(page %d) error = %v, want ErrPageOutOfRange", page, err)
		}
	}
}

func TestExtract_InvalidPDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"html", []byte("<html><body>moved</body></html>")},
		{"truncated", testhelpers.BuildPDF(nil)[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.data, []int{1})
			if !errors.Is(err, ErrInvalidPDF) {
				t.Errorf("Extract() error = %v, want ErrInvalidPDF", err)
			}
		})
	}
}

func TestBuildFragments_ZeroWidthGlyphs(t *testing.T) {
	e := New(Options{})
	glyphs := []glyph{
		{x: 10, y: 100, size: 10, s: "A"},
		{x: 10, y: 100, size: 10, s: "u"},
		{x: 200, y: 100, size: 10, s: "0"},
		{x: 200, y: 100, size: 10, s: "1"},
	}

	frags := e.buildFragments(glyphs)
	if len(frags) != 2 {
		t.Fatalf("buildFragments() = %d fragments, want 2", len(frags))
	}
	if got := frags[0].text.String(); got != "Au" {
		t.Errorf("first fragment = %q, want Au", got)
	}
	if got := frags[1].text.String(); got != "01" {
		t.Errorf("second fragment = %q, want 01", got)
	}
}

func TestBuildFragments_ExplicitSpaceGlyph(t *testing.T) {
	e := New(Options{})
	glyphs := []glyph{
		{x: 10, y: 100, w: 5, size: 10, s: "a"},
		{x: 15, y: 100, w: 0, size: 10, s: " "},
		{x: 15, y: 100, w: 5, size: 10, s: "b"},
	}

	frags := e.buildFragments(glyphs)
	if len(frags) != 1 || frags[0].text.String() != "a b" {
		t.Errorf("buildFragments() = %v, want single fragment \"a b\"", fragmentTexts(frags))
	}
}

func TestPageTables_FromPDFText(t *testing.T) {
	e := New(Options{})
	texts := []pdf.Text{
		{FontSize: 10, X: 40, Y: 500, W: 5, S: "X"},
		{FontSize: 10, X: 160, Y: 500, W: 5, S: "1"},
		{FontSize: 10, X: 40, Y: 486, W: 5, S: "Y"},
	}

	got := e.pageTables(texts)
	want := []models.Table{{{"X", "1"}, {"Y", ""}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pageTables() = %q, want %q", got, want)
	}
}

func TestColumnAnchors(t *testing.T) {
	got := columnAnchors([]float64{160, 40, 41.5, 280, 158}, 4)
	want := []float64{40, 158, 280}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("columnAnchors() = %v, want %v", got, want)
	}

	if col := columnFor(want, 161, 4); col != 1 {
		t.Errorf("columnFor(161) = %d, want 1", col)
	}
	if col := columnFor(want, 10, 4); col != 0 {
		t.Errorf("columnFor(10) = %d, want 0", col)
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median(odd) = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("median(even) = %v, want 2.5", got)
	}
}

func fragmentTexts(frags []*fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.text.String()
	}
	return out
}
