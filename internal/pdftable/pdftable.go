// Package pdftable rebuilds tables from the positioned text of PDF pages.
//
// Schedule PDFs rarely carry structure beyond glyph positions, so tables are
// reconstructed geometrically:
//
//  1. glyphs on a shared baseline are merged into fragments; a small gap
//     becomes a space, a wide gap starts a new fragment
//  2. fragments are clustered into rows by baseline, top to bottom
//  3. rows are split into separate tables where the vertical pitch jumps
//  4. fragment left edges are aligned into column anchors per table and each
//     row is laid out as one cell per anchor ("" where nothing was printed)
package pdftable

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
)

var (
	ErrInvalidPDF     = errors.New("invalid pdf")
	ErrPageOutOfRange = errors.New("page out of range")
)

// PageTables holds the tables found on one 1-based page.
type PageTables struct {
	Page   int
	Tables []models.Table
}

// Options tunes the geometry heuristics. Font-relative values are multiples of the glyph font size.
type Options struct {
	// RowTolerance is the baseline distance below which two glyphs share a row.
	RowTolerance float64
	// WordGap is the horizontal gap above which a space is inserted inside a fragment.
	WordGap float64
	// CellGap is the horizontal gap above which a new fragment (cell) starts.
	CellGap float64
	// ColumnTolerance, in points, is how far left edges may drift and still share a column.
	ColumnTolerance float64
	// TableGap is the multiple of the median row pitch that separates two tables.
	TableGap float64
}

// DefaultOptions returns settings that work for typical office-generated schedule tables.
func DefaultOptions() Options {
	return Options{
		RowTolerance:    0.5,
		WordGap:         0.2,
		CellGap:         1.2,
		ColumnTolerance: 4,
		TableGap:        2.5,
	}
}

// Extractor turns PDF bytes into tables.
type Extractor struct {
	opts Options
}

// New returns an Extractor. Zero fields in opts take their default.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.RowTolerance <= 0 {
		opts.RowTolerance = def.RowTolerance
	}
	if opts.WordGap <= 0 {
		opts.WordGap = def.WordGap
	}
	if opts.CellGap <= 0 {
		opts.CellGap = def.CellGap
	}
	if opts.ColumnTolerance <= 0 {
		opts.ColumnTolerance = def.ColumnTolerance
	}
	if opts.TableGap <= 0 {
		opts.TableGap = def.TableGap
	}
	return &Extractor{opts: opts}
}

// Extract reads data with default options. See Extractor.Extract.
func Extract(data []byte, pages []int) ([]PageTables, error) {
	return New(Options{}).Extract(data, pages)
}

// Extract returns the tables of each requested 1-based page, in the order given.
// Pages beyond the document yield ErrPageOutOfRange; unreadable documents ErrInvalidPDF.
func (e *Extractor) Extract(data []byte, pages []int) (out []PageTables, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	numPages := reader.NumPage()

	out = make([]PageTables, 0, len(pages))
	for _, n := range pages {
		if n < 1 || n > numPages {
			return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, n, numPages)
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d missing", ErrPageOutOfRange, n)
		}
		out = append(out, PageTables{Page: n, Tables: e.pageTables(page.Content().Text)})
	}
	return out, nil
}

type glyph struct {
	x, y, w, size float64
	s             string
}

type fragment struct {
	x0, x1, y, size float64
	text            strings.Builder
}

type row struct {
	y     float64
	frags []*fragment
}

// pageTables runs the full pipeline over one page's glyphs.
func (e *Extractor) pageTables(texts []pdf.Text) []models.Table {
	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		size := t.FontSize
		if size <= 0 {
			size = 1
		}
		glyphs = append(glyphs, glyph{x: t.X, y: t.Y, w: t.W, size: size, s: t.S})
	}

	rows := e.clusterRows(e.buildFragments(glyphs))
	var tables []models.Table
	for _, group := range e.splitTables(rows) {
		tables = append(tables, e.layoutTable(group))
	}
	return tables
}

// buildFragments merges glyphs in content-stream order. Whitespace glyphs never start
// a fragment but force a space before the next glyph of the current one.
func (e *Extractor) buildFragments(glyphs []glyph) []*fragment {
	var frags []*fragment
	var cur *fragment
	pendingSpace := false

	for _, g := range glyphs {
		if strings.TrimSpace(g.s) == "" {
			if cur != nil {
				pendingSpace = true
				cur.x1 = math.Max(cur.x1, g.x+g.w)
			}
			continue
		}
		if cur != nil && e.continues(cur, g) {
			gap := g.x - cur.x1
			if pendingSpace || gap > e.opts.WordGap*g.size {
				cur.text.WriteByte(' ')
			}
			cur.text.WriteString(g.s)
			cur.x1 = math.Max(cur.x1, g.x+g.w)
			pendingSpace = false
			continue
		}
		cur = &fragment{x0: g.x, x1: g.x + g.w, y: g.y, size: g.size}
		cur.text.WriteString(g.s)
		frags = append(frags, cur)
		pendingSpace = false
	}
	return frags
}

func (e *Extractor) continues(cur *fragment, g glyph) bool {
	size := math.Max(cur.size, g.size)
	if math.Abs(g.y-cur.y) > e.opts.RowTolerance*size {
		return false
	}
	gap := g.x - cur.x1
	return gap >= -0.5*size && gap <= e.opts.CellGap*size
}

// clusterRows groups fragments by baseline, top of page first.
func (e *Extractor) clusterRows(frags []*fragment) []*row {
	sorted := append([]*fragment(nil), frags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].y != sorted[j].y {
			return sorted[i].y > sorted[j].y
		}
		return sorted[i].x0 < sorted[j].x0
	})

	var rows []*row
	for _, f := range sorted {
		if n := len(rows); n > 0 {
			last := rows[n-1]
			if math.Abs(last.y-f.y) <= e.opts.RowTolerance*f.size {
				last.frags = append(last.frags, f)
				continue
			}
		}
		rows = append(rows, &row{y: f.y, frags: []*fragment{f}})
	}
	for _, r := range rows {
		sort.SliceStable(r.frags, func(i, j int) bool { return r.frags[i].x0 < r.frags[j].x0 })
	}
	return rows
}

// splitTables cuts the row sequence wherever the gap to the previous row exceeds
// TableGap times the median pitch of the page.
func (e *Extractor) splitTables(rows []*row) [][]*row {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) < 3 {
		return [][]*row{rows}
	}

	pitches := make([]float64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		pitches = append(pitches, rows[i-1].y-rows[i].y)
	}
	limit := median(pitches) * e.opts.TableGap

	var groups [][]*row
	start := 0
	for i := 1; i < len(rows); i++ {
		if rows[i-1].y-rows[i].y > limit {
			groups = append(groups, rows[start:i])
			start = i
		}
	}
	return append(groups, rows[start:])
}

// layoutTable aligns fragment left edges into columns and emits one cell per column.
func (e *Extractor) layoutTable(rows []*row) models.Table {
	var edges []float64
	for _, r := range rows {
		for _, f := range r.frags {
			edges = append(edges, f.x0)
		}
	}
	anchors := columnAnchors(edges, e.opts.ColumnTolerance)

	table := make(models.Table, 0, len(rows))
	for _, r := range rows {
		cells := make([]string, len(anchors))
		for _, f := range r.frags {
			col := columnFor(anchors, f.x0, e.opts.ColumnTolerance)
			text := strings.TrimSpace(f.text.String())
			if cells[col] == "" {
				cells[col] = text
			} else {
				cells[col] += " " + text
			}
		}
		table = append(table, cells)
	}
	return table
}

// columnAnchors clusters sorted left edges; an edge more than tol beyond the
// previous one opens a new column anchored at its own position.
func columnAnchors(edges []float64, tol float64) []float64 {
	if len(edges) == 0 {
		return nil
	}
	sort.Float64s(edges)
	anchors := []float64{edges[0]}
	prev := edges[0]
	for _, x := range edges[1:] {
		if x-prev > tol {
			anchors = append(anchors, x)
		}
		prev = x
	}
	return anchors
}

// columnFor returns the index of the rightmost anchor at or left of x (within tol).
func columnFor(anchors []float64, x, tol float64) int {
	i := sort.Search(len(anchors), func(i int) bool { return anchors[i] > x+tol })
	if i == 0 {
		return 0
	}
	return i - 1
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
