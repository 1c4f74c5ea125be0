package testhelpers

import (
	"bytes"
	"fmt"
	"strings"
)

// Fixture geometry. Every glyph of the embedded font is GlyphWidth/1000 em wide.
const (
	FontSize   = 10.0
	GlyphWidth = 500
)

// TextRun is a string drawn with its baseline origin at X, Y (points, origin bottom-left).
type TextRun struct {
	X, Y float64
	Text string
}

// Grid lays rows out as a table whose top-left cell starts at (x, y).
// Empty strings leave the cell blank.
func Grid(rows [][]string, x, y, colWidth, rowHeight float64) []TextRun {
	var runs []TextRun
	for r, cells := range rows {
		for c, text := range cells {
			if text == "" {
				continue
			}
			runs = append(runs, TextRun{
				X:    x + float64(c)*colWidth,
				Y:    y - float64(r)*rowHeight,
				Text: text,
			})
		}
	}
	return runs
}

// BuildPDF renders a minimal PDF 1.4 document, one page per argument, using a
// WinAnsi-encoded Helvetica at FontSize. Only Latin-1 text is representable.
func BuildPDF(pages ...[]TextRun) []byte {
	var buf bytes.Buffer
	var offsets []int

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	widths := strings.TrimSpace(strings.Repeat(fmt.Sprintf("%d ", GlyphWidth), 224))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding " +
		"/FirstChar 32 /LastChar 255 /Widths [" + widths + "] >>")

	for i, runs := range pages {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))

		var content strings.Builder
		for _, run := range runs {
			fmt.Fprintf(&content, "BT /F1 %.0f Tf 1 0 0 1 %.2f %.2f Tm (%s) Tj ET\n",
				FontSize, run.X, run.Y, pdfString(run.Text))
		}
		stream := content.String()
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// pdfString escapes s for a literal string; runes above ASCII become octal Latin-1 bytes.
func pdfString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xFF:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
