// Package schedule locates a district in extracted plan tables and reads its collection dates.
package schedule

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/pdftable"
)

// DateLength is the number of runes in a short day-first date such as 08.01.25.
const DateLength = 8

// ISOLayout is the format of every returned date.
const ISOLayout = "2006-01-02T15:04:05"

var ErrDistrictNotFound = errors.New("district not found")

var (
	shortLayouts = []string{"02.01.06", "02/01/06", "02-01-06"}
	longLayouts  = []string{"02.01.2006", "02/01/2006", "02-01-2006"}
)

// FindDates returns the dates listed in the first row naming district and in the row
// directly below it. Pages, tables and rows are scanned in order.
func FindDates(pages []pdftable.PageTables, district string) ([]string, error) {
	want := canonical(district)
	if want == "" {
		return nil, ErrDistrictNotFound
	}
	for _, page := range pages {
		for _, table := range page.Tables {
			if idx := rowIndex(table, want); idx >= 0 {
				dates := ParseDates(table[idx])
				if idx+1 < len(table) {
					dates = append(dates, ParseDates(table[idx+1])...)
				}
				return dates, nil
			}
		}
	}
	return nil, ErrDistrictNotFound
}

func rowIndex(table models.Table, want string) int {
	for i, row := range table {
		for _, cell := range row {
			if canonical(cell) == want {
				return i
			}
		}
	}
	return -1
}

// ParseDates reads a date from every cell that holds one. A cell longer than
// DateLength is read from its tail, which drops weekday prefixes like "Mo ".
func ParseDates(row []string) []string {
	dates := make([]string, 0, len(row))
	for _, cell := range row {
		if t, ok := parseCell(cell); ok {
			dates = append(dates, t.Format(ISOLayout))
		}
	}
	return dates
}

func parseCell(cell string) (time.Time, bool) {
	runes := []rune(strings.TrimSpace(cell))
	if len(runes) < DateLength {
		return time.Time{}, false
	}
	if t, ok := parseAny(string(runes[len(runes)-DateLength:]), shortLayouts); ok {
		return t, true
	}
	if len(runes) >= 10 {
		return parseAny(string(runes[len(runes)-10:]), longLayouts)
	}
	return time.Time{}, false
}

func parseAny(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func canonical(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
