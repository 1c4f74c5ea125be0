// Package calendar renders collection dates as an iCalendar feed.
package calendar

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
)

const (
	ProductID = "-//blaue-tonne-service//Abfuhrkalender//DE"
	Timezone  = "Europe/Berlin"
	Summary   = "Blaue Tonne"

	dateLayout = "2006-01-02T15:04:05"

	// maxLineOctets is the content line limit before folding, excluding CRLF.
	maxLineOctets = 75
)

var textEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

// WriteICS writes one all-day VEVENT per distinct date of s, sorted ascending.
// UIDs are derived from date and district so subscribers see stable events across refreshes.
// Dates that do not parse are skipped.
func WriteICS(w io.Writer, s models.Schedule, now time.Time) error {
	bw := bufio.NewWriter(w)
	line := func(format string, args ...interface{}) {
		bw.WriteString(fold(fmt.Sprintf(format, args...)))
		bw.WriteString("\r\n")
	}

	district := textEscaper.Replace(s.District)
	stamp := now.UTC().Format("20060102T150405Z")

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:%s", ProductID)
	line("METHOD:PUBLISH")
	line("CALSCALE:GREGORIAN")
	line("X-WR-CALNAME:%s %s", Summary, district)
	line("X-WR-TIMEZONE:%s", Timezone)
	line("X-PUBLISHED-TTL:P1D")

	for _, day := range distinctDays(s.Dates) {
		line("BEGIN:VEVENT")
		line("UID:%s-%s-%s@blaue-tonne-service", day.Format("20060102"), s.Landkreis, uidPart(s.District))
		line("DTSTAMP:%s", stamp)
		line("DTSTART;VALUE=DATE:%s", day.Format("20060102"))
		line("DTEND;VALUE=DATE:%s", day.AddDate(0, 0, 1).Format("20060102"))
		line("SUMMARY:%s", Summary)
		line("DESCRIPTION:Abfuhr %s in %s", Summary, district)
		line("LOCATION:%s", district)
		line("TRANSP:TRANSPARENT")
		line("END:VEVENT")
	}

	line("END:VCALENDAR")
	return bw.Flush()
}

// fold splits a content line into physical lines of at most maxLineOctets octets,
// continuing each with CRLF and a space. Multi-byte runes are never split.
func fold(content string) string {
	if len(content) <= maxLineOctets {
		return content
	}
	var b strings.Builder
	n := 0
	for _, r := range content {
		size := utf8.RuneLen(r)
		if size < 0 {
			size = 1
		}
		if n+size > maxLineOctets {
			b.WriteString("\r\n ")
			n = 1
		}
		b.WriteRune(r)
		n += size
	}
	return b.String()
}

func distinctDays(dates []string) []time.Time {
	seen := make(map[time.Time]bool, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			continue
		}
		if !seen[t] {
			seen[t] = true
			days = append(days, t)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// uidPart reduces a district name to characters safe in a UID.
func uidPart(district string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(district) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
			b.WriteByte('-')
		default:
			fmt.Fprintf(&b, "u%04x", r)
		}
	}
	return b.String()
}
