package calendar

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
)

var fixedNow = time.Date(2025, 1, 2, 8, 30, 0, 0, time.UTC)

func TestWriteICS(t *testing.T) {
	s := models.Schedule{
		Landkreis: "lk_rosenheim",
		District:  "Bad Aibling",
		Dates:     []string{"2025-01-22T00:00:00", "2025-01-08T00:00:00", "2025-01-08T00:00:00", "garbage"},
	}

	var buf bytes.Buffer
	if err := WriteICS(&buf, s, fixedNow); err != nil {
		t.Fatalf("WriteICS() error = %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n") {
		t.Errorf("missing calendar header:\n%s", out)
	}
	if !strings.HasSuffix(out, "END:VCALENDAR\r\n") {
		t.Errorf("missing calendar footer:\n%s", out)
	}
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 2 {
		t.Errorf("VEVENT count = %d, want 2 (duplicates and garbage dropped)", n)
	}

	first := strings.Index(out, "DTSTART;VALUE=DATE:20250108")
	second := strings.Index(out, "DTSTART;VALUE=DATE:20250122")
	if first < 0 || second < 0 || first > second {
		t.Errorf("events not sorted ascending:\n%s", out)
	}

	for _, want := range []string{
		"DTEND;VALUE=DATE:20250109",
		"UID:20250108-lk_rosenheim-bad-aibling@blaue-tonne-service",
		"DTSTAMP:20250102T083000Z",
		"LOCATION:Bad Aibling",
		"X-WR-CALNAME:Blaue Tonne Bad Aibling",
	} {
		if !strings.Contains(out, want+"\r\n") {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteICS_EscapesText(t *testing.T) {
	s := models.Schedule{Landkreis: "lk_rosenheim", District: "Prien a. Chiemsee, Nord", Dates: []string{"2025-03-01T00:00:00"}}

	var buf bytes.Buffer
	if err := WriteICS(&buf, s, fixedNow); err != nil {
		t.Fatalf("WriteICS() error = %v", err)
	}
	if !strings.Contains(buf.String(), `LOCATION:Prien a. Chiemsee\, Nord`) {
		t.Errorf("comma not escaped:\n%s", buf.String())
	}
}

func TestWriteICS_NoDates(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteICS(&buf, models.Schedule{District: "Au"}, fixedNow); err != nil {
		t.Fatalf("WriteICS() error = %v", err)
	}
	if strings.Contains(buf.String(), "BEGIN:VEVENT") {
		t.Errorf("unexpected event in empty calendar:\n%s", buf.String())
	}
}

func TestWriteICS_FoldsLongLines(t *testing.T) {
	district := strings.Repeat("Großkarolinenfeld ", 5) + "Süd"
	s := models.Schedule{Landkreis: "lk_rosenheim", District: district, Dates: []string{"2025-03-01T00:00:00"}}

	var buf bytes.Buffer
	if err := WriteICS(&buf, s, fixedNow); err != nil {
		t.Fatalf("WriteICS() error = %v", err)
	}
	out := buf.String()

	for _, physical := range strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n") {
		if len(physical) > 75 {
			t.Errorf("line of %d octets exceeds 75: %q", len(physical), physical)
		}
		if !utf8.ValidString(physical) {
			t.Errorf("fold split a rune: %q", physical)
		}
	}

	unfolded := strings.ReplaceAll(out, "\r\n ", "")
	if !strings.Contains(unfolded, "DESCRIPTION:Abfuhr Blaue Tonne in "+district+"\r\n") {
		t.Errorf("unfolded output missing description:\n%s", unfolded)
	}
	if !strings.Contains(unfolded, "LOCATION:"+district+"\r\n") {
		t.Errorf("unfolded output missing location:\n%s", unfolded)
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "SUMMARY:Blaue Tonne", "SUMMARY:Blaue Tonne"},
		{"exactly 75", strings.Repeat("a", 75), strings.Repeat("a", 75)},
		{"76", strings.Repeat("a", 76), strings.Repeat("a", 75) + "\r\n a"},
		{"continuation counts leading space", strings.Repeat("a", 75+75), strings.Repeat("a", 75) + "\r\n " + strings.Repeat("a", 74) + "\r\n a"},
		{"keeps runes whole", strings.Repeat("a", 74) + "ä", strings.Repeat("a", 74) + "\r\n ä"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fold(tt.in); got != tt.want {
				t.Errorf("fold() = %q, want %q", got, tt.want)
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteICS_WriterError(t *testing.T) {
	err := WriteICS(failingWriter{}, models.Schedule{District: "Au"}, fixedNow)
	if err == nil {
		t.Error("WriteICS() error = nil, want writer error")
	}
}

func TestUIDPart(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bad Aibling", "bad-aibling"},
		{"Prien a. Chiemsee", "prien-a--chiemsee"},
		{"Bruckmühl 1", "brucku00fchl-1"},
	}
	for _, tt := range tests {
		if got := uidPart(tt.in); got != tt.want {
			t.Errorf("uidPart(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
