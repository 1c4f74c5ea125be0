package validation

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrDistrictEmpty is returned when district is empty or whitespace-only after trim.
var ErrDistrictEmpty = errors.New("district is required")

// ErrDistrictTooShort is returned when district length is below the minimum.
var ErrDistrictTooShort = errors.New("district too short")

// ErrDistrictTooLong is returned when district length exceeds the maximum.
var ErrDistrictTooLong = errors.New("district too long")

// ErrDistrictInvalidChars is returned when district contains disallowed characters.
var ErrDistrictInvalidChars = errors.New("district contains invalid characters")

// ValidateDistrict trims the input, normalizes it to NFC, enforces length bounds
// (minLen, maxLen in runes; 0 disables a bound) and restricts it to the characters
// that appear in municipality names: letters, digits, space, period, comma, hyphen,
// apostrophe and parentheses. Case is preserved; district matching is exact.
func ValidateDistrict(input string, minLen, maxLen int) (string, error) {
	s := norm.NFC.String(strings.TrimSpace(input))
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrDistrictEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrDistrictTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrDistrictTooLong
	}
	for _, c := range r {
		if !isAllowedDistrictRune(c) {
			return "", ErrDistrictInvalidChars
		}
	}
	return s, nil
}

func isAllowedDistrictRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '.', ',', '-', '\'', '(', ')':
		return true
	}
	return false
}
