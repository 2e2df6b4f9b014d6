package vin

import (
	"errors"
	"fmt"
	"strings"
)

// Length is the size of a canonical ISO 3779 VIN.
const Length = 17

// CheckDigitIndex is the zero-based position of the check digit.
const CheckDigitIndex = 8

var ErrMalformed = errors.New("malformed vin")

var weights = [Length]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

var letterValues = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

type Validation struct {
	Passed     bool     `json:"passed"`
	Normalized string   `json:"normalized"`
	Errors     []string `json:"errors,omitempty"`
	CheckDigit string   `json:"check_digit,omitempty"`
	Expected   string   `json:"expected_check_digit,omitempty"`
}

// Validate normalizes raw and verifies its check digit. A checksum mismatch is
// reported through Passed only; Errors lists malformed input.
func Validate(raw string) Validation {
	normalized := Normalize(raw)
	result := Validation{Normalized: normalized}

	if len(normalized) != Length {
		result.Errors = append(result.Errors,
			fmt.Sprintf("vin must be %d characters, got %d", Length, len(normalized)))
		return result
	}

	expected, err := ExpectedCheckDigit(normalized)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.CheckDigit = string(normalized[CheckDigitIndex])
	result.Expected = string(expected)
	result.Passed = normalized[CheckDigitIndex] == expected
	return result
}

// Normalize uppercases s and drops every character outside [A-HJ-NPR-Z0-9].
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if isVINChar(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExpectedCheckDigit computes the ISO 3779 check digit of a 17 character VIN.
func ExpectedCheckDigit(v string) (byte, error) {
	if len(v) != Length {
		return 0, fmt.Errorf("%w: length %d", ErrMalformed, len(v))
	}

	sum := 0
	for i := 0; i < Length; i++ {
		value, ok := transliterate(v[i])
		if !ok {
			return 0, fmt.Errorf("%w: illegal character %q at position %d", ErrMalformed, v[i], i+1)
		}
		sum += value * weights[i]
	}

	remainder := sum % 11
	if remainder == 10 {
		return 'X', nil
	}
	return byte('0' + remainder), nil
}

// IsValid reports whether v is already canonical and carries a matching check digit.
func IsValid(v string) bool {
	expected, err := ExpectedCheckDigit(v)
	if err != nil {
		return false
	}
	return v[CheckDigitIndex] == expected
}

func transliterate(c byte) (int, bool) {
	if c >= '0' && c <= '9' {
		return int(c - '0'), true
	}
	value, ok := letterValues[c]
	return value, ok
}

func isVINChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return r != 'I' && r != 'O' && r != 'Q'
	}
	return false
}
