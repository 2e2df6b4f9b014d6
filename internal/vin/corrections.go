package vin

import "strings"

// confusables lists OCR alternatives per glyph, in the order they are tried.
var confusables = map[byte][]byte{
	'O': {'0'},
	'0': {'O'},
	'I': {'1', 'L'},
	'1': {'I'},
	'S': {'5'},
	'5': {'S'},
	'Z': {'2'},
	'2': {'Z'},
	'G': {'6'},
	'6': {'G'},
	'B': {'8'},
	'8': {'B'},
}

var illegalLetters = strings.NewReplacer("O", "0", "I", "1", "Q", "0")

// SuggestCorrections searches single-glyph OCR fixes that make raw pass the
// checksum. Every returned string validates.
func SuggestCorrections(raw string) []string {
	candidate := prepare(raw)
	if len(candidate) != Length {
		return nil
	}

	if fixed := illegalLetters.Replace(candidate); fixed != candidate && IsValid(fixed) {
		return []string{fixed}
	}

	var (
		suggestions []string
		seen        = make(map[string]struct{})
	)
	buf := []byte(candidate)
	for i := 0; i < len(buf); i++ {
		original := buf[i]
		for _, alt := range confusables[original] {
			buf[i] = alt
			s := string(buf)
			if IsValid(s) {
				if _, dup := seen[s]; !dup {
					seen[s] = struct{}{}
					suggestions = append(suggestions, s)
				}
			}
		}
		buf[i] = original
	}
	return suggestions
}

// prepare keeps letters and digits, including I, O and Q, so that misread
// glyphs survive until they can be substituted.
func prepare(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
