package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrSubjectEmpty is returned when subject is empty or whitespace-only after trim.
var ErrSubjectEmpty = errors.New("subject is required")

// ErrTopicEmpty is returned when topic is empty or whitespace-only after trim.
var ErrTopicEmpty = errors.New("topic is required")

// ErrValueTooShort is returned when a field length is below the minimum.
var ErrValueTooShort = errors.New("value too short")

// ErrValueTooLong is returned when a field length exceeds the maximum.
var ErrValueTooLong = errors.New("value too long")

// ErrInvalidChars is returned when a field contains disallowed characters.
var ErrInvalidChars = errors.New("value contains invalid characters")

// ErrUnknownDifficulty is returned when difficulty is not one of the known levels.
var ErrUnknownDifficulty = errors.New("unknown difficulty level")

// Difficulty levels accepted by ValidateDifficulty. Empty means unspecified.
var difficulties = map[string]struct{}{
	"elementary": {},
	"middle":     {},
	"high":       {},
}

// ValidateSubject trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, apostrophe. Returns the trimmed string or an error suitable for 400
// INVALID_SUBJECT responses. Normalization (e.g. lowercase) is left to the service layer.
func ValidateSubject(input string, minLen, maxLen int) (string, error) {
	return validateField(input, minLen, maxLen, ErrSubjectEmpty)
}

// ValidateTopic trims and validates a topic with the same rules as subjects.
func ValidateTopic(input string, minLen, maxLen int) (string, error) {
	return validateField(input, minLen, maxLen, ErrTopicEmpty)
}

// ValidateDifficulty trims and lowercases the input and checks it against the
// known difficulty levels. Empty input is allowed and means unspecified.
func ValidateDifficulty(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", nil
	}
	if _, ok := difficulties[s]; !ok {
		return "", ErrUnknownDifficulty
	}
	return s, nil
}

func validateField(input string, minLen, maxLen int, emptyErr error) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", emptyErr
	}
	if minLen > 0 && n < minLen {
		return "", ErrValueTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrValueTooLong
	}
	for _, c := range r {
		if !isAllowedRune(c) {
			return "", ErrInvalidChars
		}
	}
	return s, nil
}

// isAllowedRune returns true for letters (Unicode), digits, space, comma, hyphen, apostrophe.
func isAllowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'':
		return true
	}
	return false
}
