package domain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidPhone indicates a phone number failed format validation.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidEmail indicates an email address failed format validation.
	ErrInvalidEmail = errors.New("invalid email address")
)

var (
	digitsOnly = regexp.MustCompile(`^[0-9]+$`)
	emailShape = regexp.MustCompile(`^[a-z0-9][a-z0-9._%+-]*@[a-z0-9][a-z0-9.-]*\.[a-z]{2,}$`)
)

// NormalizePhone validates a phone number and normalizes it to a leading-plus
// international form. Ukrainian local shapes are promoted to +380:
// 0XXXXXXXXX, 380XXXXXXXXX and bare 9-digit numbers all normalize to
// +380XXXXXXXXX. Any other input must already carry a plus prefix with 10 to
// 15 digits.
func NormalizePhone(input string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if cleaned == "" {
		return "", ErrInvalidPhone
	}

	if strings.HasPrefix(cleaned, "+") {
		digits := cleaned[1:]
		if !digitsOnly.MatchString(digits) || len(digits) < 10 || len(digits) > 15 {
			return "", ErrInvalidPhone
		}
		return "+" + digits, nil
	}

	if !digitsOnly.MatchString(cleaned) {
		return "", ErrInvalidPhone
	}
	switch {
	case len(cleaned) == 10 && strings.HasPrefix(cleaned, "0"):
		return "+380" + cleaned[1:], nil
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "380"):
		return "+" + cleaned, nil
	case len(cleaned) == 9:
		return "+380" + cleaned, nil
	}
	return "", ErrInvalidPhone
}

// NormalizeEmail validates an email address against an RFC-light
// local@domain.tld shape and lowercases it.
func NormalizeEmail(input string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(input))
	if cleaned == "" || !emailShape.MatchString(cleaned) {
		return "", ErrInvalidEmail
	}
	return cleaned, nil
}
