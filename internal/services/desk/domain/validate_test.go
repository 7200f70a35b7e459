package domain

import (
	"errors"
	"testing"
)

func TestNormalizePhoneLocalForms(t *testing.T) {
	cases := map[string]string{
		"0671234567":      "+380671234567",
		"380671234567":    "+380671234567",
		"+380671234567":   "+380671234567",
		"067 123 45 67":   "+380671234567",
		"(067) 123-45-67": "+380671234567",
		"671234567":       "+380671234567",
	}
	for input, want := range cases {
		got, err := NormalizePhone(input)
		if err != nil {
			t.Fatalf("normalize %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("normalize %q = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizePhoneInternational(t *testing.T) {
	got, err := NormalizePhone("+14155552671")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "+14155552671" {
		t.Fatalf("unexpected phone %q", got)
	}
}

func TestNormalizePhoneRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "abc", "12", "+1", "067123", "+123456789012345678"} {
		if _, err := NormalizePhone(input); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("normalize %q: expected ErrInvalidPhone, got %v", input, err)
		}
	}
}

func TestNormalizeEmailLowercases(t *testing.T) {
	got, err := NormalizeEmail("  User.Name+tag@Example.COM ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "user.name+tag@example.com" {
		t.Fatalf("unexpected email %q", got)
	}
}

func TestNormalizeEmailRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "plain", "a@b", "@example.com", "user@.com", "user@host."} {
		if _, err := NormalizeEmail(input); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("normalize %q: expected ErrInvalidEmail, got %v", input, err)
		}
	}
}
