package sms

import (
	"errors"
	"testing"

	"zodiak/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+33612345678", "33612345678"},
		{"33612345678", "33612345678"},
		{"0612345678", "33612345678"},
		{"06 12 34 56 78", "33612345678"},
		{"06.12.34.56.78", "33612345678"},
		{"+33 6-12-34-56-78", "33612345678"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Fatalf("%q: не ожидали ошибку: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: ожидали %q, получили %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizePhoneRejectsInvalid(t *testing.T) {
	cases := []string{"", "abc", "06 12", "612345678", "+33", "06123456789012345"}
	for _, in := range cases {
		if _, err := NormalizePhone(in); !errors.Is(err, domain.ErrInvalidPhone) {
			t.Fatalf("%q: ожидали ErrInvalidPhone, получили %v", in, err)
		}
	}
}
