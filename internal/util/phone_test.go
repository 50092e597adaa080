package util

import "testing"

func TestIsValidPhoneNumber(t *testing.T) {
	cases := []struct {
		phone string
		valid bool
	}{
		{"09123456789", true},
		{"09000000000", true},
		{"9123456789", false},
		{"0912345678", false},
		{"091234567890", false},
		{"+989123456789", false},
		{"09 12345678", false},
		{"09abcdefghi", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidPhoneNumber(tc.phone); got != tc.valid {
			t.Errorf("IsValidPhoneNumber(%q) = %v, want %v", tc.phone, got, tc.valid)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  hello  ", "hello"},
		{"<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeInput(tc.in); got != tc.want {
			t.Errorf("SanitizeInput(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
