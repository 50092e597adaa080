package util

import (
	"html"
	"regexp"
	"strings"
)

// Iranian mobile format: 09 followed by nine digits.
var phonePattern = regexp.MustCompile(`^09[0-9]{9}$`)

// IsValidPhoneNumber reports whether the input is an acceptable
// mobile number for OTP delivery.
func IsValidPhoneNumber(phone string) bool {
	return phonePattern.MatchString(phone)
}

// SanitizeInput trims whitespace and escapes HTML/script-like
// characters in user-supplied profile fields.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
