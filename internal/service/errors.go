package service

import (
	"errors"
	"fmt"
	"time"
)

// Business-rule failures returned as typed results so the boundary
// layer can map them to stable status codes. Storage and signing
// failures are wrapped and surfaced generically.
var (
	ErrInvalidPhone      = errors.New("invalid phone number format")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("OTP recently requested, wait before retrying")
	ErrOTPNotFound       = errors.New("verification code not found")
	ErrOTPExpired        = errors.New("verification code has expired")
	ErrAttemptsExhausted = errors.New("maximum verification attempts exceeded")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUserNotFound      = errors.New("user not found")
)

// RateLimitedError carries how long the caller has to wait before the
// next OTP request is accepted. It unwraps to ErrRateLimited so the
// boundary status mapping stays sentinel based.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("OTP recently requested, retry in %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// WrongCodeError reports a failed code match together with how many
// attempts the caller has left on this challenge.
type WrongCodeError struct {
	Remaining int
}

func (e *WrongCodeError) Error() string {
	return fmt.Sprintf("wrong verification code, %d attempts remaining", e.Remaining)
}
