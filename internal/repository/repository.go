// Package repository defines the typed storage contracts the auth core
// depends on. Each entity gets its own narrow interface so the storage
// technology stays behind a small capability surface.
package repository

import (
	"context"
	"time"

	"phone-auth-service/internal/model"
)

// OTPStore persists OTP challenges. Rows are append-and-mutate only;
// nothing is ever deleted and expiry is logical.
type OTPStore interface {
	// Create inserts a new challenge with attempts=0, verified=false.
	Create(ctx context.Context, challenge *model.OTPChallenge) error
	// FindRecentByPhone reports whether any challenge for the phone was
	// created within the window. Used for rate limiting.
	FindRecentByPhone(ctx context.Context, phoneNumber string, window time.Duration) (bool, error)
	// FindLatestUnverified returns the most recently created unverified
	// challenge for the phone, or nil when none exists.
	FindLatestUnverified(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error)
	// IncrementAttempts bumps the attempt counter for the challenge.
	// The update must not lose increments under concurrent verifies.
	IncrementAttempts(ctx context.Context, challenge *model.OTPChallenge) (int, error)
	// MarkVerified flips the verified flag, taking the challenge out of
	// every future FindLatestUnverified result.
	MarkVerified(ctx context.Context, challenge *model.OTPChallenge) error
}

// RefreshTokenStore persists hashed refresh tokens.
type RefreshTokenStore interface {
	Create(ctx context.Context, record *model.RefreshTokenRecord) error
	// FindActiveByUser returns records with revoked=false and
	// expires_at >= now. Multiple live records per user are expected.
	FindActiveByUser(ctx context.Context, userID string) ([]*model.RefreshTokenRecord, error)
	RevokeAllByUser(ctx context.Context, userID string) error
}

// UserStore is the minimal user directory.
type UserStore interface {
	FindByPhone(ctx context.Context, phoneNumber string) (*model.User, error)
	FindByID(ctx context.Context, userID string) (*model.User, error)
	// CreateCustomer creates a customer-role user with an incomplete
	// profile for a previously unseen phone number.
	CreateCustomer(ctx context.Context, phoneNumber string) (*model.User, error)
	// CompleteProfile sets the profile fields and profile_completed=true.
	CompleteProfile(ctx context.Context, userID, fullName, address, postalCode, birthday string) (*model.User, error)
}
