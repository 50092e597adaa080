package model

import "time"

// Roles assignable to a user.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// -------------------- USER --------------------

type User struct {
	ID               string     `json:"id" db:"id"`                             // UUID
	PhoneNumber      string     `json:"phone_number" db:"phone_number"`         // 09XXXXXXXXX, unique
	FullName         string     `json:"full_name" db:"full_name"`               // empty until profile completion
	Address          string     `json:"address" db:"address"`
	PostalCode       string     `json:"postal_code" db:"postal_code"`
	Birthday         string     `json:"birthday" db:"birthday"`                 // YYYY-MM-DD, optional
	Role             string     `json:"role" db:"role"`                         // customer | admin
	ProfileCompleted bool       `json:"profile_completed" db:"profile_completed"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at" db:"updated_at"`
}

// -------------------- OTP CHALLENGE --------------------

// OTPChallenge is a single issuance record. Rows are never deleted;
// expiry is logical and enforced at verification time.
type OTPChallenge struct {
	ID          string    `json:"id" db:"id"`                     // UUID
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Code        string    `json:"-" db:"otp_code"`                // 4 decimal digits, never serialized
	Verified    bool      `json:"verified" db:"verified"`
	Attempts    int       `json:"attempts" db:"attempts"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the challenge deadline has passed. A
// challenge is expired once now is after expires_at, not before.
func (c *OTPChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// -------------------- REFRESH TOKEN --------------------

// RefreshTokenRecord stores only the one-way hash of an issued
// refresh token. The raw token is never persisted.
type RefreshTokenRecord struct {
	ID        string    `json:"id" db:"id"`         // UUID
	UserID    string    `json:"user_id" db:"user_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	Revoked   bool      `json:"revoked" db:"revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

func (r *RefreshTokenRecord) Active(now time.Time) bool {
	return !r.Revoked && !r.ExpiresAt.Before(now)
}

// -------------------- LOGIN EVENT --------------------

// LoginEvent is the audit record written after a successful OTP
// verification. Audit only, never on the response path.
type LoginEvent struct {
	UserID      string    `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	OccurredAt  time.Time `json:"occurred_at"`
}
