package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"phone-auth-service/internal/config"
)

// Payload is the claim set carried by both access and refresh tokens.
type Payload struct {
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
}

type claims struct {
	Payload
	jwt.RegisteredClaims
}

// Codec signs and verifies access/refresh tokens with independent
// secrets. Verification failure is reported as a nil payload; the
// caller never learns whether the signature, shape, or expiry failed.
type Codec struct {
	accessSecret   []byte
	refreshSecret  []byte
	accessExpires  time.Duration
	refreshExpires time.Duration
}

func NewCodec(cfg config.JWTConfig) *Codec {
	return &Codec{
		accessSecret:   []byte(cfg.AccessSecret),
		refreshSecret:  []byte(cfg.RefreshSecret),
		accessExpires:  cfg.AccessExpires,
		refreshExpires: cfg.RefreshExpires,
	}
}

// IssueAccess signs a short-lived access token.
func (c *Codec) IssueAccess(payload Payload) (string, error) {
	return sign(payload, c.accessSecret, c.accessExpires)
}

// IssueRefresh signs a long-lived refresh token.
func (c *Codec) IssueRefresh(payload Payload) (string, error) {
	return sign(payload, c.refreshSecret, c.refreshExpires)
}

// VerifyAccess returns the payload, or nil when the token is invalid
// for any reason.
func (c *Codec) VerifyAccess(tokenString string) *Payload {
	return verify(tokenString, c.accessSecret)
}

// VerifyRefresh returns the payload, or nil when the token is invalid
// for any reason.
func (c *Codec) VerifyRefresh(tokenString string) *Payload {
	return verify(tokenString, c.refreshSecret)
}

// AccessExpires exposes the access token lifetime for cookie MaxAge.
func (c *Codec) AccessExpires() time.Duration {
	return c.accessExpires
}

func sign(payload Payload, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	cl := &claims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(secret)
}

func verify(tokenString string, secret []byte) *Payload {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil
	}

	if cl, ok := parsed.Claims.(*claims); ok && parsed.Valid {
		payload := cl.Payload
		return &payload
	}
	return nil
}
