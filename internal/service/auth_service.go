package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/sms"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/util"
)

// RequestWindow is the atomic per-phone spacing guard. Claim must be
// check-and-set; two callers racing inside one window cannot both win.
// Remaining reports how long the current claim still holds.
type RequestWindow interface {
	Claim(ctx context.Context, phoneNumber string, window time.Duration) (bool, error)
	Remaining(ctx context.Context, phoneNumber string) (time.Duration, error)
	Release(ctx context.Context, phoneNumber string) error
}

// LoginRecorder receives audit events. Implementations must not block
// the caller.
type LoginRecorder interface {
	RecordLogin(event model.LoginEvent)
	Publish(eventType, userID, phoneNumber string)
}

// AuthService orchestrates the OTP verification state machine and the
// token lifecycle. Per-phone state lives entirely in the stores; the
// service itself holds no mutable state and is safe for concurrent use.
type AuthService struct {
	otps     repository.OTPStore
	tokens   repository.RefreshTokenStore
	users    repository.UserStore
	window   RequestWindow
	codec    *token.Codec
	hasher   *hashing.Hasher
	sender   sms.Sender
	recorder LoginRecorder

	codeTTL       time.Duration
	requestWindow time.Duration
	maxAttempts   int
	refreshTTL    time.Duration
	exposeCode    bool
}

func NewAuthService(
	otps repository.OTPStore,
	tokens repository.RefreshTokenStore,
	users repository.UserStore,
	window RequestWindow,
	codec *token.Codec,
	hasher *hashing.Hasher,
	sender sms.Sender,
	recorder LoginRecorder,
	otpCfg config.OTPConfig,
) *AuthService {
	return &AuthService{
		otps:          otps,
		tokens:        tokens,
		users:         users,
		window:        window,
		codec:         codec,
		hasher:        hasher,
		sender:        sender,
		recorder:      recorder,
		codeTTL:       otpCfg.CodeTTL,
		requestWindow: otpCfg.RequestWindow,
		maxAttempts:   otpCfg.MaxAttempts,
		refreshTTL:    otpCfg.RefreshTokenTTL,
		exposeCode:    otpCfg.ExposeCode,
	}
}

// RequestOTPResult carries the challenge expiry and, only when the
// non-production expose flag is set, the generated code.
type RequestOTPResult struct {
	ExpiresAt time.Time
	Code      string
}

// VerifyMeta is request metadata recorded in the login audit trail.
type VerifyMeta struct {
	IPAddress string
	UserAgent string
}

// VerifyResult is everything the boundary needs after a successful
// verification: the raw refresh token for client custody and the
// access token for the HTTP-only cookie.
type VerifyResult struct {
	User                      *model.User
	AccessToken               string
	RefreshToken              string
	RequiresProfileCompletion bool
}

// RequestOTP issues a new challenge for the phone number. SMS delivery
// is best-effort by contract: a failed send is logged, the created
// challenge stands, and the caller still gets success.
func (s *AuthService) RequestOTP(ctx context.Context, phoneNumber string) (*RequestOTPResult, error) {
	if !util.IsValidPhoneNumber(phoneNumber) {
		return nil, ErrInvalidPhone
	}

	if err := s.checkRequestSpacing(ctx, phoneNumber); err != nil {
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP code: %w", err)
	}

	now := time.Now().UTC()
	challenge := &model.OTPChallenge{
		PhoneNumber: phoneNumber,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.codeTTL),
	}

	if err := s.otps.Create(ctx, challenge); err != nil {
		// Free the claimed window so a storage hiccup does not lock the
		// user out for the full minute.
		if s.window != nil {
			_ = s.window.Release(ctx, phoneNumber)
		}
		return nil, fmt.Errorf("failed to persist OTP challenge: %w", err)
	}

	s.deliverCode(phoneNumber, code)

	if s.recorder != nil {
		s.recorder.Publish(audit.EventOTPRequested, "", phoneNumber)
	}

	result := &RequestOTPResult{ExpiresAt: challenge.ExpiresAt}
	if s.exposeCode {
		result.Code = code
	}
	return result, nil
}

// VerifyOTP validates the code against the latest unverified challenge
// and, on success, establishes the session: user resolution, token
// issuance, hashed refresh record, audit trail.
func (s *AuthService) VerifyOTP(ctx context.Context, phoneNumber, code string, meta VerifyMeta) (*VerifyResult, error) {
	if phoneNumber == "" || code == "" {
		return nil, ErrInvalidInput
	}

	challenge, err := s.otps.FindLatestUnverified(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTP challenge: %w", err)
	}
	if challenge == nil {
		return nil, ErrOTPNotFound
	}

	// A challenge is expired once its deadline has passed.
	if challenge.Expired(time.Now().UTC()) {
		return nil, ErrOTPExpired
	}

	if challenge.Attempts >= s.maxAttempts {
		return nil, ErrAttemptsExhausted
	}

	if challenge.Code != code {
		attemptsAfter, err := s.otps.IncrementAttempts(ctx, challenge)
		if err != nil {
			return nil, fmt.Errorf("failed to record OTP attempt: %w", err)
		}
		remaining := s.maxAttempts - attemptsAfter
		if remaining < 0 {
			remaining = 0
		}
		return nil, &WrongCodeError{Remaining: remaining}
	}

	// Single-use: verified challenges never match again because lookup
	// only considers unverified rows.
	if err := s.otps.MarkVerified(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to mark OTP verified: %w", err)
	}

	user, err := s.resolveUser(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	payload := token.Payload{
		UserID:      user.ID,
		PhoneNumber: user.PhoneNumber,
		Role:        user.Role,
	}

	accessToken, err := s.codec.IssueAccess(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.codec.IssueRefresh(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	tokenHash, err := s.hasher.HashToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh token: %w", err)
	}

	record := &model.RefreshTokenRecord{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordLogin(model.LoginEvent{
			UserID:      user.ID,
			PhoneNumber: user.PhoneNumber,
			IPAddress:   meta.IPAddress,
			UserAgent:   meta.UserAgent,
		})
	}

	return &VerifyResult{
		User:                      user,
		AccessToken:               accessToken,
		RefreshToken:              refreshToken,
		RequiresProfileCompletion: !user.ProfileCompleted,
	}, nil
}

// RefreshAccessToken exchanges a valid refresh token for a new access
// token. The refresh token is not rotated in this flow.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrUnauthorized
	}

	payload := s.codec.VerifyRefresh(refreshToken)
	if payload == nil {
		return "", ErrUnauthorized
	}

	records, err := s.tokens.FindActiveByUser(ctx, payload.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load refresh tokens: %w", err)
	}

	// The raw token is never stored, so this is necessarily a linear
	// hash comparison over the user's active records.
	var matched *model.RefreshTokenRecord
	for _, record := range records {
		if s.hasher.CompareToken(refreshToken, record.TokenHash) {
			matched = record
			break
		}
	}
	if matched == nil {
		return "", ErrUnauthorized
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return "", ErrUnauthorized
	}

	accessToken, err := s.codec.IssueAccess(token.Payload{
		UserID:      user.ID,
		PhoneNumber: user.PhoneNumber,
		Role:        user.Role,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return accessToken, nil
}

// Logout revokes every refresh token for the user behind the access
// token. Every device logs out, not just the current session. A
// missing or invalid token is not an error; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}

	payload := s.codec.VerifyAccess(accessToken)
	if payload == nil {
		return nil
	}

	if err := s.tokens.RevokeAllByUser(ctx, payload.UserID); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	if s.recorder != nil {
		s.recorder.Publish(audit.EventUserLoggedOut, payload.UserID, payload.PhoneNumber)
	}

	return nil
}

func (s *AuthService) checkRequestSpacing(ctx context.Context, phoneNumber string) error {
	if s.window != nil {
		claimed, err := s.window.Claim(ctx, phoneNumber, s.requestWindow)
		if err == nil {
			if !claimed {
				return &RateLimitedError{RetryAfter: s.windowRemaining(ctx, phoneNumber)}
			}
			return nil
		}
		// Limiter down: fall back to the point-in-time store read
		// rather than failing the request.
		util.Warn("OTP window claim failed, falling back to store check",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
	}

	recent, err := s.otps.FindRecentByPhone(ctx, phoneNumber, s.requestWindow)
	if err != nil {
		return fmt.Errorf("failed to check OTP request spacing: %w", err)
	}
	if recent {
		// The store read has no per-claim deadline; report the full
		// window as the conservative wait.
		return &RateLimitedError{RetryAfter: s.requestWindow}
	}
	return nil
}

func (s *AuthService) windowRemaining(ctx context.Context, phoneNumber string) time.Duration {
	remaining, err := s.window.Remaining(ctx, phoneNumber)
	if err != nil || remaining <= 0 {
		return s.requestWindow
	}
	return remaining
}

func (s *AuthService) resolveUser(ctx context.Context, phoneNumber string) (*model.User, error) {
	user, err := s.users.FindByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = s.users.CreateCustomer(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// deliverCode dispatches the SMS without gating the response on it.
func (s *AuthService) deliverCode(phoneNumber, code string) {
	if s.sender == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.sender.SendOTP(ctx, phoneNumber, code); err != nil {
			util.Warn("OTP SMS delivery failed",
				zap.String("phone_number", phoneNumber),
				zap.Error(err))
		}
	}()
}

// generateCode draws a 4-digit code uniformly over [1000, 9999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()+1000), nil
}
