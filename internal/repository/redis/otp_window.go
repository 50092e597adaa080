package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/util"
)

const otpWindowPrefix = "otp_window:"

// OTPWindow enforces the per-phone OTP request spacing with an atomic
// conditional insert (SETNX + TTL). Two requests racing inside the
// same window cannot both win; the read-then-write check against the
// store remains the fallback authority when Redis is unavailable.
type OTPWindow struct {
	client *client.RedisClient
}

func NewOTPWindow(client *client.RedisClient) *OTPWindow {
	return &OTPWindow{client: client}
}

// Claim tries to take the window for the phone number. It returns
// false when a prior request already holds it.
func (w *OTPWindow) Claim(ctx context.Context, phoneNumber string, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpWindowPrefix + phoneNumber

	claimed, err := w.client.SetNX(ctx, key, time.Now().UTC().Unix(), window)
	if err != nil {
		util.Error("Failed to claim OTP window",
			zap.String("phone_number", phoneNumber),
			zap.Duration("window", window),
			zap.Error(err))
		return false, fmt.Errorf("failed to claim OTP window: %w", err)
	}

	util.Debug("OTP window claim",
		zap.String("phone_number", phoneNumber),
		zap.Bool("claimed", claimed))

	return claimed, nil
}

// Remaining reports how long the current claim still holds, zero when
// no claim is live.
func (w *OTPWindow) Remaining(ctx context.Context, phoneNumber string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl, err := w.client.TTL(ctx, otpWindowPrefix+phoneNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to read OTP window TTL: %w", err)
	}
	if ttl < 0 {
		// Key missing or without expiry; no live claim either way.
		return 0, nil
	}
	return ttl, nil
}

// Release frees the window early. Used when challenge creation fails
// after the claim so the user is not locked out for the full window.
func (w *OTPWindow) Release(ctx context.Context, phoneNumber string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.client.Del(ctx, otpWindowPrefix+phoneNumber); err != nil {
		util.Error("Failed to release OTP window",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return fmt.Errorf("failed to release OTP window: %w", err)
	}
	return nil
}
