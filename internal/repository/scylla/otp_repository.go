package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/util"
)

// OTPRepository implements repository.OTPStore on top of the
// otp_codes table (partitioned by phone_number, newest row first).
type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) Create(ctx context.Context, challenge *model.OTPChallenge) error {
	if challenge.ID == "" {
		challenge.ID = uuid.New().String()
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.CreateOTP.Bind(
		challenge.PhoneNumber, challenge.CreatedAt, challenge.ID, challenge.Code,
		challenge.Verified, challenge.Attempts, challenge.ExpiresAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP challenge",
			zap.String("phone_number", challenge.PhoneNumber),
			zap.String("challenge_id", challenge.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create OTP challenge: %w", err)
	}

	util.Info("OTP challenge created",
		zap.String("phone_number", challenge.PhoneNumber),
		zap.String("challenge_id", challenge.ID),
		zap.Time("expires_at", challenge.ExpiresAt))

	return nil
}

func (r *OTPRepository) FindRecentByPhone(ctx context.Context, phoneNumber string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)

	var createdAt time.Time
	query := r.client.Prepared.RecentOTPByPhone.Bind(phoneNumber, cutoff).WithContext(ctx)

	err := r.client.ScanWithRetry(query, &createdAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check recent OTP: %w", err)
	}

	return true, nil
}

func (r *OTPRepository) FindLatestUnverified(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error) {
	// Rows are clustered newest first; the first unverified row is the
	// latest challenge.
	iter := r.client.Prepared.LatestOTPByPhone.Bind(phoneNumber).WithContext(ctx).Iter()

	challenge := &model.OTPChallenge{}
	for iter.Scan(&challenge.ID, &challenge.PhoneNumber, &challenge.Code,
		&challenge.Verified, &challenge.Attempts, &challenge.CreatedAt, &challenge.ExpiresAt) {
		if !challenge.Verified {
			if err := iter.Close(); err != nil {
				return nil, fmt.Errorf("failed to read OTP challenges: %w", err)
			}
			return challenge, nil
		}
		challenge = &model.OTPChallenge{}
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to scan OTP challenges",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP challenges: %w", err)
	}

	return nil, nil
}

// IncrementAttempts performs a conditional update keyed by the
// challenge row so concurrent verifies never lose an increment.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, challenge *model.OTPChallenge) (int, error) {
	observed := challenge.Attempts

	for retry := 0; retry < 3; retry++ {
		next := observed + 1
		applied, err := r.client.Session.Query(`
            UPDATE otp_codes SET attempts = ?
            WHERE phone_number = ? AND created_at = ? AND id = ?
            IF attempts = ?`,
			next, challenge.PhoneNumber, challenge.CreatedAt, challenge.ID, observed).
			WithContext(ctx).ScanCAS(&observed)
		if err != nil {
			util.Error("Failed to increment OTP attempts",
				zap.String("challenge_id", challenge.ID),
				zap.Error(err))
			return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
		}
		if applied {
			challenge.Attempts = next
			return next, nil
		}
		// observed now holds the stored value; retry against it.
	}

	return 0, fmt.Errorf("failed to increment OTP attempts: contention on challenge %s", challenge.ID)
}

func (r *OTPRepository) MarkVerified(ctx context.Context, challenge *model.OTPChallenge) error {
	query := r.client.Prepared.MarkOTPVerified.Bind(
		challenge.PhoneNumber, challenge.CreatedAt, challenge.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to mark OTP verified",
			zap.String("challenge_id", challenge.ID),
			zap.String("phone_number", challenge.PhoneNumber),
			zap.Error(err))
		return fmt.Errorf("failed to mark OTP verified: %w", err)
	}

	challenge.Verified = true

	util.Info("OTP challenge verified",
		zap.String("challenge_id", challenge.ID),
		zap.String("phone_number", challenge.PhoneNumber))

	return nil
}
