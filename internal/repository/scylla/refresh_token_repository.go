package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/util"
)

// RefreshTokenRepository implements repository.RefreshTokenStore on
// the refresh_tokens table (partitioned by user_id).
type RefreshTokenRepository struct {
	client *ScyllaClient
}

func NewRefreshTokenRepository(client *ScyllaClient) *RefreshTokenRepository {
	return &RefreshTokenRepository{client: client}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, record *model.RefreshTokenRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.CreateRefreshToken.Bind(
		record.UserID, record.ID, record.TokenHash,
		record.Revoked, record.CreatedAt, record.ExpiresAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create refresh token record",
			zap.String("user_id", record.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create refresh token record: %w", err)
	}

	util.Info("Refresh token record created",
		zap.String("user_id", record.UserID),
		zap.String("record_id", record.ID),
		zap.Time("expires_at", record.ExpiresAt))

	return nil
}

// FindActiveByUser returns every non-revoked, non-expired record for
// the user. Multiple live records per user are normal (multi-device).
func (r *RefreshTokenRepository) FindActiveByUser(ctx context.Context, userID string) ([]*model.RefreshTokenRecord, error) {
	iter := r.client.Prepared.RefreshTokensByUser.Bind(userID).WithContext(ctx).Iter()

	now := time.Now().UTC()
	var active []*model.RefreshTokenRecord

	record := &model.RefreshTokenRecord{}
	for iter.Scan(&record.ID, &record.UserID, &record.TokenHash,
		&record.Revoked, &record.CreatedAt, &record.ExpiresAt) {
		if record.Active(now) {
			active = append(active, record)
		}
		record = &model.RefreshTokenRecord{}
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to read refresh tokens",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read refresh tokens: %w", err)
	}

	return active, nil
}

// RevokeAllByUser revokes every refresh token the user holds.
func (r *RefreshTokenRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	iter := r.client.Session.Query(`
        SELECT id FROM refresh_tokens WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to list refresh tokens: %w", err)
	}

	for _, recordID := range ids {
		query := r.client.Session.Query(`
            UPDATE refresh_tokens SET revoked = true
            WHERE user_id = ? AND id = ?`, userID, recordID).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 2); err != nil {
			util.Error("Failed to revoke refresh token",
				zap.String("user_id", userID),
				zap.String("record_id", recordID),
				zap.Error(err))
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
	}

	util.Info("All refresh tokens revoked",
		zap.String("user_id", userID),
		zap.Int("count", len(ids)))

	return nil
}
