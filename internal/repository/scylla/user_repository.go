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

// UserRepository implements repository.UserStore. Users live in the
// users table keyed by id; users_by_phone maps the unique phone number
// to the owning user id (the lookup-table pattern, phone is not the
// partition key of the main table).
type UserRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user := &model.User{}

	query := r.client.Prepared.GetUserByID.Bind(userID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&user.ID, &user.PhoneNumber, &user.FullName, &user.Address,
		&user.PostalCode, &user.Birthday, &user.Role, &user.ProfileCompleted,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get user by id",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func (r *UserRepository) FindByPhone(ctx context.Context, phoneNumber string) (*model.User, error) {
	var userID string

	query := r.client.Prepared.GetUserIDByPhone.Bind(phoneNumber).WithContext(ctx)
	err := r.client.ScanWithRetry(query, &userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to look up user by phone",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return nil, fmt.Errorf("failed to look up user by phone: %w", err)
	}

	return r.FindByID(ctx, userID)
}

func (r *UserRepository) CreateCustomer(ctx context.Context, phoneNumber string) (*model.User, error) {
	now := time.Now().UTC()
	user := &model.User{
		ID:               uuid.New().String(),
		PhoneNumber:      phoneNumber,
		Role:             model.RoleCustomer,
		ProfileCompleted: false,
		CreatedAt:        now,
	}

	// Both rows land in one logged batch. A user row without its phone
	// lookup (or the reverse) must never exist.
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.ID, user.PhoneNumber, user.FullName, user.Address,
		user.PostalCode, user.Birthday, user.Role, user.ProfileCompleted,
		user.CreatedAt, user.UpdatedAt)

	batch.Query(r.client.Prepared.CreateUserByPhone.Statement(),
		phoneNumber, user.ID, now)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("Customer created",
		zap.String("user_id", user.ID),
		zap.String("phone_number", phoneNumber))

	return user, nil
}

func (r *UserRepository) CompleteProfile(ctx context.Context, userID, fullName, address, postalCode, birthday string) (*model.User, error) {
	now := time.Now().UTC()

	query := r.client.Prepared.CompleteUserProfile.Bind(
		fullName, address, postalCode, birthday, now, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to complete profile",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to complete profile: %w", err)
	}

	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s disappeared after profile update", userID)
	}

	util.Info("Profile completed", zap.String("user_id", userID))

	return user, nil
}
