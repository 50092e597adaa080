package service

import (
	"context"
	"fmt"
	"time"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/util"
)

// UserService exposes the minimal profile surface: who the caller is
// and one-shot profile completion.
type UserService struct {
	users repository.UserStore
	codec *token.Codec
}

func NewUserService(users repository.UserStore, codec *token.Codec) *UserService {
	return &UserService{users: users, codec: codec}
}

// GetCurrentUser resolves the user behind a valid access token.
func (s *UserService) GetCurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	payload := s.codec.VerifyAccess(accessToken)
	if payload == nil {
		return nil, ErrUnauthorized
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CompleteProfile fills in the caller's profile fields and flips
// profile_completed. Full name and address are required; postal code
// and birthday are optional, birthday as YYYY-MM-DD when present.
func (s *UserService) CompleteProfile(ctx context.Context, accessToken, fullName, address, postalCode, birthday string) (*model.User, error) {
	payload := s.codec.VerifyAccess(accessToken)
	if payload == nil {
		return nil, ErrUnauthorized
	}

	fullName = util.SanitizeInput(fullName)
	address = util.SanitizeInput(address)
	postalCode = util.SanitizeInput(postalCode)
	birthday = util.SanitizeInput(birthday)

	if fullName == "" || address == "" {
		return nil, ErrInvalidInput
	}
	if birthday != "" {
		if _, err := time.Parse("2006-01-02", birthday); err != nil {
			return nil, ErrInvalidInput
		}
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	updated, err := s.users.CompleteProfile(ctx, payload.UserID, fullName, address, postalCode, birthday)
	if err != nil {
		return nil, fmt.Errorf("failed to complete profile: %w", err)
	}
	return updated, nil
}
