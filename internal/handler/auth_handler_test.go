package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/token"
)

type memOTPStore struct {
	mu         sync.Mutex
	challenges []*model.OTPChallenge
	nextID     int
}

func (s *memOTPStore) Create(ctx context.Context, challenge *model.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	challenge.ID = fmt.Sprintf("otp-%d", s.nextID)
	s.challenges = append(s.challenges, challenge)
	return nil
}

func (s *memOTPStore) FindRecentByPhone(ctx context.Context, phoneNumber string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-window)
	for _, c := range s.challenges {
		if c.PhoneNumber == phoneNumber && c.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memOTPStore) FindLatestUnverified(ctx context.Context, phoneNumber string) (*model.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.OTPChallenge
	for _, c := range s.challenges {
		if c.PhoneNumber != phoneNumber || c.Verified {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, nil
}

func (s *memOTPStore) IncrementAttempts(ctx context.Context, challenge *model.OTPChallenge) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.ID == challenge.ID {
			c.Attempts++
			return c.Attempts, nil
		}
	}
	return 0, errors.New("challenge not found")
}

func (s *memOTPStore) MarkVerified(ctx context.Context, challenge *model.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.ID == challenge.ID {
			c.Verified = true
			return nil
		}
	}
	return errors.New("challenge not found")
}

type memTokenStore struct {
	mu      sync.Mutex
	records []*model.RefreshTokenRecord
	nextID  int
}

func (s *memTokenStore) Create(ctx context.Context, record *model.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = fmt.Sprintf("rt-%d", s.nextID)
	record.CreatedAt = time.Now().UTC()
	s.records = append(s.records, record)
	return nil
}

func (s *memTokenStore) FindActiveByUser(ctx context.Context, userID string) ([]*model.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var active []*model.RefreshTokenRecord
	for _, r := range s.records {
		if r.UserID == userID && r.Active(now) {
			active = append(active, r)
		}
	}
	return active, nil
}

func (s *memTokenStore) RevokeAllByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.UserID == userID {
			r.Revoked = true
		}
	}
	return nil
}

type memUserStore struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byPhone map[string]*model.User
	nextID  int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byID:    make(map[string]*model.User),
		byPhone: make(map[string]*model.User),
	}
}

func (s *memUserStore) FindByPhone(ctx context.Context, phoneNumber string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byPhone[phoneNumber], nil
}

func (s *memUserStore) FindByID(ctx context.Context, userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[userID], nil
}

func (s *memUserStore) CreateCustomer(ctx context.Context, phoneNumber string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	user := &model.User{
		ID:          fmt.Sprintf("user-%d", s.nextID),
		PhoneNumber: phoneNumber,
		Role:        model.RoleCustomer,
		CreatedAt:   time.Now().UTC(),
	}
	s.byID[user.ID] = user
	s.byPhone[phoneNumber] = user
	return user, nil
}

func (s *memUserStore) CompleteProfile(ctx context.Context, userID, fullName, address, postalCode, birthday string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	user.FullName = fullName
	user.Address = address
	user.PostalCode = postalCode
	user.Birthday = birthday
	user.ProfileCompleted = true
	return user, nil
}

const testPhone = "09123456789"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	codec := token.NewCodec(config.JWTConfig{
		AccessSecret:   "access-secret-for-tests-0123456789abcdef",
		RefreshSecret:  "refresh-secret-for-tests-0123456789abcdef",
		AccessExpires:  15 * time.Minute,
		RefreshExpires: 7 * 24 * time.Hour,
	})
	users := newMemUserStore()
	authService := service.NewAuthService(
		&memOTPStore{}, &memTokenStore{}, users,
		nil, codec, hashing.NewHasher(), nil, nil,
		config.OTPConfig{
			CodeTTL:         2 * time.Minute,
			RequestWindow:   time.Minute,
			MaxAttempts:     1,
			ExposeCode:      true,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
	)
	userService := service.NewUserService(users, codec)

	authHandler := NewAuthHandler(authService, userService, false, 15*time.Minute)
	server := httptest.NewServer(NewRouter(authHandler, nil, zap.NewNop()))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return envelope
}

func login(t *testing.T, server *httptest.Server, client *http.Client) (refreshToken string, cookies []*http.Cookie) {
	t.Helper()

	resp := postJSON(t, client, server.URL+"/api/v1/auth/send-otp", map[string]string{"phone_number": testPhone})
	envelope := decodeResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-otp: expected 200, got %d (%s)", resp.StatusCode, envelope.Error)
	}
	code, _ := envelope.Data.(map[string]interface{})["code"].(string)
	if code == "" {
		t.Fatal("expected exposed code in test mode")
	}

	resp = postJSON(t, client, server.URL+"/api/v1/auth/verify-otp", map[string]string{
		"phone_number": testPhone,
		"code":         code,
	})
	cookies = resp.Cookies()
	envelope = decodeResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp: expected 200, got %d (%s)", resp.StatusCode, envelope.Error)
	}
	refreshToken, _ = envelope.Data.(map[string]interface{})["refresh_token"].(string)
	if refreshToken == "" {
		t.Fatal("expected refresh token in response body")
	}
	return refreshToken, cookies
}

func accessCookie(cookies []*http.Cookie) *http.Cookie {
	for _, c := range cookies {
		if c.Name == accessTokenCookie {
			return c
		}
	}
	return nil
}

func TestSendOTP_InvalidPhone(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.Client(), server.URL+"/api/v1/auth/send-otp", map[string]string{"phone_number": "12345"})
	envelope := decodeResponse(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if envelope.Success {
		t.Fatal("expected success=false")
	}
}

func TestSendOTP_RateLimited(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	resp := postJSON(t, client, server.URL+"/api/v1/auth/send-otp", map[string]string{"phone_number": testPhone})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = postJSON(t, client, server.URL+"/api/v1/auth/send-otp", map[string]string{"phone_number": testPhone})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After of the full window, got %q", got)
	}
}

func TestVerifyOTP_SetsAccessCookie(t *testing.T) {
	server := newTestServer(t)

	_, cookies := login(t, server, server.Client())

	cookie := accessCookie(cookies)
	if cookie == nil {
		t.Fatal("expected accessToken cookie")
	}
	if !cookie.HttpOnly {
		t.Fatal("access cookie must be HTTP-only")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected SameSite=Strict, got %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Fatalf("expected Path=/, got %q", cookie.Path)
	}
	if cookie.MaxAge != int((15 * time.Minute).Seconds()) {
		t.Fatalf("expected MaxAge of 15 minutes, got %d", cookie.MaxAge)
	}
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	resp := postJSON(t, client, server.URL+"/api/v1/auth/send-otp", map[string]string{"phone_number": testPhone})
	envelope := decodeResponse(t, resp)
	code, _ := envelope.Data.(map[string]interface{})["code"].(string)

	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}
	resp = postJSON(t, client, server.URL+"/api/v1/auth/verify-otp", map[string]string{
		"phone_number": testPhone,
		"code":         wrong,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", resp.StatusCode)
	}

	// The single allowed attempt is spent.
	resp = postJSON(t, client, server.URL+"/api/v1/auth/verify-otp", map[string]string{
		"phone_number": testPhone,
		"code":         code,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after attempts exhausted, got %d", resp.StatusCode)
	}
}

func TestRefresh_IssuesNewAccessToken(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	refreshToken, _ := login(t, server, client)

	resp := postJSON(t, client, server.URL+"/api/v1/auth/refresh", map[string]string{"refresh_token": refreshToken})
	cookies := resp.Cookies()
	envelope := decodeResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, envelope.Error)
	}
	if accessCookie(cookies) == nil {
		t.Fatal("expected refreshed access cookie")
	}
	if accessToken, _ := envelope.Data.(map[string]interface{})["access_token"].(string); accessToken == "" {
		t.Fatal("expected access token in response")
	}
}

// cancelAwareTokenStore fails its reads once the caller's context is
// done, the way a real driver would.
type cancelAwareTokenStore struct {
	memTokenStore
}

func (s *cancelAwareTokenStore) FindActiveByUser(ctx context.Context, userID string) ([]*model.RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.memTokenStore.FindActiveByUser(ctx, userID)
}

func TestRefresh_SurvivesCallerCancellation(t *testing.T) {
	codec := token.NewCodec(config.JWTConfig{
		AccessSecret:   "access-secret-for-tests-0123456789abcdef",
		RefreshSecret:  "refresh-secret-for-tests-0123456789abcdef",
		AccessExpires:  15 * time.Minute,
		RefreshExpires: 7 * 24 * time.Hour,
	})
	hasher := hashing.NewHasher()
	users := newMemUserStore()
	tokens := &cancelAwareTokenStore{}

	user, err := users.CreateCustomer(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	refreshToken, err := codec.IssueRefresh(token.Payload{
		UserID:      user.ID,
		PhoneNumber: user.PhoneNumber,
		Role:        user.Role,
	})
	if err != nil {
		t.Fatalf("issue refresh failed: %v", err)
	}
	tokenHash, err := hasher.HashToken(refreshToken)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := tokens.Create(context.Background(), &model.RefreshTokenRecord{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed record failed: %v", err)
	}

	authService := service.NewAuthService(
		&memOTPStore{}, tokens, users,
		nil, codec, hasher, nil, nil,
		config.OTPConfig{
			CodeTTL:         2 * time.Minute,
			RequestWindow:   time.Minute,
			MaxAttempts:     1,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
	)
	authHandler := NewAuthHandler(authService, service.NewUserService(users, codec), false, 15*time.Minute)

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	// A hung-up request must not poison the coalesced refresh result.
	authHandler.Refresh(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite caller cancellation, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRefresh_RejectsInvalidToken(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.Client(), server.URL+"/api/v1/auth/refresh", map[string]string{"refresh_token": "garbage"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMe_RequiresCookie(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	resp, err := client.Get(server.URL + "/api/v1/auth/me")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", resp.StatusCode)
	}

	_, cookies := login(t, server, client)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/auth/me", nil)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.AddCookie(accessCookie(cookies))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	envelope := decodeResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, envelope.Error)
	}
	data := envelope.Data.(map[string]interface{})
	if completion, ok := data["requires_profile_completion"].(bool); !ok || !completion {
		t.Fatal("expected requires_profile_completion=true for a fresh user")
	}
}

func TestLogout_ClearsCookieAndRevokesSessions(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	refreshToken, cookies := login(t, server, client)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/auth/logout", nil)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.AddCookie(accessCookie(cookies))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	cleared := accessCookie(resp.Cookies())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cleared == nil || cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatal("expected access cookie to be cleared")
	}

	resp = postJSON(t, client, server.URL+"/api/v1/auth/refresh", map[string]string{"refresh_token": refreshToken})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked session, got %d", resp.StatusCode)
	}
}

func TestLogout_WithoutSessionIsIdempotent(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.Client(), server.URL+"/api/v1/auth/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for sessionless logout, got %d", resp.StatusCode)
	}
}

func TestCompleteProfile_EndToEnd(t *testing.T) {
	server := newTestServer(t)
	client := server.Client()

	_, cookies := login(t, server, client)

	body, err := json.Marshal(map[string]string{
		"full_name":   "Sara Ahmadi",
		"address":     "Tehran, Valiasr St",
		"postal_code": "1234567890",
		"birthday":    "1995-04-12",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/profile/complete", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(accessCookie(cookies))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	envelope := decodeResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, envelope.Error)
	}
	user := envelope.Data.(map[string]interface{})["user"].(map[string]interface{})
	if completed, _ := user["profile_completed"].(bool); !completed {
		t.Fatal("expected profile_completed=true")
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/api/v1/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
