package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

const accessTokenCookie = "accessToken"

// AuthHandler is the HTTP boundary for the OTP and session endpoints.
// The access token travels in an HTTP-only cookie; the refresh token
// only ever appears in response bodies and request bodies.
type AuthHandler struct {
	auth       *service.AuthService
	users      *service.UserService
	refreshing singleflight.Group
	secure     bool
	accessTTL  time.Duration
}

func NewAuthHandler(auth *service.AuthService, users *service.UserService, secureCookies bool, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		users:     users,
		secure:    secureCookies,
		accessTTL: accessTTL,
	}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type completeProfileRequest struct {
	FullName   string `json:"full_name"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
	Birthday   string `json:"birthday"`
}

// SendOTP handles POST /api/v1/auth/send-otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, service.ErrInvalidInput)
		return
	}

	result, err := h.auth.RequestOTP(r.Context(), util.SanitizeInput(req.PhoneNumber))
	if err != nil {
		respondWithError(w, err)
		return
	}

	data := map[string]interface{}{
		"expires_at": result.ExpiresAt,
	}
	if result.Code != "" {
		data["code"] = result.Code
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Message: "verification code sent",
	})
}

// VerifyOTP handles POST /api/v1/auth/verify-otp. On success the access
// token is set as an HTTP-only cookie and the refresh token is returned
// in the body for client custody.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, service.ErrInvalidInput)
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(),
		util.SanitizeInput(req.PhoneNumber),
		util.SanitizeInput(req.Code),
		service.VerifyMeta{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
	if err != nil {
		respondWithError(w, err)
		return
	}

	h.setAccessCookie(w, result.AccessToken)

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"user":                        result.User,
			"refresh_token":               result.RefreshToken,
			"requires_profile_completion": result.RequiresProfileCompletion,
		},
		Message: "login successful",
	})
}

// Refresh handles POST /api/v1/auth/refresh. Concurrent refreshes with
// the same token coalesce into a single issuance.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, service.ErrInvalidInput)
		return
	}
	if req.RefreshToken == "" {
		respondWithError(w, service.ErrUnauthorized)
		return
	}

	// The bcrypt comparison scan is the expensive part; a burst of
	// parallel refreshes with one token should pay for it once. The
	// leader runs on a context detached from its own request, so one
	// caller hanging up cannot fail everyone coalesced behind it.
	ctx := context.WithoutCancel(r.Context())
	accessToken, err, _ := h.refreshing.Do(req.RefreshToken, func() (interface{}, error) {
		return h.auth.RefreshAccessToken(ctx, req.RefreshToken)
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	h.setAccessCookie(w, accessToken.(string))

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"access_token": accessToken,
		},
		Message: "token refreshed",
	})
}

// Logout handles POST /api/v1/auth/logout. Revokes every session of the
// caller and clears the cookie. Safe to call without a valid session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), h.readAccessCookie(r)); err != nil {
		respondWithError(w, err)
		return
	}

	h.clearAccessCookie(w)

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "logged out",
	})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetCurrentUser(r.Context(), h.readAccessCookie(r))
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"user":                        user,
			"requires_profile_completion": !user.ProfileCompleted,
		},
	})
}

// CompleteProfile handles POST /api/v1/profile/complete.
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req completeProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, service.ErrInvalidInput)
		return
	}

	user, err := h.users.CompleteProfile(r.Context(), h.readAccessCookie(r),
		req.FullName, req.Address, req.PostalCode, req.Birthday)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"user": user,
		},
		Message: "profile completed",
	})
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(h.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearAccessCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) readAccessCookie(r *http.Request) string {
	cookie, err := r.Cookie(accessTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// clientIP prefers the RealIP middleware result on RemoteAddr.
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
