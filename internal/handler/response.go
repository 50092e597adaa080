package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

// Response is the uniform JSON envelope for every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}

func respondWithError(w http.ResponseWriter, err error) {
	status := getStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Storage and signing failures stay out of the response body.
		util.Error("Request failed", zap.Error(err))
		message = "internal server error"
	}

	var rateLimited *service.RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
		seconds := int((rateLimited.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	respondWithJSON(w, status, Response{Success: false, Error: message})
}

// getStatusCode maps business-rule failures to stable status codes.
// Anything unrecognized is a server-side failure.
func getStatusCode(err error) int {
	var wrongCode *service.WrongCodeError
	switch {
	case errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrOTPExpired):
		return http.StatusBadRequest
	case errors.As(err, &wrongCode):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited),
		errors.Is(err, service.ErrAttemptsExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrOTPNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
