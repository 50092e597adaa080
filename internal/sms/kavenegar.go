// Package sms delivers OTP codes through the Kavenegar SMS gateway.
// Delivery is best-effort by contract: a failed send is logged and
// reported to the caller, but OTP issuance never depends on it.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/util"
)

// Sender is the delivery capability the auth core depends on.
type Sender interface {
	SendOTP(ctx context.Context, phoneNumber, code string) error
}

type kavenegarResponse struct {
	Return struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"return"`
}

// KavenegarClient sends SMS through the Kavenegar REST API.
type KavenegarClient struct {
	apiKey     string
	sender     string
	httpClient *http.Client
}

func NewKavenegarClient(cfg config.SMSConfig) *KavenegarClient {
	return &KavenegarClient{
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *KavenegarClient) SendOTP(ctx context.Context, phoneNumber, code string) error {
	message := fmt.Sprintf("کد تایید شما: %s\nاین کد تا 2 دقیقه معتبر است.", code)

	endpoint := fmt.Sprintf("https://api.kavenegar.com/v1/%s/sms/send.json", c.apiKey)
	params := url.Values{}
	params.Set("sender", c.sender)
	params.Set("receptor", phoneNumber)
	params.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call SMS gateway: %w", err)
	}
	defer resp.Body.Close()

	var decoded kavenegarResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode SMS gateway response: %w", err)
	}

	if decoded.Return.Status != http.StatusOK {
		return fmt.Errorf("SMS gateway rejected message: status %d", decoded.Return.Status)
	}

	util.Debug("OTP SMS dispatched", zap.String("phone_number", phoneNumber))
	return nil
}
