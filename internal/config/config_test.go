package config

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Environment: "development",
		JWT: JWTConfig{
			AccessSecret:  strings.Repeat("a", minSecretLength),
			RefreshSecret: strings.Repeat("b", minSecretLength),
		},
		OTP: OTPConfig{
			CodeTTL:       2 * time.Minute,
			RequestWindow: time.Minute,
			MaxAttempts:   1,
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validTestConfig().validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short access secret", func(c *Config) { c.JWT.AccessSecret = "short" }},
		{"short refresh secret", func(c *Config) { c.JWT.RefreshSecret = "short" }},
		{"shared secrets", func(c *Config) { c.JWT.RefreshSecret = c.JWT.AccessSecret }},
		{"zero max attempts", func(c *Config) { c.OTP.MaxAttempts = 0 }},
		{"expose code in production", func(c *Config) {
			c.Environment = "production"
			c.OTP.ExposeCode = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, b ,,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}
}
