package config

import (
	"fmt"
	"time"
)

// APIConfig describes how the SDK reaches the backend API.
type APIConfig struct {
	BaseURL      string        `envconfig:"BASE_URL" default:"https://api.apptentive.com"`
	AppKey       string        `envconfig:"APP_KEY"`
	AppSignature string        `envconfig:"APP_SIGNATURE"`
	APIVersion   string        `envconfig:"VERSION" default:"12"`
	UserAgent    string        `envconfig:"USER_AGENT" default:"apptentivekit-go"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"30s" validate:"min=1s"`
}

// Validate checks APIConfig fields for correctness.
func (c *APIConfig) Validate(environment string) error {
	parsed, err := parseAndValidateURL(c.BaseURL, []string{"http", "https"})
	if err != nil {
		return fmt.Errorf("invalid api base URL: %w", err)
	}
	if environment == EnvironmentProduction && parsed.Scheme != "https" {
		return fmt.Errorf("api base URL must use https in production environment")
	}

	// Key and signature are checked again on connect; here we only reject
	// values that can never be valid.
	if c.AppKey != "" {
		if err := validateNoWhitespace(c.AppKey, "api app key"); err != nil {
			return err
		}
	}
	if c.AppSignature != "" {
		if err := validateNoWhitespace(c.AppSignature, "api app signature"); err != nil {
			return err
		}
	}
	if (c.AppKey == "") != (c.AppSignature == "") {
		return fmt.Errorf("api app key and signature must be set together")
	}

	return nil
}
