package config

import (
	"net"
	"time"
)

// MockAPIConfig configures the fake backend used in tests and local runs.
type MockAPIConfig struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port string `envconfig:"PORT" default:"8080"`

	// ManifestPath points to a manifest document served for every
	// conversation. Empty serves an empty manifest.
	ManifestPath string `envconfig:"MANIFEST_PATH"`

	// MaxAge is advertised in the Cache-Control header of manifest responses.
	MaxAge time.Duration `envconfig:"MAX_AGE" default:"24h" validate:"min=0"`

	// AppKey and AppSignature are the credentials the fake accepts.
	AppKey       string `envconfig:"APP_KEY" default:"mock-key"`
	AppSignature string `envconfig:"APP_SIGNATURE" default:"mock-signature"`

	// JWTSecret verifies login tokens (HS256).
	JWTSecret string `envconfig:"JWT_SECRET" default:"mock-secret"`
}

// Address returns host:port.
func (c *MockAPIConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks MockAPIConfig fields for correctness.
func (c *MockAPIConfig) Validate() error {
	if err := validateHost(c.Host, "mockapi"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "mockapi"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.AppKey, "mockapi app key"); err != nil {
		return err
	}
	return validateNoWhitespace(c.AppSignature, "mockapi app signature")
}
