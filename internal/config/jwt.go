package config

import (
	"fmt"
	"time"
)

// minSecretLength is the shortest accepted HMAC secret.
const minSecretLength = 16

// JWTConfig holds configuration for token signing and validation.
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

// Expiration returns the token lifetime.
func (c JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

// RequireSecret checks that a usable signing secret is configured. Only the
// commands that issue or verify tokens need one.
func (c JWTConfig) RequireSecret() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set")
	}
	if len(c.Secret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters, got %d", minSecretLength, len(c.Secret))
	}
	return nil
}
