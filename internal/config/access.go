package config

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// betaTokenSalt versions the cookie derivation; bumping it invalidates
// every outstanding beta cookie at once.
const betaTokenSalt = "beta_gate:v1:"

// BetaEnabled reports whether the shared-password gate is active.
// An empty BETA_PASSWORD disables it entirely.
func (c *Config) BetaEnabled() bool {
	return c.BetaPassword != ""
}

// BetaToken derives the expected cookie value from the configured
// password. The password itself never reaches the client.
func (c *Config) BetaToken() string {
	h := sha256.Sum256([]byte(betaTokenSalt + c.BetaPassword))
	return hex.EncodeToString(h[:])
}

// CheckBetaCookie compares a presented cookie value against the derived
// token in constant time.
func (c *Config) CheckBetaCookie(value string) bool {
	if !c.BetaEnabled() {
		return true
	}
	expected := c.BetaToken()
	return subtle.ConstantTimeCompare([]byte(value), []byte(expected)) == 1
}

// CheckBetaPassword validates a login attempt in constant time.
func (c *Config) CheckBetaPassword(password string) bool {
	if !c.BetaEnabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(c.BetaPassword)) == 1
}

// AdminEnabled reports whether admin Basic credentials are configured.
func (c *Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPassword != ""
}

// CheckAdminBasic validates Basic auth credentials in constant time.
// Both comparisons always run so timing does not leak which field failed.
func (c *Config) CheckAdminBasic(user, password string) bool {
	if !c.AdminEnabled() {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.AdminPassword)) == 1
	return userOK && passOK
}
