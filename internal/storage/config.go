// Manages server configuration stored in server_config.json.

package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.json, created with defaults if missing.
type ServerConfig struct {
	// JWTSecret is the secret used to sign JWT tokens.
	// Auto-generated if empty on first load.
	JWTSecret []byte `json:"jwt_secret"`

	// ContentSecret signs file download URLs.
	// Auto-generated if empty on first load. Rotating it invalidates all
	// outstanding signed URLs.
	ContentSecret []byte `json:"content_secret"`

	// VAPID holds the web push key pair.
	// Auto-generated if empty on first load; blank both keys to disable push.
	VAPID VAPIDKeys `json:"vapid"`

	// Storage holds blob persistence tuning.
	Storage StorageConfig `json:"storage"`

	// Quotas defines server-wide resource limits.
	Quotas ServerQuotas `json:"quotas"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `json:"rate_limits"`
}

// VAPIDKeys is the web push application server key pair.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Enabled reports whether web push is configured.
func (k *VAPIDKeys) Enabled() bool {
	return k.PublicKey != "" && k.PrivateKey != ""
}

// Validate checks the key pair is either fully set or fully blank.
func (k *VAPIDKeys) Validate() error {
	if (k.PublicKey == "") != (k.PrivateKey == "") {
		return errors.New("vapid keys must be set together")
	}
	return nil
}

// StorageConfig holds blob persistence tuning.
type StorageConfig struct {
	// InlineThresholdBytes is the largest payload stored inline in the file's
	// table row. Larger payloads go to the chunked store.
	InlineThresholdBytes int64 `json:"inline_threshold_bytes"`
}

// maxInlineThreshold keeps inline payloads well under the table's line size
// cap after base64 expansion.
const maxInlineThreshold = 8 * 1024 * 1024

// Validate checks that the threshold is positive and fits in a table row.
func (s *StorageConfig) Validate() error {
	if s.InlineThresholdBytes <= 0 {
		return errors.New("inline_threshold_bytes must be positive")
	}
	if s.InlineThresholdBytes > maxInlineThreshold {
		return fmt.Errorf("inline_threshold_bytes must be at most %d", maxInlineThreshold)
	}
	return nil
}

// DefaultStorageConfig returns the default storage tuning.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		InlineThresholdBytes: 64 * 1024, // 64 KiB
	}
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthRatePerMin limits authentication attempts (login, register, OAuth).
	// 0 means unlimited.
	AuthRatePerMin int `json:"auth_rate_per_min"`

	// WriteRatePerMin limits write operations (POST/PUT/DELETE).
	// 0 means unlimited.
	WriteRatePerMin int `json:"write_rate_per_min"`

	// ReadAuthRatePerMin limits authenticated read operations.
	// 0 means unlimited.
	ReadAuthRatePerMin int `json:"read_auth_rate_per_min"`

	// ReadUnauthRatePerMin limits unauthenticated read operations.
	// 0 means unlimited.
	ReadUnauthRatePerMin int `json:"read_unauth_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthRatePerMin < 0 {
		return errors.New("auth_rate_per_min must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadAuthRatePerMin < 0 {
		return errors.New("read_auth_rate_per_min must be non-negative")
	}
	if r.ReadUnauthRatePerMin < 0 {
		return errors.New("read_unauth_rate_per_min must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		AuthRatePerMin:       5,     // 5 req/min for auth
		WriteRatePerMin:      60,    // 60 req/min for writes
		ReadAuthRatePerMin:   30000, // 30k req/min for authenticated reads
		ReadUnauthRatePerMin: 6000,  // 6k req/min for unauthenticated reads
	}
}

// ServerQuotas defines server-wide resource limits.
// ResourceQuotas fields are shared with the per-user layer;
// the effective quota is min(server, user) per field.
type ServerQuotas struct {
	ResourceQuotas

	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes"`

	// MaxSessionsPerUser limits active sessions per user.
	MaxSessionsPerUser int `json:"max_sessions_per_user"`

	// MaxUsers limits total users on the server.
	MaxUsers int `json:"max_users"`

	// MaxTotalStorageBytes limits total storage across all users.
	MaxTotalStorageBytes int64 `json:"max_total_storage_bytes"`

	// MaxEgressBandwidthBps limits total egress bandwidth in bytes per second.
	// 0 means unlimited.
	MaxEgressBandwidthBps int64 `json:"max_egress_bandwidth_bps"`
}

// Validate checks that all quota values are non-negative.
// MaxFileSizeBytes must be positive (it's the ultimate fallback).
func (q *ServerQuotas) Validate() error {
	if err := q.ResourceQuotas.Validate(); err != nil {
		return err
	}
	if q.MaxFileSizeBytes <= 0 {
		return errors.New("max_file_size_bytes must be positive")
	}
	if q.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if q.MaxSessionsPerUser < 0 {
		return errors.New("max_sessions_per_user must be non-negative")
	}
	if q.MaxUsers < 0 {
		return errors.New("max_users must be non-negative")
	}
	if q.MaxTotalStorageBytes < 0 {
		return errors.New("max_total_storage_bytes must be non-negative")
	}
	if q.MaxEgressBandwidthBps < 0 {
		return errors.New("max_egress_bandwidth_bps must be non-negative")
	}
	return nil
}

// DefaultServerQuotas returns the default server-wide quotas.
func DefaultServerQuotas() ServerQuotas {
	return ServerQuotas{
		ResourceQuotas:        DefaultResourceQuotas(),
		MaxRequestBodyBytes:   10 * 1024 * 1024, // 10 MiB for JSON bodies; uploads are exempt
		MaxSessionsPerUser:    10,
		MaxUsers:              50,
		MaxTotalStorageBytes:  100 * 1024 * 1024 * 1024, // 100 GiB
		MaxEgressBandwidthBps: 0,                        // unlimited
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("jwt_secret is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if len(c.ContentSecret) < 32 {
		return errors.New("content_secret must be at least 32 bytes")
	}
	if err := c.VAPID.Validate(); err != nil {
		return fmt.Errorf("vapid: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// LoadServerConfig loads configuration from dataDir/server_config.json.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret, ContentSecret and VAPID keys if empty.
func LoadServerConfig(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, "server_config.json")

	cfg := ServerConfig{
		Storage:    DefaultStorageConfig(),
		Quotas:     DefaultServerQuotas(),
		RateLimits: DefaultRateLimits(),
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read server_config.json: %w", err)
		}
		// File doesn't exist, will create with defaults
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse server_config.json: %w", err)
		}
	}

	// Auto-generate secrets if missing
	modified := false
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		modified = true
	}
	if len(cfg.ContentSecret) == 0 {
		cfg.ContentSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.ContentSecret); err != nil {
			return nil, fmt.Errorf("failed to generate content secret: %w", err)
		}
		modified = true
	}
	if cfg.VAPID.PublicKey == "" && cfg.VAPID.PrivateKey == "" && errors.Is(err, os.ErrNotExist) {
		// Generated only on first boot: an operator blanking the keys later
		// keeps push disabled.
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		cfg.VAPID = VAPIDKeys{PublicKey: pub, PrivateKey: priv}
		modified = true
	}

	// Save if we created defaults or generated secrets
	if modified || errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}

	// Validate the loaded configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server_config.json: %w", err)
	}

	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.json.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dataDir, "server_config.json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write server_config.json: %w", err)
	}
	return nil
}
