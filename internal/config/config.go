// Package config holds application configuration loaded from a .env file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variable names
const (
	EnvAddr          = "POOLVIEW_ADDR"
	EnvAPIPassword   = "POOLVIEW_API_PASSWORD"
	EnvJWTSecret     = "POOLVIEW_JWT_SECRET"
	EnvJWTExpiration = "POOLVIEW_JWT_EXPIRATION"
	EnvNoAuth        = "POOLVIEW_NO_AUTH"
	EnvDataDir       = "POOLVIEW_DATA_DIR"
	// Portal settings
	EnvPortalEmail    = "POOLVIEW_PORTAL_EMAIL"
	EnvPortalPassword = "POOLVIEW_PORTAL_PASSWORD"
	EnvPortalBaseURL  = "POOLVIEW_PORTAL_BASE_URL"
	EnvPoolID         = "POOLVIEW_POOL_ID"
	EnvPollInterval   = "POOLVIEW_POLL_INTERVAL"
	EnvLegacyTemp     = "POOLVIEW_LEGACY_TEMPERATURE"
	// MQTT settings
	EnvMQTTBroker   = "POOLVIEW_MQTT_BROKER"
	EnvMQTTClientID = "POOLVIEW_MQTT_CLIENT_ID"
	EnvMQTTUsername = "POOLVIEW_MQTT_USERNAME"
	EnvMQTTPassword = "POOLVIEW_MQTT_PASSWORD"
	EnvMQTTPrefix   = "POOLVIEW_MQTT_PREFIX"
	EnvMQTTUseTLS   = "POOLVIEW_MQTT_USE_TLS"
)

// Default values
const (
	DefaultAddr          = ":8093"
	DefaultJWTExpiration = 24 * time.Hour
	DefaultNoAuth        = false
	DefaultDataDir       = "."
	// Portal defaults
	DefaultPortalBaseURL = "https://myindygo.com"
	DefaultPollInterval  = 5 * time.Minute
	// MQTT defaults
	DefaultMQTTPrefix = "poolview"
)

// Config holds all application configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu       sync.RWMutex
	filePath string
	dirty    bool // tracks if config was modified

	// Server settings
	addr    string
	dataDir string

	// Local API security settings
	apiPassword   string
	jwtSecret     string
	jwtExpiration time.Duration
	noAuth        bool

	// Portal settings
	portalEmail    string
	portalPassword string
	portalBaseURL  string
	poolID         string
	pollInterval   time.Duration
	legacyTemp     bool

	// MQTT settings
	mqttBroker   string
	mqttClientID string
	mqttUsername string
	mqttPassword string
	mqttPrefix   string
	mqttUseTLS   bool
}

// Load loads configuration from .env file or creates it with defaults.
// This is the main entry point for configuration initialization.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		filePath: filePath,
	}

	// Set defaults first
	cfg.setDefaults()

	// Try to load existing file
	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		// File doesn't exist - will be created with defaults
		cfg.dirty = true
	}

	// Process environment overrides (useful for containerized deployments)
	cfg.applyValues(envOverrides())

	// Generate JWT secret if empty
	if cfg.jwtSecret == "" {
		secret, err := generateSecureSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.jwtSecret = secret
		cfg.dirty = true
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Save if config was modified (new file or generated secret)
	if cfg.dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return cfg, nil
}

// setDefaults initializes all fields with default values.
func (c *Config) setDefaults() {
	c.addr = DefaultAddr
	c.dataDir = DefaultDataDir
	c.apiPassword = ""
	c.jwtSecret = ""
	c.jwtExpiration = DefaultJWTExpiration
	c.noAuth = DefaultNoAuth
	// Portal defaults
	c.portalBaseURL = DefaultPortalBaseURL
	c.pollInterval = DefaultPollInterval
	c.legacyTemp = false
	// MQTT defaults
	c.mqttPrefix = DefaultMQTTPrefix
}

// loadFromFile reads configuration from .env file.
func (c *Config) loadFromFile() error {
	file, err := os.Open(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	values, err := ParseEnvFile(file)
	if err != nil {
		return err
	}

	c.applyValues(values)
	return nil
}

// envOverrides collects known keys from the process environment.
func envOverrides() map[string]string {
	keys := []string{
		EnvAddr, EnvAPIPassword, EnvJWTSecret, EnvJWTExpiration, EnvNoAuth, EnvDataDir,
		EnvPortalEmail, EnvPortalPassword, EnvPortalBaseURL, EnvPoolID, EnvPollInterval, EnvLegacyTemp,
		EnvMQTTBroker, EnvMQTTClientID, EnvMQTTUsername, EnvMQTTPassword, EnvMQTTPrefix, EnvMQTTUseTLS,
	}
	values := make(map[string]string)
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}
	return values
}

// applyValues applies parsed key-value pairs to config.
func (c *Config) applyValues(values map[string]string) {
	if v, ok := values[EnvAddr]; ok && v != "" {
		c.addr = v
	}
	if v, ok := values[EnvDataDir]; ok && v != "" {
		c.dataDir = v
	}
	if v, ok := values[EnvAPIPassword]; ok {
		c.apiPassword = v
	}
	if v, ok := values[EnvJWTSecret]; ok && v != "" {
		c.jwtSecret = v
	}
	if v, ok := values[EnvJWTExpiration]; ok && v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.jwtExpiration = time.Duration(seconds) * time.Second
		}
	}
	if v, ok := values[EnvNoAuth]; ok {
		c.noAuth = parseBool(v)
	}

	// Portal settings
	if v, ok := values[EnvPortalEmail]; ok {
		c.portalEmail = v
	}
	if v, ok := values[EnvPortalPassword]; ok {
		c.portalPassword = v
	}
	if v, ok := values[EnvPortalBaseURL]; ok && v != "" {
		c.portalBaseURL = v
	}
	if v, ok := values[EnvPoolID]; ok {
		c.poolID = v
	}
	if v, ok := values[EnvPollInterval]; ok && v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.pollInterval = time.Duration(seconds) * time.Second
		}
	}
	if v, ok := values[EnvLegacyTemp]; ok {
		c.legacyTemp = parseBool(v)
	}

	// MQTT settings
	if v, ok := values[EnvMQTTBroker]; ok {
		c.mqttBroker = v
	}
	if v, ok := values[EnvMQTTClientID]; ok {
		c.mqttClientID = v
	}
	if v, ok := values[EnvMQTTUsername]; ok {
		c.mqttUsername = v
	}
	if v, ok := values[EnvMQTTPassword]; ok {
		c.mqttPassword = v
	}
	if v, ok := values[EnvMQTTPrefix]; ok {
		c.mqttPrefix = v
	}
	if v, ok := values[EnvMQTTUseTLS]; ok {
		c.mqttUseTLS = parseBool(v)
	}
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	// Validate server address
	if c.addr == "" {
		return errors.New("server address cannot be empty")
	}

	// Check if address format is valid
	host, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		// Try with default host
		if _, err := strconv.Atoi(strings.TrimPrefix(c.addr, ":")); err != nil {
			return fmt.Errorf("invalid server address format: %s", c.addr)
		}
	} else {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %s", port)
		}
		_ = host // host can be empty (bind to all interfaces)
	}

	// Validate JWT expiration
	if c.jwtExpiration < time.Minute {
		return errors.New("JWT expiration must be at least 1 minute")
	}
	if c.jwtExpiration > 365*24*time.Hour {
		return errors.New("JWT expiration cannot exceed 1 year")
	}

	// Validate portal settings
	if !strings.HasPrefix(c.portalBaseURL, "http://") && !strings.HasPrefix(c.portalBaseURL, "https://") {
		return fmt.Errorf("portal base URL must be http(s): %s", c.portalBaseURL)
	}
	if c.pollInterval < 30*time.Second {
		return errors.New("poll interval must be at least 30 seconds")
	}

	return nil
}

// Save writes current configuration to .env file.
func (c *Config) Save() error {
	c.mu.RLock()
	values := c.toMap()
	filePath := c.filePath
	c.mu.RUnlock()

	if err := WriteEnvFile(filePath, values); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	return nil
}

// toMap converts config to key-value map for saving.
func (c *Config) toMap() map[string]string {
	return map[string]string{
		EnvAddr:          c.addr,
		EnvDataDir:       c.dataDir,
		EnvAPIPassword:   c.apiPassword,
		EnvJWTSecret:     c.jwtSecret,
		EnvJWTExpiration: strconv.Itoa(int(c.jwtExpiration.Seconds())),
		EnvNoAuth:        strconv.FormatBool(c.noAuth),
		// Portal settings
		EnvPortalEmail:    c.portalEmail,
		EnvPortalPassword: c.portalPassword,
		EnvPortalBaseURL:  c.portalBaseURL,
		EnvPoolID:         c.poolID,
		EnvPollInterval:   strconv.Itoa(int(c.pollInterval.Seconds())),
		EnvLegacyTemp:     strconv.FormatBool(c.legacyTemp),
		// MQTT settings
		EnvMQTTBroker:   c.mqttBroker,
		EnvMQTTClientID: c.mqttClientID,
		EnvMQTTUsername: c.mqttUsername,
		EnvMQTTPassword: c.mqttPassword,
		EnvMQTTPrefix:   c.mqttPrefix,
		EnvMQTTUseTLS:   strconv.FormatBool(c.mqttUseTLS),
	}
}

// Getters (thread-safe)

// Addr returns the local API server address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// DataDir returns the directory holding the state database.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataDir
}

// APIPassword returns the local API password.
func (c *Config) APIPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiPassword
}

// JWTSecret returns the JWT secret key.
func (c *Config) JWTSecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jwtSecret
}

// JWTExpiration returns the JWT token expiration duration.
func (c *Config) JWTExpiration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jwtExpiration
}

// NoAuth returns whether local API authentication is disabled.
func (c *Config) NoAuth() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.noAuth
}

// Portal getters

// PortalEmail returns the portal account email.
func (c *Config) PortalEmail() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portalEmail
}

// PortalPassword returns the portal account password.
func (c *Config) PortalPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portalPassword
}

// PortalBaseURL returns the portal base URL.
func (c *Config) PortalBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portalBaseURL
}

// PoolID returns the configured pool identifier.
func (c *Config) PoolID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.poolID
}

// PollInterval returns the refresh interval.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pollInterval
}

// LegacyTemperature returns whether the legacy sensorState temperature is
// emitted as its own diagnostic reading.
func (c *Config) LegacyTemperature() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.legacyTemp
}

// MQTT Getters

// MQTTBroker returns the MQTT broker address.
func (c *Config) MQTTBroker() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttBroker
}

// MQTTClientID returns the MQTT client ID.
func (c *Config) MQTTClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttClientID
}

// MQTTUsername returns the MQTT username.
func (c *Config) MQTTUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUsername
}

// MQTTPassword returns the MQTT password.
func (c *Config) MQTTPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPassword
}

// MQTTPrefix returns the MQTT topic prefix.
func (c *Config) MQTTPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPrefix
}

// MQTTUseTLS returns whether TLS is enabled for MQTT.
func (c *Config) MQTTUseTLS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUseTLS
}

// Helper functions

// generateSecureSecret generates a cryptographically secure random hex string.
func generateSecureSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// parseBool parses a boolean string value.
// Accepts: true, false, 1, 0, yes, no (case-insensitive)
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secretDisplay := "[not set]"
	if c.portalPassword != "" {
		secretDisplay = "[set]"
	}

	return fmt.Sprintf(
		"Config{Addr: %q, PortalBaseURL: %q, PortalEmail: %q, PortalPassword: %s, PoolID: %q, PollInterval: %v, MQTTBroker: %q, NoAuth: %v}",
		c.addr, c.portalBaseURL, c.portalEmail, secretDisplay, c.poolID, c.pollInterval, c.mqttBroker, c.noAuth,
	)
}
