// Package config handles configuration loading, validation, and persistence
// for the rsmod gateway.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/protocol"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultAPIPort       = 5000
	DefaultGatewayPort   = 43594
	DefaultMaxFrameBytes = protocol.DefaultMaxFrameBytes
	DefaultDevice        = "desktop"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Gateway         GatewayConfig   `json:"gateway"`
	ApplicationData ApplicationData `json:"application_data"`
}

// GatewayConfig holds the client-facing listener settings.
type GatewayConfig struct {
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`
	Device        string `json:"device"`

	// MaxFrameBytes caps opcode + length prefix + declared payload of
	// length-prefixed frames. It must be positive.
	MaxFrameBytes int `json:"max_frame_bytes"`

	IdleTimeoutSec        int `json:"idle_timeout_sec"`
	StaleSweepIntervalSec int `json:"stale_sweep_interval_sec"`
}

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Address returns host:port for the listener.
func (g GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", g.ListenAddress, g.Port)
}

// IdleTimeout returns the idle timeout as a duration.
func (g GatewayConfig) IdleTimeout() time.Duration {
	return time.Duration(g.IdleTimeoutSec) * time.Second
}

// StaleSweepInterval returns the sweep interval as a duration.
func (g GatewayConfig) StaleSweepInterval() time.Duration {
	return time.Duration(g.StaleSweepIntervalSec) * time.Second
}

// ApplicationData contains operator-facing settings.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Audit    AuditConfig    `json:"audit"`
}

// APIConfig holds the admin HTTP API settings.
type APIConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// AuditConfig holds the protocol violation store settings.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"db_path"`
	RetentionDays int    `json:"retention_days"`
	// PurgeTime is the local HH:MM at which expired entries are deleted.
	PurgeTime     string `json:"purge_time"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddress:         "0.0.0.0",
			Port:                  DefaultGatewayPort,
			Device:                DefaultDevice,
			MaxFrameBytes:         DefaultMaxFrameBytes,
			IdleTimeoutSec:        60,
			StaleSweepIntervalSec: 30,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "rsmod",
			},
			Security: SecurityConfig{
				AllowedOrigins: []string{"http://localhost:5000"},
				RateLimitRPS:   100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
			Audit: AuditConfig{
				Enabled:       true,
				DBPath:        "data/rsmod.db",
				RetentionDays: 14,
				PurgeTime:     "04:00",
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json lists every option, including ones added since
	// the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetGateway returns a copy of the gateway configuration.
func (c *Config) GetGateway() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway
}

// SetGateway updates the gateway configuration.
func (c *Config) SetGateway(g GatewayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = g
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateGatewayField updates a single gateway field by its JSON key.
func (c *Config) UpdateGatewayField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.Gateway, key, setKey(key, value))
}

// UpdateAppField updates a single application_data field addressed as
// "section.field", for example "logging.level".
func (c *Config) UpdateAppField(key string, value interface{}) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok || section == "" || field == "" {
		return fmt.Errorf("application key must be section.field: %s", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ApplicationData, key, func(m map[string]interface{}) error {
		inner, ok := m[section].(map[string]interface{})
		if !ok {
			return fmt.Errorf("unknown section %s", section)
		}
		if _, ok := inner[field]; !ok {
			return fmt.Errorf("unknown field %s", key)
		}
		inner[field] = value
		return nil
	})
}

func setKey(key string, value interface{}) func(map[string]interface{}) error {
	return func(m map[string]interface{}) error {
		if _, ok := m[key]; !ok {
			return fmt.Errorf("unknown field %s", key)
		}
		m[key] = value
		return nil
	}
}

// updateField round-trips target through a JSON map so callers can address
// fields by their config key.
func updateField(target interface{}, key string, set func(map[string]interface{}) error) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to read section: %w", err)
	}
	if err := set(m); err != nil {
		return err
	}

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}
