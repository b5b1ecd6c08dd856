package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Nozemi/rsmod/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	gw := cfg.GetGateway()
	app := cfg.GetApplicationData()
	validateGateway(&gw, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == gw.Port {
		result.AddError("application_data.api.port", "API port conflicts with the gateway port")
	}

	return result
}

func validateGateway(g *GatewayConfig, result *ValidationResult) {
	if strings.TrimSpace(g.ListenAddress) == "" {
		result.AddError("gateway.listen_address", "listen address is required")
	} else if net.ParseIP(g.ListenAddress) == nil && g.ListenAddress != "localhost" {
		result.AddError("gateway.listen_address",
			fmt.Sprintf("not an IP address: %s", g.ListenAddress))
	}

	validatePort(g.Port, "gateway.port", result)

	if _, err := protocol.ParseDevice(g.Device); err != nil {
		result.AddError("gateway.device", fmt.Sprintf("unknown device %q", g.Device))
	}

	switch {
	case g.MaxFrameBytes < 1:
		result.AddError("gateway.max_frame_bytes", "frame size cap must be at least 1 byte")
	case g.MaxFrameBytes < 257:
		result.AddWarning("gateway.max_frame_bytes",
			fmt.Sprintf("cap of %d bytes rejects some valid u8-prefixed frames", g.MaxFrameBytes))
	}

	if g.IdleTimeoutSec < 0 {
		result.AddError("gateway.idle_timeout_sec", "must not be negative")
	} else if g.IdleTimeoutSec > 0 && g.IdleTimeoutSec < 10 {
		result.AddWarning("gateway.idle_timeout_sec", "idle timeout less than 10 seconds may drop slow clients")
	}

	if g.StaleSweepIntervalSec < 1 {
		result.AddError("gateway.stale_sweep_interval_sec", "must be at least 1 second")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddError("application_data.logging.level",
			fmt.Sprintf("unknown log level %q", data.Logging.Level))
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if data.Audit.Enabled {
		if strings.TrimSpace(data.Audit.DBPath) == "" {
			result.AddError("application_data.audit.db_path", "audit database path is required when enabled")
		}
		if data.Audit.RetentionDays < 1 {
			result.AddError("application_data.audit.retention_days", "retention days must be at least 1")
		}
		if _, _, err := ParseClock(data.Audit.PurgeTime); err != nil {
			result.AddError("application_data.audit.purge_time", err.Error())
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
