package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nozemi/rsmod/internal/protocol"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayPort, cfg.GetGateway().Port)
	assert.Equal(t, DefaultMaxFrameBytes, cfg.GetGateway().MaxFrameBytes)
	assert.FileExists(t, filepath.Join(dir, DefaultConfigFile))
	assert.True(t, Validate(cfg).IsValid())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"gateway":{"port":43595}}`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 43595, cfg.GetGateway().Port)
	assert.Equal(t, "desktop", cfg.GetGateway().Device)

	// Re-saved with the full option set.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_frame_bytes": 5000`)
	assert.Contains(t, string(data), `"retention_days": 14`)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestUpdateGatewayField(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateGatewayField("max_frame_bytes", 1024))
	assert.Equal(t, 1024, cfg.GetGateway().MaxFrameBytes)

	assert.Error(t, cfg.UpdateGatewayField("no_such_field", 1))
	assert.Error(t, cfg.UpdateGatewayField("port", "not a number"))
}

func TestUpdateAppField(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateAppField("logging.level", "debug"))
	require.NoError(t, cfg.UpdateAppField("audit.retention_days", 7))
	app := cfg.GetApplicationData()
	assert.Equal(t, "debug", app.Logging.Level)
	assert.Equal(t, 7, app.Audit.RetentionDays)
	assert.Equal(t, DefaultAPIPort, app.API.Port, "other fields are untouched")

	assert.Error(t, cfg.UpdateAppField("logging", "debug"))
	assert.Error(t, cfg.UpdateAppField("nope.level", "debug"))
	assert.Error(t, cfg.UpdateAppField("logging.nope", "debug"))
	assert.Error(t, cfg.UpdateAppField("api.port", "not a number"))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	gw := cfg.GetGateway()
	gw.Device = "toaster"
	gw.Port = 70000
	gw.MaxFrameBytes = -1
	cfg.SetGateway(gw)

	app := cfg.GetApplicationData()
	app.Logging.Level = "loud"
	app.Audit.RetentionDays = 0
	app.Audit.PurgeTime = "25:00"
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	require.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"gateway.device",
		"gateway.port",
		"gateway.max_frame_bytes",
		"application_data.logging.level",
		"application_data.audit.retention_days",
		"application_data.audit.purge_time",
	} {
		assert.True(t, fields[f], f)
	}
}

func TestValidatePortConflict(t *testing.T) {
	cfg := DefaultConfig()
	app := cfg.GetApplicationData()
	app.API.Port = DefaultGatewayPort
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "application_data.api.port", result.Errors[0].Field)
}

func TestValidateRejectsDisabledCap(t *testing.T) {
	cfg := DefaultConfig()
	gw := cfg.GetGateway()
	gw.MaxFrameBytes = 0
	cfg.SetGateway(gw)

	result := Validate(cfg)
	require.False(t, result.IsValid())
	assert.Equal(t, "gateway.max_frame_bytes", result.Errors[0].Field)

	gw.MaxFrameBytes = 200
	cfg.SetGateway(gw)
	result = Validate(cfg)
	assert.True(t, result.IsValid())
	require.NotEmpty(t, result.Warnings)
	assert.Equal(t, "gateway.max_frame_bytes", result.Warnings[0].Field)
}

func TestDefaultCapMatchesFrameReader(t *testing.T) {
	assert.Equal(t, protocol.DefaultMaxFrameBytes, DefaultConfig().GetGateway().MaxFrameBytes)
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	answers := strings.Join([]string{
		"127.0.0.1", // listen address
		"43600",     // port
		"",          // device
		"",          // max frame
		"120",       // idle timeout
		"no",        // api
		"",          // audit enabled
		"",          // audit path
		"",          // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	gw := cfg.GetGateway()
	assert.Equal(t, "127.0.0.1", gw.ListenAddress)
	assert.Equal(t, 43600, gw.Port)
	assert.Equal(t, 120, gw.IdleTimeoutSec)
	assert.False(t, cfg.GetApplicationData().API.Enabled)
	assert.FileExists(t, cfg.Path())
	assert.Contains(t, out.String(), "Configuration saved")
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("04:30")
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("4am")
	assert.Error(t, err)
}
