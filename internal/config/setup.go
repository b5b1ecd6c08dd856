package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the operator through the gateway settings, reading
// answers from in and writing prompts to out. An empty answer keeps the
// current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	return runSetupWizard(cfg, bufio.NewReader(in), out)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            rsmod - Gateway Setup             ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	gw := cfg.GetGateway()
	app := cfg.GetApplicationData()

	fmt.Fprintln(out, "── Client Gateway ──")
	gw.ListenAddress = promptString(reader, out, "Listen address", gw.ListenAddress)
	gw.Port = promptInt(reader, out, "Gateway port", gw.Port)
	gw.Device = strings.ToLower(promptString(reader, out, "Client device (desktop, android, ios)", gw.Device))
	gw.MaxFrameBytes = promptInt(reader, out, "Max frame bytes", gw.MaxFrameBytes)
	gw.IdleTimeoutSec = promptInt(reader, out, "Idle timeout in seconds (0 disables)", gw.IdleTimeoutSec)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	app.API.Enabled = promptBool(reader, out, "Enable admin API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = promptInt(reader, out, "API port", app.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Audit & Telemetry ──")
	app.Audit.Enabled = promptBool(reader, out, "Record protocol violations", app.Audit.Enabled)
	if app.Audit.Enabled {
		app.Audit.DBPath = promptString(reader, out, "Audit database path", app.Audit.DBPath)
	}
	app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = promptInt(reader, out, "MQTT broker port", app.MQTT.Port)
	}

	cfg.SetGateway(gw)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved to", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
