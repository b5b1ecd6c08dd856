// rsmod - game client packet gateway.
//
// rsmod accepts client connections, splits each byte stream into
// opcode-tagged frames, decodes every frame into a typed message and
// dispatches it to a handler. An admin REST API, MQTT telemetry and a
// violation audit log surround the gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Nozemi/rsmod/internal/cli"
	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/packet"
	"github.com/Nozemi/rsmod/internal/protocol"
)

const (
	AppName = "rsmod"
	Banner  = `
                                 _
  _ __ ___ _ __ ___   ___   __| |
 | '__/ __| '_ ' _ \ / _ \ / _' |
 | |  \__ \ | | | | | (_) | (_| |
 |_|  |___/_| |_| |_|\___/ \__,_|  v%s
 Client Packet Gateway
`
)

// Version is set at build time.
var Version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "Client packet gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		opcodesCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func opcodesCmd() *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "opcodes",
		Short: "Print the client message table",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := protocol.ParseDevice(device)
			if err != nil {
				return err
			}
			table, err := packet.NewTable(nil)
			if err != nil {
				return err
			}
			cli.RenderOpcodes(cmd.OutOrStdout(), table, d)
			return nil
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", config.DefaultDevice, "client device (desktop, android, ios)")
	return cmd
}

func initCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run the interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "configuration directory")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, Version)
		},
	}
}
