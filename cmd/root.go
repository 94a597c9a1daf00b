// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/internal/config"
	"github.com/Thermoquad/whitebeet/internal/logging"
)

var (
	configPath string

	// Connection flags
	ifaceType  string
	ifaceName  string
	macAddress string
	baudRate   int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging flags
	logLevel  string
	logFile   string
	logFormat string
)

// Loaded by the root command before any subcommand runs
var (
	cfg  config.Config
	logs = logging.NewManager()
)

var rootCmd = &cobra.Command{
	Use:   "whitebeet",
	Short: "Whitebeet EV/EVSE charging session driver",
	Long: `Whitebeet - A CLI tool that drives a Whitebeet communication controller
through a full ISO 15118 / DIN 70121 charging session as the EV or the EVSE.

Connection modes:
  Ethernet:  -t eth -i eth0 -m c4:93:00:22:22:24
  Serial:    -t serial -i /dev/ttyUSB0 [--baud 115200]
  WebSocket: -t ws --url ws://host/path [--username user]
  Simulated: -t sim

Settings are read from the file given with --config (YAML or JSON) and
overridden by flags. For WebSocket authentication, the password is read from
the WHITEBEET_PASSWORD environment variable, or prompted interactively if
not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logs.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML or JSON)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&ifaceType, "interface-type", "t", "", "Interface type: eth, serial, ws, spi or sim")
	rootCmd.PersistentFlags().StringVarP(&ifaceName, "interface", "i", "", "Ethernet interface or serial device")
	rootCmd.PersistentFlags().StringVarP(&macAddress, "mac", "m", "", "MAC address of the controller (ethernet only)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultSerialBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

// loadSettings reads the configuration file, applies the flags on top and
// configures logging
func loadSettings(cmd *cobra.Command, _ []string) error {
	loaded := config.Default()
	if configPath != "" {
		var err error
		loaded, err = config.Load(configPath)
		if err != nil {
			return setupError("cannot load configuration", "check the path given with --config", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("interface-type") {
		loaded.Connection.Type = config.InterfaceType(ifaceType)
	}
	if flags.Changed("interface") {
		switch loaded.Connection.Type {
		case config.InterfaceSerial:
			loaded.Connection.Port = ifaceName
		default:
			loaded.Connection.Interface = ifaceName
		}
	}
	if flags.Changed("mac") {
		loaded.Connection.MAC = macAddress
	}
	if flags.Changed("baud") {
		loaded.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.Connection.URL = wsURL
		if !flags.Changed("interface-type") {
			loaded.Connection.Type = config.InterfaceWebSocket
		}
	}
	if flags.Changed("username") {
		loaded.Connection.User = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		loaded.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		loaded.Logging.File = logFile
	}
	if flags.Changed("log-format") {
		loaded.Logging.Format = logFormat
	}

	if err := logs.Configure(loaded.Logging); err != nil {
		return setupError("invalid logging settings", "use --log-level debug|info|warn|error and --log-format text|json", err)
	}
	cfg = loaded
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
