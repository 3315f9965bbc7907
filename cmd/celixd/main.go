package main

import (
	"fmt"
	"os"

	"github.com/cuemby/celixd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "celixd",
	Short: "celixd - a module services framework host process",
	Long: `celixd hosts an in-process module services framework: it installs
bundles, brokers services between them, and bridges events across
process boundaries over MQTT.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"celixd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("cache-dir", "./celixd-cache", "Bundle archive cache directory")
	rootCmd.PersistentFlags().StringSlice("mqtt-broker", nil, "MQTT broker URI, repeatable (tcp://host:1883); defaults to tcp://localhost:1883 if unset")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(startBundleCmd)
	rootCmd.AddCommand(stopBundleCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listBundlesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
