package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/celixd/pkg/metrics"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the framework and block until terminated",
	Long: `Start boots the framework, installs the earpm bundle at every
configured celix.auto.start.<level>, serves Prometheus metrics, and
blocks until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("metrics-addr", ":9090", "Address to serve /metrics on")
}

func runStart(cmd *cobra.Command, args []string) error {
	booted, err := bootFramework(cmd)
	if err != nil {
		return err
	}

	autoStart := false
	for _, locations := range booted.cfg.AutoStart {
		for _, loc := range locations {
			if loc != earpmBundleLocation {
				booted.log.Warn().Str("location", loc).Msg("no manifest registered for configured auto-start location, skipping")
				continue
			}
			if _, err := booted.fw.InstallBundle(loc, true); err != nil {
				booted.close()
				return fmt.Errorf("auto-start %s: %w", loc, err)
			}
			autoStart = true
		}
	}
	if !autoStart {
		booted.log.Info().Msg("no celix.auto.start.* bundles configured, starting with no active bundles")
	}

	collector := newMetricsCollector(booted.fw)
	collector.start()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			booted.log.Error().Err(err).Msg("metrics server error")
		}
	}()

	booted.log.Info().Str("metrics_addr", metricsAddr).Msg("celixd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	booted.log.Info().Msg("shutting down")
	collector.stop()
	_ = srv.Close()
	booted.close()
	return nil
}
