package main

import (
	"fmt"
	"os"

	"github.com/cuemby/celixd/internal/earpmbundle"
	"github.com/cuemby/celixd/pkg/archive"
	"github.com/cuemby/celixd/pkg/config"
	"github.com/cuemby/celixd/pkg/framework"
	"github.com/cuemby/celixd/pkg/log"
	"github.com/cuemby/celixd/pkg/mqttclient"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// earpmBundleLocation is the only bundle location this process knows
// how to install: archive extraction and manifest parsing are out of
// scope, so the framework's one built-in bundle is registered directly
// against its activator factory instead of being resolved from a file.
const earpmBundleLocation = "celix://earpm"

// bootedFramework bundles everything a subcommand needs to perform one
// operation and shut down cleanly.
type bootedFramework struct {
	fw    *framework.Framework
	store *archive.Store
	cfg   config.Framework
	log   zerolog.Logger
}

func (b *bootedFramework) close() {
	b.fw.StopFramework()
	if err := b.store.Close(); err != nil {
		b.log.Warn().Err(err).Msg("error closing archive store")
	}
}

// bootFramework opens the archive store, constructs the framework, and
// registers the earpm bundle's manifest. It does not install or start
// anything - callers decide what operation to perform next.
func bootFramework(cmd *cobra.Command) (*bootedFramework, error) {
	clog := log.WithComponent("celixd")

	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	brokers, _ := cmd.Flags().GetStringSlice("mqtt-broker")

	fwCfg := config.LoadFramework(frameworkPropsFromEnv())
	fwCfg.CacheDir = cacheDir

	if fwCfg.CleanCacheOnCreate {
		if err := os.RemoveAll(cacheDir); err != nil {
			return nil, fmt.Errorf("clean cache dir: %w", err)
		}
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	store, err := archive.Open(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}

	fw := framework.New(fwCfg, store, clog)
	fw.RegisterManifest(earpmBundleLocation, framework.Manifest{
		MakeActivator: earpmbundle.New(config.LoadEARPM(nil), endpoints(brokers), clog),
	})

	return &bootedFramework{fw: fw, store: store, cfg: fwCfg, log: clog}, nil
}

// frameworkPropsFromEnv builds the properties set config.LoadFramework
// expects out of the environment: no properties-file loader is in
// scope, so the recognised celix.framework.* and celix.auto.start.*
// keys are read straight from the process environment under their own
// dotted names.
func frameworkPropsFromEnv() *props.Properties {
	p := props.New()
	keys := []string{
		"celix.framework.cache.dir",
		"celix.framework.clean.cache.dir.on.create",
	}
	for level := 0; level <= config.AutoStartLevels; level++ {
		keys = append(keys, fmt.Sprintf("celix.auto.start.%d", level))
	}
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			p.Set(key, v)
		}
	}
	return p
}

func endpoints(brokers []string) []mqttclient.Endpoint {
	if len(brokers) == 0 {
		brokers = []string{"tcp://localhost:1883"}
	}
	eps := make([]mqttclient.Endpoint, len(brokers))
	for i, uri := range brokers {
		eps[i] = mqttclient.Endpoint{URI: uri}
	}
	return eps
}

// resolveBundleID installs the earpm bundle (if not already installed in
// this process) and returns its id, so the single-shot subcommands have
// something to operate on without requiring the caller to track an id
// across separate process invocations.
func resolveBundleID(b *bootedFramework) (int64, error) {
	if id, ok := b.fw.GetBundleIDByLocation(earpmBundleLocation); ok {
		return id, nil
	}
	return b.fw.InstallBundle(earpmBundleLocation, false)
}
