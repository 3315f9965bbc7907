/*
Package log provides structured logging for celixd using zerolog.

The log package wraps zerolog to give every other package a
JSON-structured, component-tagged logger with configurable level and
output, plus a handful of context-logger helpers for the identifiers
that recur across the framework: bundle id, service name, bundle
location.

# Usage

Initializing the logger:

	import "github.com/cuemby/celixd/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	fwLog := log.WithComponent("framework")
	fwLog.Info().Msg("starting")

	bundleLog := log.WithBundleID(3)
	bundleLog.Debug().Str("location", "file:///a.zip").Msg("resolving")

Every package that needs a zerolog.Logger takes one as a constructor
argument rather than reaching for the package-level Logger directly -
New(cfg, store, log.WithComponent("framework")) rather than a hidden
global - so tests can pass zerolog.Nop() and production code can pass a
logger already carrying request-scoped fields.

# Log Levels

Debug is for development and tracing activator/tracker churn; Info is
the default production level (bundle lifecycle transitions, EARPM
connect/disconnect); Warn covers recoverable conditions (library unload
failure, ack timeout); Error covers operation failures that need
investigation; Fatal exits the process and is reserved for startup
failures the framework cannot recover from (archive store won't open,
configured cache dir is not writable).
*/
package log
