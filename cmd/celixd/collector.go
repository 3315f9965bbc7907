package main

import (
	"time"

	"github.com/cuemby/celixd/pkg/bundle"
	"github.com/cuemby/celixd/pkg/framework"
	"github.com/cuemby/celixd/pkg/metrics"
)

// metricsCollector polls a Framework on a fixed interval and republishes
// its state as the pkg/metrics gauges that drift slowly between polls
// (bundle counts by state, registry/listener sizes) rather than
// changing on every operation. It lives here rather than in pkg/metrics
// itself, since pkg/framework already imports pkg/metrics for its
// event-driven counters and a Framework-polling collector inside
// pkg/metrics would import pkg/framework right back.
type metricsCollector struct {
	fw     *framework.Framework
	stopCh chan struct{}
}

func newMetricsCollector(fw *framework.Framework) *metricsCollector {
	return &metricsCollector{
		fw:     fw,
		stopCh: make(chan struct{}),
	}
}

// start begins collecting metrics every 15 seconds until stop is called.
func (c *metricsCollector) start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *metricsCollector) stop() {
	close(c.stopCh)
}

func (c *metricsCollector) collect() {
	c.collectBundleMetrics()
	c.collectRegistryMetrics()
}

func (c *metricsCollector) collectBundleMetrics() {
	bundles := c.fw.ListBundles()

	counts := map[string]int{
		bundle.Installed.String():   0,
		bundle.Resolved.String():    0,
		bundle.Starting.String():    0,
		bundle.Active.String():      0,
		bundle.Stopping.String():    0,
		bundle.Uninstalled.String(): 0,
	}
	for _, b := range bundles {
		counts[b.State]++
	}
	for state, count := range counts {
		metrics.FrameworkBundlesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *metricsCollector) collectRegistryMetrics() {
	reg := c.fw.Registry()
	metrics.RegistryServicesTotal.Set(float64(reg.ServiceCount()))
	metrics.RegistryListenersTotal.Set(float64(reg.ListenerCount()))
}
