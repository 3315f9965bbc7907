// Package config loads the framework's recognised configuration keys
// from a props.Properties set (or the process environment) into plain
// structs, the way the teacher's manager/worker configs are built: no
// reflection-based binding, no DSL, just named fields with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/celixd/pkg/props"
)

// AutoStartLevels is the maximum recognised celix.auto.start.<level> key.
const AutoStartLevels = 5

// Framework holds the framework-wide recognised configuration.
type Framework struct {
	CacheDir           string
	CleanCacheOnCreate bool
	// AutoStart[level] lists bundle locations to auto-start at that
	// start level, indices 0..AutoStartLevels.
	AutoStart [AutoStartLevels + 1][]string
}

// EARPM holds the event-admin remote-provider-mqtt recognised
// configuration, the Go rendition of the CELIX_EARPM_* environment
// family.
type EARPM struct {
	BrokerProfile            string
	EventDefaultQoS          int
	MsgQueueCapacity         int
	ParallelMsgCapacity      int
	SyncEventDeliveryThreads int
	SyncEventNoAckThreshold  int
}

// DefaultEARPM returns the default values spec.md §4.9-§4.11 and §6 assign
// when a key is absent.
func DefaultEARPM() EARPM {
	return EARPM{
		EventDefaultQoS:          0,
		MsgQueueCapacity:         256,
		ParallelMsgCapacity:      20,
		SyncEventDeliveryThreads: 5,
		SyncEventNoAckThreshold:  10,
	}
}

// LoadFramework reads the celix.framework.* and celix.auto.start.* keys
// from p. Missing keys keep their zero value / empty auto-start lists.
func LoadFramework(p *props.Properties) Framework {
	var fw Framework
	if p == nil {
		return fw
	}
	fw.CacheDir = p.GetString("celix.framework.cache.dir", "")
	fw.CleanCacheOnCreate = p.GetString("celix.framework.clean.cache.dir.on.create", "false") == "true"
	for level := 0; level <= AutoStartLevels; level++ {
		key := fmt.Sprintf("celix.auto.start.%d", level)
		raw := p.GetString(key, "")
		fw.AutoStart[level] = splitLocations(raw)
	}
	return fw
}

// LoadEARPM reads the CELIX_EARPM_* keys from the environment, applying
// the defaults and the bounds spec.md §6 documents (queue capacity
// 1..2048, parallel-msg capacity 1..queue-capacity, delivery threads
// 1..20). Out-of-range values are clamped rather than rejected, since
// this is operator-supplied deployment configuration, not a
// caller-facing API.
func LoadEARPM(lookup func(string) (string, bool)) EARPM {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultEARPM()

	if v, ok := lookup("CELIX_EARPM_BROKER_PROFILE"); ok {
		cfg.BrokerProfile = v
	}
	if v, ok := intEnv(lookup, "CELIX_EARPM_EVENT_DEFAULT_QOS"); ok {
		cfg.EventDefaultQoS = clamp(v, 0, 2)
	}
	if v, ok := intEnv(lookup, "CELIX_EARPM_MSG_QUEUE_CAPACITY"); ok {
		cfg.MsgQueueCapacity = clamp(v, 1, 2048)
	}
	if v, ok := intEnv(lookup, "CELIX_EARPM_PARALLEL_MSG_CAPACITY"); ok {
		cfg.ParallelMsgCapacity = clamp(v, 1, cfg.MsgQueueCapacity)
	}
	if v, ok := intEnv(lookup, "CELIX_EARPM_SYNC_EVENT_DELIVERY_THREADS"); ok {
		cfg.SyncEventDeliveryThreads = clamp(v, 1, 20)
	}
	if v, ok := intEnv(lookup, "CELIX_EARPM_SYNC_EVENT_CONTINUOUS_NO_ACK_THRESHOLD"); ok && v > 0 {
		cfg.SyncEventNoAckThreshold = v
	}
	return cfg
}

func intEnv(lookup func(string) (string, bool), key string) (int, bool) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return n, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitLocations(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
