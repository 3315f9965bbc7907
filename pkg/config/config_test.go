package config

import (
	"testing"

	"github.com/cuemby/celixd/pkg/props"
	"github.com/stretchr/testify/assert"
)

func TestLoadFrameworkParsesAutoStartLevels(t *testing.T) {
	p := props.New()
	p.Set("celix.framework.cache.dir", "/var/lib/celix")
	p.Set("celix.framework.clean.cache.dir.on.create", "true")
	p.Set("celix.auto.start.3", "file:///a.zip file:///b.zip")

	fw := LoadFramework(p)
	assert.Equal(t, "/var/lib/celix", fw.CacheDir)
	assert.True(t, fw.CleanCacheOnCreate)
	assert.Equal(t, []string{"file:///a.zip", "file:///b.zip"}, fw.AutoStart[3])
	assert.Nil(t, fw.AutoStart[0])
}

func TestLoadFrameworkNilPropertiesReturnsZeroValue(t *testing.T) {
	fw := LoadFramework(nil)
	assert.Equal(t, "", fw.CacheDir)
	assert.False(t, fw.CleanCacheOnCreate)
}

func TestLoadEARPMAppliesDefaultsAndClamps(t *testing.T) {
	env := map[string]string{
		"CELIX_EARPM_MSG_QUEUE_CAPACITY":      "9000",
		"CELIX_EARPM_PARALLEL_MSG_CAPACITY":   "5000",
		"CELIX_EARPM_SYNC_EVENT_DELIVERY_THREADS": "99",
	}
	cfg := LoadEARPM(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	assert.Equal(t, 2048, cfg.MsgQueueCapacity)
	assert.Equal(t, 2048, cfg.ParallelMsgCapacity)
	assert.Equal(t, 20, cfg.SyncEventDeliveryThreads)
	assert.Equal(t, 10, cfg.SyncEventNoAckThreshold)
}

func TestLoadEARPMDefaultsWhenUnset(t *testing.T) {
	cfg := LoadEARPM(func(string) (string, bool) { return "", false })
	assert.Equal(t, DefaultEARPM(), cfg)
}
