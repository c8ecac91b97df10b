package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing mount root", func(c *Config) { c.MountRoot = "" }},
		{"missing mount command", func(c *Config) { c.MountCmd = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative scan interval", func(c *Config) { c.ScanInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
