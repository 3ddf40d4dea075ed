package config

import (
	"fmt"
	"os"
	"strings"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "OFFLINEBATCH_"

// ApplyEnv overlays OFFLINEBATCH_* environment variables onto c.
func (c *Config) ApplyEnv() {
	c.Log.Level = envStr(EnvPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr(EnvPrefix+"LOG_FORMAT", c.Log.Format)
	c.MetricsAddr = envStr(EnvPrefix+"METRICS_ADDR", c.MetricsAddr)
	c.Input = envStr(EnvPrefix+"INPUT", c.Input)
	c.Output = envStr(EnvPrefix+"OUTPUT", c.Output)
	c.Engine.Slots = envInt(EnvPrefix+"SLOTS", c.Engine.Slots)
	c.Scheduler.DecodeSteps = envInt(EnvPrefix+"DECODE_STEPS", c.Scheduler.DecodeSteps)
	c.Scheduler.QueueCapacity = envInt(EnvPrefix+"QUEUE_CAPACITY", c.Scheduler.QueueCapacity)
	c.Scheduler.BatchPrefill = envBool(EnvPrefix+"BATCH_PREFILL", c.Scheduler.BatchPrefill)
	c.Scheduler.Shuffle = envBool(EnvPrefix+"SHUFFLE", c.Scheduler.Shuffle)
}

// Env helpers
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	s := strings.ToLower(v)
	return s == "1" || s == "true" || s == "yes"
}
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, err := fmt.Sscanf(v, "%d", &n)
		if err == nil {
			return n
		}
	}
	return def
}
