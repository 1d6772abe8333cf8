// Package config resolves the daemon's environment-variable configuration,
// optionally seeded from a .env file, mirroring the teacher's
// config.Init/config.Keys split between a defaulted struct and an
// overriding load step.
package config

import (
	"os"
	"strconv"

	"github.com/linux-automation/tacd-go/pkg/runtimeEnv"
)

// Config holds every daemon-wide setting read from the environment.
type Config struct {
	StateFile       string
	SampleFrequency int
	RTPriority      int
	HWGeneration    string
	HTTPAddr        string
	User            string
	Group           string
}

// Defaults mirrors the teacher's Keys-with-defaults pattern: a fully
// populated Config a caller can use as-is before Load overrides it from the
// environment.
var Defaults = Config{
	StateFile:       "/srv/tacd/state.json",
	SampleFrequency: 1024,
	RTPriority:      10,
	HWGeneration:    "stm32-v2",
	HTTPAddr:        ":8080",
}

// Load reads envFile (if present) into the process environment and returns
// Defaults overridden by whichever TACD_* variables are set.
func Load(envFile string) (Config, error) {
	if err := runtimeEnv.LoadEnv(envFile); err != nil {
		return Config{}, err
	}

	cfg := Defaults

	if v := os.Getenv("TACD_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("TACD_SAMPLE_FREQUENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SampleFrequency = n
		}
	}
	if v := os.Getenv("TACD_RT_PRIORITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RTPriority = n
		}
	}
	if v := os.Getenv("TACD_HW_GENERATION"); v != "" {
		cfg.HWGeneration = v
	}
	if v := os.Getenv("TACD_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.User = os.Getenv("TACD_USER")
	cfg.Group = os.Getenv("TACD_GROUP")

	return cfg, nil
}
