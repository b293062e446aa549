package model

import (
	"strings"
	"time"
)

// Mode selects the source-count and time-budget targets of a research run.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// HardCapSources is the absolute ceiling on planned searches, shared across modes.
const HardCapSources = 20

// ModeConfig holds the static limits for one research mode.
type ModeConfig struct {
	Mode           Mode          `json:"mode" yaml:"mode"`
	MinSources     int           `json:"min_sources" yaml:"min_sources"`
	MaxSources     int           `json:"max_sources" yaml:"max_sources"`
	HardCapSources int           `json:"hard_cap_sources" yaml:"hard_cap_sources"`
	TargetDuration time.Duration `json:"target_duration" yaml:"target_duration"`
}

var modeConfigs = map[Mode]ModeConfig{
	ModeQuick: {
		Mode:           ModeQuick,
		MinSources:     4,
		MaxSources:     6,
		HardCapSources: HardCapSources,
		TargetDuration: 120 * time.Second,
	},
	ModeDeep: {
		Mode:           ModeDeep,
		MinSources:     10,
		MaxSources:     14,
		HardCapSources: HardCapSources,
		TargetDuration: 480 * time.Second,
	},
}

// Modes lists the known modes in display order.
func Modes() []Mode {
	return []Mode{ModeQuick, ModeDeep}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeConfigs[m]
	return ok
}

// Config returns the static configuration for m. Unknown modes fall back to quick.
func (m Mode) Config() ModeConfig {
	if cfg, ok := modeConfigs[m]; ok {
		return cfg
	}
	return modeConfigs[ModeQuick]
}

// LookupMode returns the configuration for a mode name.
func LookupMode(name string) (ModeConfig, bool) {
	cfg, ok := modeConfigs[Mode(strings.ToLower(strings.TrimSpace(name)))]
	return cfg, ok
}

// ParseMode converts a user-supplied name into a Mode.
func ParseMode(name string) (Mode, error) {
	cfg, ok := LookupMode(name)
	if !ok {
		return "", NewValidationError("mode", "must be one of quick, deep")
	}
	return cfg.Mode, nil
}

// ClampSourceCount applies the hard cap and then the mode maximum to a planned
// count. The returned flag is true when the count is below the mode minimum.
func (c ModeConfig) ClampSourceCount(count int) (int, bool) {
	hardCap := c.HardCapSources
	if hardCap <= 0 {
		hardCap = HardCapSources
	}
	if count > hardCap {
		count = hardCap
	}
	if count > c.MaxSources {
		count = c.MaxSources
	}
	return count, count < c.MinSources
}
