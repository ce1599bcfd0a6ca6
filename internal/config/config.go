// Package config holds host-level console configuration: sandbox resource
// limits, the NCHS default port, and save-slot sizing. It is deliberately
// separate from game-asset manifests (out of scope per §1) — this is
// the console's own configuration, not a game's.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Limits are the per-console resource caps enforced by the sandbox
// executor (§4.A).
type Limits struct {
	// RAMBytes is the sandbox linear memory ceiling.
	RAMBytes uint32
	// VRAMBytes bounds combined texture + mesh GPU memory.
	VRAMBytes uint32
	// ROMBytes bounds code + data-pack size.
	ROMBytes uint32
	// CPUBudgetMicros bounds per-tick execution time.
	CPUBudgetMicros uint32
}

// DefaultLimits mirrors a modest retro-console profile: 4 MiB of RAM (64
// wasm memory pages of 64KiB), a few megabytes of VRAM, and a tight
// per-tick budget.
func DefaultLimits() Limits {
	return Limits{
		RAMBytes:        4 * 1024 * 1024,
		VRAMBytes:       16 * 1024 * 1024,
		ROMBytes:        8 * 1024 * 1024,
		CPUBudgetMicros: 12_000, // leaves headroom under a 16.6ms (60Hz) frame
	}
}

const (
	// MaxSaveSize is the per-slot persisted-state cap (§6).
	MaxSaveSize = 64 * 1024
	// MaxSaveSlots is the number of save slots per game (§6).
	MaxSaveSlots = 8
	// DefaultNCHSPort is the console's well-known handshake port (§6).
	DefaultNCHSPort = 7777
	// MaxPlayers bounds ROM max_players (§3).
	MaxPlayers = 4
	// HistoryDepth is how many past frames of input piggy-back on each
	// input packet for loss resilience (§4.H / §6).
	HistoryDepth = 8
	// MaxRollbackFrames bounds how far back a rollback may reach.
	MaxRollbackFrames = 8
	// InputRingFrames sizes the input ring with safety margin (§4.G).
	InputRingFrames = MaxRollbackFrames + 8
	// DisconnectTimeoutMillis is how long without input before a peer is
	// considered gone (§4.H).
	DisconnectTimeoutMillis = 5000
)

// Console bundles everything a Unified Runtime needs that isn't part of a
// specific ROM.
type Console struct {
	Limits   Limits `toml:"-"`
	NCHSPort uint16 `toml:"nchs_port"`
	SaveDir  string `toml:"save_dir"`
}

// DefaultConsole returns sane defaults for standalone or solo play.
func DefaultConsole() Console {
	return Console{
		Limits:   DefaultLimits(),
		NCHSPort: DefaultNCHSPort,
		SaveDir:  ".",
	}
}

// fileConfig is the on-disk TOML shape; limits are compiled-in and not
// user-tunable from the console config file (they describe what hardware
// the console emulates, not a deployment knob).
type fileConfig struct {
	NCHSPort uint16 `toml:"nchs_port"`
	SaveDir  string `toml:"save_dir"`
}

// LoadConsole reads console configuration from a TOML file, overlaying it
// on DefaultConsole.
func LoadConsole(path string) (Console, error) {
	cfg := DefaultConsole()

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return cfg, fmt.Errorf("load console config %q: %w", path, err)
	}
	if fc.NCHSPort != 0 {
		cfg.NCHSPort = fc.NCHSPort
	}
	if fc.SaveDir != "" {
		cfg.SaveDir = fc.SaveDir
	}
	return cfg, nil
}
