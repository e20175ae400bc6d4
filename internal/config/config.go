// Package config loads the perund TOML configuration file.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/AsmirZukic/Perun/internal/protocol"
)

// Config holds the relay daemon's runtime settings.
type Config struct {
	TCPAddr      string // TCP listen address, empty disables
	WSAddr       string // WebSocket listen address, empty disables
	UnixPath     string // local socket path, empty disables
	MetricsAddr  string // Prometheus /metrics address, empty disables
	Capabilities uint16
	Debug        bool
}

// Default returns the settings used when no file and no flags are given.
func Default() Config {
	return Config{
		TCPAddr:      ":9500",
		Capabilities: protocol.CapAll,
	}
}

// perund.toml key mapping to runtime settings.
type fileConfig struct {
	TCP          string   `toml:"tcp"`
	WS           string   `toml:"ws"`
	Unix         string   `toml:"unix"`
	Metrics      string   `toml:"metrics"`
	Capabilities []string `toml:"capabilities"`
	Debug        bool     `toml:"debug"`
}

// Load reads a TOML config file, overlaying its defined keys on top of
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load perund config: %w", err)
	}

	if meta.IsDefined("tcp") {
		cfg.TCPAddr = strings.TrimSpace(raw.TCP)
	}
	if meta.IsDefined("ws") {
		cfg.WSAddr = strings.TrimSpace(raw.WS)
	}
	if meta.IsDefined("unix") {
		cfg.UnixPath = strings.TrimSpace(raw.Unix)
	}
	if meta.IsDefined("metrics") {
		cfg.MetricsAddr = strings.TrimSpace(raw.Metrics)
	}
	if meta.IsDefined("capabilities") {
		mask, err := ParseCapabilities(raw.Capabilities)
		if err != nil {
			return Config{}, err
		}
		cfg.Capabilities = mask
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	return cfg, nil
}

// ParseCapabilities converts capability names to the wire mask.
func ParseCapabilities(names []string) (uint16, error) {
	var mask uint16
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "delta":
			mask |= protocol.CapDelta
		case "audio":
			mask |= protocol.CapAudio
		case "debug":
			mask |= protocol.CapDebug
		default:
			return 0, fmt.Errorf("unknown capability %q", name)
		}
	}
	return mask, nil
}
