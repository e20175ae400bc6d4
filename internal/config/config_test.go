package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AsmirZukic/Perun/internal/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perund.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
tcp = ":7000"
ws = ":7001"
unix = "/run/perun.sock"
capabilities = ["delta", "audio"]
debug = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TCPAddr != ":7000" || cfg.WSAddr != ":7001" || cfg.UnixPath != "/run/perun.sock" {
		t.Errorf("addresses = %q/%q/%q", cfg.TCPAddr, cfg.WSAddr, cfg.UnixPath)
	}
	if cfg.Capabilities != (protocol.CapDelta | protocol.CapAudio) {
		t.Errorf("caps = %#04x, want delta|audio", cfg.Capabilities)
	}
	if !cfg.Debug {
		t.Error("debug not set")
	}
}

func TestLoadKeepsDefaultsForUndefinedKeys(t *testing.T) {
	path := writeConfig(t, `debug = true`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.TCPAddr != def.TCPAddr {
		t.Errorf("tcp = %q, want default %q", cfg.TCPAddr, def.TCPAddr)
	}
	if cfg.Capabilities != def.Capabilities {
		t.Errorf("caps = %#04x, want default %#04x", cfg.Capabilities, def.Capabilities)
	}
}

func TestLoadRejectsUnknownCapability(t *testing.T) {
	path := writeConfig(t, `capabilities = ["delta", "teleport"]`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown capability accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestParseCapabilities(t *testing.T) {
	mask, err := ParseCapabilities([]string{"Delta", " audio ", "DEBUG"})
	if err != nil {
		t.Fatalf("ParseCapabilities: %v", err)
	}
	if mask != protocol.CapAll {
		t.Errorf("mask = %#04x, want %#04x", mask, protocol.CapAll)
	}
}
