package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet} {
		cfg := Default(network)
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s defaults do not validate: %v", network, err)
		}
		if cfg.Network != network {
			t.Errorf("network = %s, want %s", cfg.Network, network)
		}
	}
}

func TestLoadFileAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veilvault.conf")
	content := `
# client settings
network = testnet
datadir = "/tmp/vv"
chain.endpoint = http://gateway:9545/
chain.poll_interval = 500ms
chain.poll_attempts = 10
attest.endpoint = http://backend:9980/attest
scheme = bn254
log.level = debug
log.json = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Network != Testnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
	if cfg.DataDir != "/tmp/vv" {
		t.Errorf("datadir = %q (quotes should be stripped)", cfg.DataDir)
	}
	if cfg.Chain.Endpoint != "http://gateway:9545/" {
		t.Errorf("chain endpoint = %q", cfg.Chain.Endpoint)
	}
	if cfg.Chain.ReceiptPollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Chain.ReceiptPollInterval)
	}
	if cfg.Scheme != "bn254" {
		t.Errorf("scheme = %q", cfg.Scheme)
	}
	if !cfg.Log.JSON {
		t.Error("log.json should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("applied config does not validate: %v", err)
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("missing file should yield no values, got %v", values)
	}
}

func TestApplyRejectsUnknownKey(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"mining.enabled": "true"}); err == nil {
		t.Error("unknown key must be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"bad network":   func(c *Config) { c.Network = "devnet" },
		"empty datadir": func(c *Config) { c.DataDir = "" },
		"bad endpoint":  func(c *Config) { c.Chain.Endpoint = "not a url" },
		"bad scheme":    func(c *Config) { c.Scheme = "curve25519" },
		"zero polling":  func(c *Config) { c.Chain.ReceiptPollAttempts = 0 },
	}
	for name, mutate := range cases {
		cfg := DefaultMainnet()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
