// Package config handles client configuration: which network to talk to,
// where local state lives, and how the engine reaches the chain gateway and
// the attestation backend.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds client runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chain gateway and attestation backend
	Chain  ChainConfig
	Attest AttestConfig

	// Cryptography
	Scheme string `conf:"scheme"` // secp256k1 (default) or bn254

	// Logging
	Log LogConfig
}

// ChainConfig holds gateway RPC settings.
type ChainConfig struct {
	Endpoint            string        `conf:"chain.endpoint"`
	Timeout             time.Duration `conf:"chain.timeout"`
	ReceiptPollInterval time.Duration `conf:"chain.poll_interval"`
	ReceiptPollAttempts int           `conf:"chain.poll_attempts"`
}

// AttestConfig holds attestation backend settings.
type AttestConfig struct {
	Endpoint string `conf:"attest.endpoint"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.veilvault
//	macOS:   ~/Library/Application Support/VeilVault
//	Windows: %APPDATA%\VeilVault
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veilvault"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "VeilVault")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "VeilVault")
		}
		return filepath.Join(home, "AppData", "Roaming", "VeilVault")
	default:
		return filepath.Join(home, ".veilvault")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// LedgerDir returns the private UTXO database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.NetworkDataDir(), "ledger")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "veilvault.conf")
}
