package config

import "time"

// DefaultMainnet returns the default client configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			Endpoint:            "http://127.0.0.1:8545/",
			Timeout:             10 * time.Second,
			ReceiptPollInterval: 2 * time.Second,
			ReceiptPollAttempts: 30,
		},
		Attest: AttestConfig{
			Endpoint: "http://127.0.0.1:8980/attest",
		},
		Scheme: "secp256k1",
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default client configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Chain.Endpoint = "http://127.0.0.1:8645/"
	cfg.Attest.Endpoint = "http://127.0.0.1:8981/attest"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
