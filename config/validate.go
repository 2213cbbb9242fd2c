package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for consistency before startup.
func (c *Config) Validate() error {
	switch c.Network {
	case Mainnet, Testnet:
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}

	if c.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}

	if err := checkEndpoint("chain.endpoint", c.Chain.Endpoint); err != nil {
		return err
	}
	if err := checkEndpoint("attest.endpoint", c.Attest.Endpoint); err != nil {
		return err
	}
	if c.Chain.ReceiptPollInterval <= 0 {
		return fmt.Errorf("chain.poll_interval must be positive")
	}
	if c.Chain.ReceiptPollAttempts <= 0 {
		return fmt.Errorf("chain.poll_attempts must be positive")
	}

	switch c.Scheme {
	case "secp256k1", "bn254":
	default:
		return fmt.Errorf("unknown scheme %q", c.Scheme)
	}

	return nil
}

func checkEndpoint(name, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid URL %q", name, endpoint)
	}
	return nil
}
