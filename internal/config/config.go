// Package config loads process configuration for the ledger daemon:
// BurntSushi/toml, write-default-if-missing, decode-if-present.
//
// Load never fabricates signing seeds. A silently-generated Ed25519
// seed would mean every previously-signed event becomes unverifiable
// against the new key, so when AuthEnabled is true a missing role seed
// is a startup error instead.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of recognized environment options.
type Config struct {
	DatabaseURL           string `toml:"DatabaseURL"`
	AnchorMode            string `toml:"AnchorMode"`
	AnchorStrict          bool   `toml:"AnchorStrict"`
	ReceiptBackend        string `toml:"ReceiptBackend"`
	RevealTokenTTLSeconds int    `toml:"RevealTokenTTLSeconds"`

	AgentSigningSeedB64   string `toml:"AgentSigningSeedB64"`
	HumanSigningSeedB64   string `toml:"HumanSigningSeedB64"`
	AuditorSigningSeedB64 string `toml:"AuditorSigningSeedB64"`

	AgentAPIKey   string `toml:"AgentAPIKey"`
	HumanAPIKey   string `toml:"HumanAPIKey"`
	AuditorAPIKey string `toml:"AuditorAPIKey"`
	SystemAPIKey  string `toml:"SystemAPIKey"`

	AuthEnabled bool `toml:"AuthEnabled"`

	OpsListenAddress string `toml:"OpsListenAddress"`
	ServiceName      string `toml:"ServiceName"`
	Environment      string `toml:"Environment"`
	LogPath          string `toml:"LogPath"`

	OTelEndpoint string `toml:"OTelEndpoint"`
	OTelInsecure bool   `toml:"OTelInsecure"`
}

var validAnchorModes = map[string]bool{
	"immutable_native": true,
	"immutable_cli":    true,
	"fake":             true,
}

var validReceiptBackends = map[string]bool{
	"object_store": true,
	"local":        true,
}

// Load reads configuration from path, writing a generated default file
// if none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DatabaseURL is required")
	}
	if c.AnchorMode == "" {
		c.AnchorMode = "fake"
	}
	if !validAnchorModes[c.AnchorMode] {
		return fmt.Errorf("config: AnchorMode %q is not one of immutable_native, immutable_cli, fake", c.AnchorMode)
	}
	if c.ReceiptBackend == "" {
		c.ReceiptBackend = "local"
	}
	if !validReceiptBackends[c.ReceiptBackend] {
		return fmt.Errorf("config: ReceiptBackend %q is not one of object_store, local", c.ReceiptBackend)
	}
	if c.RevealTokenTTLSeconds <= 0 {
		c.RevealTokenTTLSeconds = 900
	}
	if c.OpsListenAddress == "" {
		c.OpsListenAddress = ":9090"
	}
	if c.ServiceName == "" {
		c.ServiceName = "ledgerd"
	}

	if c.AuthEnabled {
		missing := []string{}
		if c.AgentSigningSeedB64 == "" {
			missing = append(missing, "AgentSigningSeedB64")
		}
		if c.HumanSigningSeedB64 == "" {
			missing = append(missing, "HumanSigningSeedB64")
		}
		if c.AuditorSigningSeedB64 == "" {
			missing = append(missing, "AuditorSigningSeedB64")
		}
		if len(missing) > 0 {
			return fmt.Errorf("config: AuthEnabled requires signing seeds, missing: %v (refusing to fabricate Ed25519 keys for a trust-kernel service)", missing)
		}
	}

	for name, raw := range map[string]string{
		"AgentSigningSeedB64":   c.AgentSigningSeedB64,
		"HumanSigningSeedB64":   c.HumanSigningSeedB64,
		"AuditorSigningSeedB64": c.AuditorSigningSeedB64,
	} {
		if raw == "" {
			continue
		}
		seed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fmt.Errorf("config: %s is not valid base64: %w", name, err)
		}
		if len(seed) != 32 {
			return fmt.Errorf("config: %s must decode to 32 bytes, got %d", name, len(seed))
		}
	}
	return nil
}

// createDefault writes a starter config file and returns it decoded. The
// signing seeds are left blank: AuthEnabled defaults to false in the
// generated file, and seeds must be supplied explicitly before auth is
// turned on.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:           "./ledger.sqlite",
		AnchorMode:            "fake",
		AnchorStrict:          false,
		ReceiptBackend:        "local",
		RevealTokenTTLSeconds: 900,
		AuthEnabled:           false,
		OpsListenAddress:      ":9090",
		ServiceName:           "ledgerd",
		Environment:           "dev",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}

	return cfg, nil
}

// RoleSeeds decodes the three role signing seeds into raw bytes, keyed
// by the same role-name strings pkg/signer uses.
func (c *Config) RoleSeeds() (map[string][]byte, error) {
	seeds := map[string]string{
		"agent":   c.AgentSigningSeedB64,
		"human":   c.HumanSigningSeedB64,
		"auditor": c.AuditorSigningSeedB64,
	}
	out := make(map[string][]byte, len(seeds))
	for role, raw := range seeds {
		if raw == "" {
			continue
		}
		seed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s seed: %w", role, err)
		}
		out[role] = seed
	}
	return out, nil
}
