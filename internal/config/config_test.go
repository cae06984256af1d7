package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fake", cfg.AnchorMode)
	require.Equal(t, "local", cfg.ReceiptBackend)
	require.False(t, cfg.AuthEnabled)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.DatabaseURL, reloaded.DatabaseURL)
}

func TestLoadRejectsUnknownAnchorMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.toml")
	writeTOML(t, path, `DatabaseURL = "./x.sqlite"
AnchorMode = "bogus"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsAuthEnabledWithoutSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.toml")
	writeTOML(t, path, `DatabaseURL = "./x.sqlite"
AuthEnabled = true
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "refusing to fabricate")
}

func TestLoadAcceptsAuthEnabledWithSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.toml")
	seed := base64.StdEncoding.EncodeToString(make([]byte, 32))
	writeTOML(t, path, `DatabaseURL = "./x.sqlite"
AuthEnabled = true
AgentSigningSeedB64 = "`+seed+`"
HumanSigningSeedB64 = "`+seed+`"
AuditorSigningSeedB64 = "`+seed+`"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	seeds, err := cfg.RoleSeeds()
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	require.Len(t, seeds["agent"], 32)
}

func writeTOML(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
