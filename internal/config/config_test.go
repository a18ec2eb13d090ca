package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.toml")
	body := `
ring_path = "/etc/proxy/object.ring.yaml"
listen_addr = ":6000"
node_timeout = 3.0
account_autocreate = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.ListenAddr)
	assert.Equal(t, "/etc/proxy/object.ring.yaml", cfg.RingPath)
	assert.True(t, cfg.AccountAutocreate)
	assert.Equal(t, 3.0, cfg.NodeTimeoutSeconds)
}

func TestValidateRejectsNonPositiveTimeout(t *testing.T) {
	cfg := Default()
	cfg.NodeTimeoutSeconds = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadSerializationSupport(t *testing.T) {
	cfg := Default()
	cfg.MemcacheSerializationSupport = 7
	assert.Error(t, Validate(cfg))
}

func TestContainerWhitelisted(t *testing.T) {
	cfg := Default()
	cfg.MaxContainersWhitelist = []string{"acct1"}
	assert.True(t, cfg.ContainerWhitelisted("acct1"))
	assert.False(t, cfg.ContainerWhitelisted("acct2"))
}
