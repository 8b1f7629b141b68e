package testing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedreap/qbitstats/internal/config"
	testutil "github.com/seedreap/qbitstats/internal/testing"
)

func TestValidConfig(t *testing.T) {
	cfg := testutil.ValidConfig(t)

	// Write the config to a temp file and load it to verify it's valid
	yamlContent := testutil.ConfigToYAML(t, cfg)
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yamlContent), 0600))

	loaded, err := config.Load(config.LoadOptions{ConfigFile: tmpFile})
	require.NoError(t, err, "ValidConfig should produce a valid config")

	assert.Equal(t, cfg.Server.Listen, loaded.Server.Listen)
	assert.Equal(t, cfg.Poll.Interval, loaded.Poll.Interval)

	c, ok := loaded.Clients["seedbox"]
	require.True(t, ok, "seedbox client should exist")
	assert.Equal(t, "http://seedbox.example.com:8080", c.URL)
	assert.Equal(t, "admin", c.Username)
	assert.Equal(t, "secret", c.Password)
	assert.Equal(t, config.DefaultHTTPTimeout, c.HTTPTimeout)
}
