package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedreap/qbitstats/internal/config"
)

// loadConfigFromYAML creates a temp config file and loads it using Load().
// This ensures tests use the exact same config loading code as the application.
func loadConfigFromYAML(t *testing.T, yaml string) config.Config {
	t.Helper()

	cfg, err := loadConfigFromYAMLWithError(t, yaml)
	require.NoError(t, err, "failed to load config")

	return cfg
}

func loadConfigFromYAMLWithError(t *testing.T, yaml string) (config.Config, error) {
	t.Helper()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(yaml), 0644)
	require.NoError(t, err, "failed to write temp config file")

	return config.Load(config.LoadOptions{ConfigFile: configFile})
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "empty config uses all defaults",
			yaml: "",
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "[::]:8424", cfg.Server.Listen)
				assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
				assert.Empty(t, cfg.Clients)
			},
		},
		{
			name: "server listen can be overridden",
			yaml: `
server:
  listen: "0.0.0.0:9000"
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
				assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
			},
		},
		{
			name: "poll interval can be overridden",
			yaml: `
poll:
  interval: 1m
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, time.Minute, cfg.Poll.Interval)
			},
		},
		{
			name: "client http timeout defaults",
			yaml: `
clients:
  seedbox:
    url: http://seedbox:8080
`,
			check: func(t *testing.T, cfg config.Config) {
				require.Contains(t, cfg.Clients, "seedbox")
				assert.Equal(t, config.DefaultHTTPTimeout, cfg.Clients["seedbox"].HTTPTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfigFromYAML(t, tt.yaml)
			tt.check(t, cfg)
		})
	}
}

func TestClientConfig(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		cfg := loadConfigFromYAML(t, `
clients:
  seedbox:
    url: https://seedbox.example.com
    username: admin
    password: secret
    basicUser: proxy
    basicPass: proxypass
    tlsSkipVerify: true
    httpTimeout: 5s
`)

		require.Len(t, cfg.Clients, 1)
		c := cfg.Clients["seedbox"]
		assert.Equal(t, "https://seedbox.example.com", c.URL)
		assert.Equal(t, "admin", c.Username)
		assert.Equal(t, "secret", c.Password)
		assert.Equal(t, "proxy", c.BasicUser)
		assert.Equal(t, "proxypass", c.BasicPass)
		assert.True(t, c.TLSSkipVerify)
		assert.Equal(t, 5*time.Second, c.HTTPTimeout)
	})

	t.Run("multiple clients", func(t *testing.T) {
		cfg := loadConfigFromYAML(t, `
clients:
  home:
    url: http://home:8080
  seedbox:
    url: http://seedbox:8080
`)

		assert.Len(t, cfg.Clients, 2)
		assert.Equal(t, "http://home:8080", cfg.Clients["home"].URL)
		assert.Equal(t, "http://seedbox:8080", cfg.Clients["seedbox"].URL)
	})
}

func TestFromEnvironment(t *testing.T) {
	envVars := map[string]string{
		"QBITSTATS_SERVER_LISTEN":               "0.0.0.0:8080",
		"QBITSTATS_POLL_INTERVAL":               "45s",
		"QBITSTATS_CLIENTS":                     "seedbox",
		"QBITSTATS_CLIENTS_SEEDBOX_URL":         "http://seedbox.example.com:8080",
		"QBITSTATS_CLIENTS_SEEDBOX_USERNAME":    "admin",
		"QBITSTATS_CLIENTS_SEEDBOX_PASSWORD":    "secret123",
		"QBITSTATS_CLIENTS_SEEDBOX_HTTPTIMEOUT": "10s",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
	assert.Equal(t, 45*time.Second, cfg.Poll.Interval)

	require.Len(t, cfg.Clients, 1)
	c := cfg.Clients["seedbox"]
	assert.Equal(t, "http://seedbox.example.com:8080", c.URL)
	assert.Equal(t, "admin", c.Username)
	assert.Equal(t, "secret123", c.Password)
	assert.Equal(t, 10*time.Second, c.HTTPTimeout)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name: "client missing url",
			yaml: `
clients:
  seedbox:
    username: admin
`,
			errContains: `client "seedbox": url is required`,
		},
		{
			name: "client invalid url",
			yaml: `
clients:
  seedbox:
    url: "://seedbox"
`,
			errContains: `client "seedbox": invalid url`,
		},
		{
			name: "client unsupported scheme",
			yaml: `
clients:
  seedbox:
    url: ftp://seedbox
`,
			errContains: `client "seedbox": url scheme must be http or https`,
		},
		{
			name: "zero poll interval",
			yaml: `
poll:
  interval: 0s
`,
			errContains: "poll.interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfigFromYAMLWithError(t, tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}

	t.Run("collects every error", func(t *testing.T) {
		_, err := loadConfigFromYAMLWithError(t, `
poll:
  interval: -1s
clients:
  a:
    username: x
  b:
    url: ftp://b
`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `client "a": url is required`)
		assert.Contains(t, err.Error(), `client "b": url scheme must be http or https`)
		assert.Contains(t, err.Error(), "poll.interval must be positive")
	})
}

func TestConfigSearch(t *testing.T) {
	write := func(t *testing.T, dir, name, listen string) {
		t.Helper()
		body := "server:\n  listen: " + listen + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}

	t.Run("dotfile in home wins over config.yaml", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Chdir(t.TempDir())

		write(t, home, ".qbitstats.yaml", "127.0.0.1:1111")
		write(t, home, "config.yaml", "127.0.0.1:3333")

		cfg, err := config.Load(config.LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:1111", cfg.Server.Listen)
	})

	t.Run("qbitstats.yaml in working directory", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		wd := t.TempDir()
		t.Chdir(wd)

		write(t, wd, "qbitstats.yaml", "127.0.0.1:2222")

		cfg, err := config.Load(config.LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:2222", cfg.Server.Listen)
	})

	t.Run("malformed file is reported", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Chdir(t.TempDir())

		require.NoError(t, os.WriteFile(filepath.Join(home, ".qbitstats.yaml"), []byte("server: [unclosed"), 0644))

		_, err := config.Load(config.LoadOptions{})
		require.Error(t, err)
	})

	t.Run("missing explicit file is reported", func(t *testing.T) {
		_, err := config.Load(config.LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
	})
}
