package testing

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seedreap/qbitstats/internal/config"
)

// ValidConfig returns a fully populated, valid config.Config struct.
// The returned config passes all validation checks and can be used as a starting
// point for tests that need to modify specific fields.
func ValidConfig(t *testing.T) config.Config {
	t.Helper()

	return config.Config{
		Server: config.ServerConfig{
			Listen: config.DefaultListen,
		},
		Clients: map[string]config.ClientConfig{
			"seedbox": {
				URL:         "http://seedbox.example.com:8080",
				Username:    "admin",
				Password:    "secret",
				HTTPTimeout: config.DefaultHTTPTimeout,
			},
		},
		Poll: config.PollConfig{
			Interval: config.DefaultPollInterval,
		},
	}
}

// ValidConfigForServer returns a valid config pointing a single client at a
// running fake qBittorrent server, polling at the given interval.
func ValidConfigForServer(t *testing.T, qb *QBittorrentServer, username, password string, interval time.Duration) config.Config {
	t.Helper()

	cfg := ValidConfig(t)
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Clients = map[string]config.ClientConfig{
		"seedbox": {
			URL:         qb.URL,
			Username:    username,
			Password:    password,
			HTTPTimeout: 5 * time.Second,
		},
	}
	cfg.Poll.Interval = interval

	return cfg
}

// ConfigToYAML converts a config.Config struct to a YAML string.
// This is useful for tests that need to load config via the YAML parser.
// yaml.v3 lowercases field names, which viper matches case-insensitively.
func ConfigToYAML(t *testing.T, cfg config.Config) string {
	t.Helper()

	//nolint:musttag // config.Config uses mapstructure tags, yaml.Marshal uses field names
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config to YAML: %v", err)
	}

	return string(data)
}
