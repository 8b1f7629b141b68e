// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultListen       = "[::]:8424"
)

// Config is the application configuration.
type Config struct {
	Server  ServerConfig            `mapstructure:"server"`
	Clients map[string]ClientConfig `mapstructure:"clients"`
	Poll    PollConfig              `mapstructure:"poll"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// PollConfig holds refresh scheduling configuration.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ClientConfig holds configuration for a qBittorrent backend.
type ClientConfig struct {
	URL           string        `mapstructure:"url"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	BasicUser     string        `mapstructure:"basicUser"` // HTTP basic auth in front of the WebUI
	BasicPass     string        `mapstructure:"basicPass"`
	TLSSkipVerify bool          `mapstructure:"tlsSkipVerify"`
	HTTPTimeout   time.Duration `mapstructure:"httpTimeout"`
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches $HOME, the current directory and /config
// for .qbitstats.yaml, then qbitstats.yaml, then config.yaml; the first one found is used.
//
// Environment variables with prefix QBITSTATS_ override config file values.
// Set QBITSTATS_CLIENTS to a comma-separated list of names to enable env var
// binding for those client entries.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QBITSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindClientEnvVars(v)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("poll.interval", DefaultPollInterval.String())

	if err := readConfig(v, opts.ConfigFile != ""); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	setDefaultsOnMapConfigs(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// configNames are tried in order in every search path. The first match wins.
//
//nolint:gochecknoglobals // search order
var configNames = []string{".qbitstats", "qbitstats", "config"}

// readConfig loads the explicit file, or the first file found under configNames.
// A missing file is not an error; a file that fails to parse is.
func readConfig(v *viper.Viper, explicit bool) error {
	if explicit {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	for _, name := range configNames {
		v.SetConfigName(name)

		err := v.ReadInConfig()
		if err == nil {
			return nil
		}

		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config %s: %w", name, err)
		}
	}

	return nil
}

// setDefaultsOnMapConfigs applies default values to map entries that
// viper.SetDefault can't reach.
func setDefaultsOnMapConfigs(cfg *Config) {
	for name, c := range cfg.Clients {
		if c.HTTPTimeout == 0 {
			c.HTTPTimeout = DefaultHTTPTimeout
		}
		cfg.Clients[name] = c
	}
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	for name, c := range cfg.Clients {
		if c.URL == "" {
			errs = append(errs, fmt.Errorf("client %q: url is required", name))
		} else if u, err := url.Parse(c.URL); err != nil {
			errs = append(errs, fmt.Errorf("client %q: invalid url: %w", name, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("client %q: url scheme must be http or https", name))
		}

		if c.HTTPTimeout < 0 {
			errs = append(errs, fmt.Errorf("client %q: httpTimeout must not be negative", name))
		}
	}

	if cfg.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if cfg.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// clientEnvFields lists all ClientConfig fields for env var binding.
// Tests verify this list matches the struct fields.
//
//nolint:gochecknoglobals // env var binding field list
var clientEnvFields = []string{
	"url",
	"username",
	"password",
	"basicUser",
	"basicPass",
	"tlsSkipVerify",
	"httpTimeout",
}

// bindClientEnvVars reads QBITSTATS_CLIENTS to get the list of client names,
// then binds every client field for each name. The list env var is unset
// afterwards so viper does not treat it as the "clients" key itself.
func bindClientEnvVars(v *viper.Viper) {
	clientsEnv := os.Getenv("QBITSTATS_CLIENTS")
	if clientsEnv == "" {
		return
	}

	_ = os.Unsetenv("QBITSTATS_CLIENTS")

	for name := range strings.SplitSeq(clientsEnv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		for _, field := range clientEnvFields {
			v.MustBindEnv("clients." + name + "." + field)
		}
	}
}
