package common

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LocalConfig represents the optional local configuration file structure.
// Environment variables take precedence over anything loaded from it.
type LocalConfig struct {
	ServerPort  int    `koanf:"serverPort,omitempty"`
	DBPath      string `koanf:"dbPath,omitempty"`
	UpstreamURL string `koanf:"upstreamUrl,omitempty"`
	LogLevel    int    `koanf:"logLevel,omitempty"`
}

func (c LocalConfig) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	return nil
}

// LoadOuterConfig loads the outer configuration from the given file path.
// If the config file doesn't exist, returns an empty config.
// The config file is expected to be in YAML format.
func LoadOuterConfig(configPath string) (LocalConfig, error) {
	k := koanf.New(".")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return LocalConfig{}, nil
	}

	// Load YAML config
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return LocalConfig{}, fmt.Errorf("error loading config: %w", err)
	}

	var config LocalConfig
	if err := k.Unmarshal("", &config); err != nil {
		return LocalConfig{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return LocalConfig{}, err
	}

	return config, nil
}

// ApplyConfigEnv exports config file values into the process environment for
// any that aren't already set, so the common env getters see one source of
// truth.
func ApplyConfigEnv(config LocalConfig) {
	setIfUnset := func(key, value string) {
		if value != "" && os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	if config.ServerPort != 0 {
		setIfUnset("OUTER_SERVER_PORT", fmt.Sprintf("%d", config.ServerPort))
	}
	setIfUnset("OUTER_DB_PATH", config.DBPath)
	setIfUnset("OUTER_UPSTREAM_URL", config.UpstreamURL)
	if config.LogLevel != 0 {
		setIfUnset("OUTER_LOG_LEVEL", fmt.Sprintf("%d", config.LogLevel))
	}
}
