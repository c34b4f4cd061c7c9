package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PULSECTL"
	configName     = ".pulsectl"
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

// cliConfig holds the resolved client settings.
//
// Precedence: flags > PULSECTL_* environment > config file > defaults.
type cliConfig struct {
	Server  string        `mapstructure:"server"`
	Token   string        `mapstructure:"token"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ValidationError reports a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// loadConfig resolves settings for cmd.
//
// An explicit --config path must exist. Without one, .pulsectl.yaml is looked
// up in the working directory then the home directory, and a missing file is
// not an error.
func loadConfig(cmd *cobra.Command) (*cliConfig, error) {
	v := viper.New()
	v.SetDefault("server", defaultServer)
	v.SetDefault("timeout", defaultTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"server", "token", "secret", "timeout"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *cliConfig) validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{Field: "server", Value: c.Server, Message: "must be an http(s) URL"}
	}
	if c.Timeout <= 0 {
		return ValidationError{Field: "timeout", Value: c.Timeout, Message: "must be positive"}
	}
	c.Server = strings.TrimRight(c.Server, "/")
	return nil
}
