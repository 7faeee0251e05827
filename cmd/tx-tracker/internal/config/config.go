package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Config represents the configuration of a tx-tracker server
type Config struct {
	ConfigPath string

	Strict bool

	Endpoint            string
	AdminEndpoint       string
	SQLiteDBPath        string
	LogFormat           LogFormat
	LogLevel            logrus.Level
	ReceiptPollInterval time.Duration
	ReceiptWaitTimeout  time.Duration
	RPCRequestTimeout   time.Duration
	CORSAllowedOrigins  []string

	optionsCache *Options
	flagset      *pflag.FlagSet
}

// SetValues sets the config values from, in increasing precedence, the
// defaults, the config file, the environment and the command line flags.
func (cfg *Config) SetValues(lookupEnv func(string) (string, bool)) error {
	// We start with the defaults
	if err := cfg.loadDefaults(); err != nil {
		return err
	}

	// Then we load from the environment variables and cli flags, to try to find
	// the config file path
	if err := cfg.loadEnv(lookupEnv); err != nil {
		return err
	}
	if err := cfg.loadFlags(); err != nil {
		return err
	}

	if cfg.ConfigPath != "" {
		if err := cfg.loadConfigPath(); err != nil {
			return err
		}

		// Load from cli flags and environment variables again, to overwrite what we
		// got from the config file
		if err := cfg.loadEnv(lookupEnv); err != nil {
			return err
		}
		if err := cfg.loadFlags(); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *Config) loadDefaults() error {
	for _, option := range cfg.options() {
		if option.DefaultValue == nil {
			continue
		}
		if err := option.setValue(option.DefaultValue); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) loadEnv(lookupEnv func(string) (string, bool)) error {
	for _, option := range cfg.options() {
		key, ok := option.getEnvKey()
		if !ok {
			continue
		}
		value, ok := lookupEnv(key)
		if !ok {
			continue
		}
		if err := option.setValue(value); err != nil {
			return fmt.Errorf("could not parse environment variable %s: %w", key, err)
		}
	}
	return nil
}

func (cfg *Config) loadFlags() error {
	for _, option := range cfg.options() {
		if option.flag == nil || !option.flag.Changed {
			continue
		}
		value, err := option.GetFlag(cfg.flagset)
		if err != nil {
			return err
		}
		if err := option.setValue(value); err != nil {
			return fmt.Errorf("could not parse flag --%s: %w", option.Name, err)
		}
	}
	return nil
}

func (cfg *Config) loadConfigPath() error {
	file, err := os.Open(cfg.ConfigPath)
	if err != nil {
		return err
	}
	defer file.Close()
	return parseToml(file, cfg.Strict, cfg)
}

// Validate checks every option against its validator.
func (cfg *Config) Validate() error {
	return cfg.options().Validate()
}
