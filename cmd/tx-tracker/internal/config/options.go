package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultEndpoint     = "localhost:8000"
	defaultSQLiteDBPath = "data/tx-tracker.sqlite"

	defaultReceiptPollInterval = 4 * time.Second
	defaultReceiptWaitTimeout  = 3 * time.Minute
	defaultRPCRequestTimeout   = 30 * time.Second
)

type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

func (f LogFormat) String() string {
	switch f {
	case LogFormatJSON:
		return "json"
	default:
		return "text"
	}
}

func parseLogFormat(s string) (LogFormat, error) {
	switch s {
	case "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("unknown log format %q, expected text or json", s)
	}
}

//nolint:funlen
func (cfg *Config) options() Options {
	if cfg.optionsCache != nil {
		return *cfg.optionsCache
	}
	cfg.optionsCache = &Options{
		{
			Name:      "config-path",
			EnvVar:    "TX_TRACKER_CONFIG_PATH",
			TomlKey:   "-",
			Usage:     "File path to the toml configuration file",
			ConfigKey: &cfg.ConfigPath,
		},
		{
			Name:         "strict",
			Usage:        "Enable strict toml configuration file parsing. This will prevent unknown fields in the config toml from being parsed.",
			ConfigKey:    &cfg.Strict,
			DefaultValue: false,
		},
		{
			Name:         "endpoint",
			Usage:        "Endpoint to listen and serve on",
			ConfigKey:    &cfg.Endpoint,
			DefaultValue: defaultEndpoint,
			Validate:     validateHostPort,
		},
		{
			Name:      "admin-endpoint",
			Usage:     "Admin endpoint to listen and serve on. WARNING: this should not be accessible from the Internet and does not use TLS. \"\" (default) disables the admin server",
			ConfigKey: &cfg.AdminEndpoint,
			Validate: func(option *Option) error {
				if cfg.AdminEndpoint == "" {
					return nil
				}
				return validateHostPort(option)
			},
		},
		{
			Name:         "db-path",
			Usage:        "SQLite DB path",
			ConfigKey:    &cfg.SQLiteDBPath,
			DefaultValue: defaultSQLiteDBPath,
			Validate:     required,
		},
		{
			Name:         "log-level",
			Usage:        "minimum log severity (debug, info, warn, error) to log",
			ConfigKey:    &cfg.LogLevel,
			DefaultValue: logrus.InfoLevel,
			CustomSetValue: func(option *Option, i interface{}) error {
				switch v := i.(type) {
				case nil:
					return nil
				case string:
					ll, err := logrus.ParseLevel(v)
					if err != nil {
						return fmt.Errorf("could not parse %s: %q", option.Name, v)
					}
					cfg.LogLevel = ll
				case logrus.Level:
					cfg.LogLevel = v
				case *logrus.Level:
					cfg.LogLevel = *v
				default:
					return fmt.Errorf("could not parse %s: %q", option.Name, v)
				}
				return nil
			},
			MarshalTOML: func(_ *Option) (interface{}, error) {
				return cfg.LogLevel.String(), nil
			},
		},
		{
			Name:         "log-format",
			Usage:        "format used for output logs (json or text)",
			ConfigKey:    &cfg.LogFormat,
			DefaultValue: "text",
			CustomSetValue: func(option *Option, i interface{}) error {
				switch v := i.(type) {
				case nil:
					return nil
				case string:
					format, err := parseLogFormat(v)
					if err != nil {
						return fmt.Errorf("could not parse %s: %w", option.Name, err)
					}
					cfg.LogFormat = format
				case LogFormat:
					cfg.LogFormat = v
				case *LogFormat:
					cfg.LogFormat = *v
				default:
					return fmt.Errorf("could not parse %s: %q", option.Name, v)
				}
				return nil
			},
			MarshalTOML: func(_ *Option) (interface{}, error) {
				return cfg.LogFormat.String(), nil
			},
		},
		{
			Name:         "receipt-poll-interval",
			Usage:        "interval between eth_getTransactionReceipt calls while waiting for a transaction to be mined",
			ConfigKey:    &cfg.ReceiptPollInterval,
			DefaultValue: defaultReceiptPollInterval,
			Validate:     positive,
		},
		{
			Name:         "receipt-wait-timeout",
			Usage:        "maximum time a receipt resolution waits for the transaction to be mined",
			ConfigKey:    &cfg.ReceiptWaitTimeout,
			DefaultValue: defaultReceiptWaitTimeout,
			Validate:     positive,
		},
		{
			Name:         "rpc-request-timeout",
			Usage:        "timeout for a single request to an Ethereum RPC endpoint",
			ConfigKey:    &cfg.RPCRequestTimeout,
			DefaultValue: defaultRPCRequestTimeout,
			Validate:     positive,
		},
		{
			Name:         "cors-allowed-origins",
			Usage:        "comma-separated list of origins allowed to call the API from a browser",
			ConfigKey:    &cfg.CORSAllowedOrigins,
			DefaultValue: []string{"*"},
		},
	}
	return *cfg.optionsCache
}

func validateHostPort(option *Option) error {
	value, ok := option.ConfigKey.(*string)
	if !ok {
		return errors.New("expected a string")
	}
	if _, _, err := net.SplitHostPort(*value); err != nil {
		return fmt.Errorf("%s must be a host:port pair: %w", option.Name, err)
	}
	return nil
}
