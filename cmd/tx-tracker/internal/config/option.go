package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Options is a group of Options that can be for convenience
// initialized and set at the same time.
type Options []*Option

// Validate all the config options.
func (options Options) Validate() error {
	var missingOptions []errMissingRequiredOption
	for _, option := range options {
		if option.Validate == nil {
			continue
		}
		err := option.Validate(option)
		if err == nil {
			continue
		}
		var missingOptionErr errMissingRequiredOption
		if ok := errors.As(err, &missingOptionErr); ok {
			missingOptions = append(missingOptions, missingOptionErr)
			continue
		}
		return fmt.Errorf("invalid config value for %s: %w", option.Name, err)
	}
	if len(missingOptions) > 0 {
		// we had one or more missing options, combine these all into a single error.
		errString := "the following required configuration parameters are missing:"
		for _, missingOpt := range missingOptions {
			errString += "\n*\t" + missingOpt.strErr
			errString += "\n \t" + missingOpt.usage
		}
		return &errMissingRequiredOption{strErr: errString}
	}
	return nil
}

// Option is a complete description of the configuration of a command line option
type Option struct {
	// e.g. "endpoint"
	Name string
	// e.g. "ENDPOINT", defaults to the upper-snake version of Name
	EnvVar string
	// e.g. "ENDPOINT", defaults to EnvVar; "-" or "_" omits it from the file
	TomlKey string
	// Help text
	Usage string
	// A default if no option is provided. Omit or set to `nil` if no default
	DefaultValue interface{}
	// Pointer to the Config field this option sets
	ConfigKey interface{}
	// Optional function for custom validation/transformation
	CustomSetValue func(*Option, interface{}) error
	// Function called after loading all options, to validate the configuration
	Validate func(*Option) error
	// Optional function to produce the value written by gen-config-file
	MarshalTOML func(*Option) (interface{}, error)

	flag *pflag.Flag // bound by AddFlag
}

func kebabToConstantCase(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (o Option) getEnvKey() (string, bool) {
	switch o.EnvVar {
	case "-", "_":
		return "", false
	case "":
		return kebabToConstantCase(o.Name), true
	default:
		return o.EnvVar, true
	}
}

func (o Option) getTomlKey() (string, bool) {
	switch o.TomlKey {
	case "-", "_":
		return "", false
	case "":
		if envKey, ok := o.getEnvKey(); ok {
			return envKey, true
		}
		return kebabToConstantCase(o.Name), true
	default:
		return o.TomlKey, true
	}
}

func (o *Option) setValue(i interface{}) (err error) {
	if o.CustomSetValue != nil {
		return o.CustomSetValue(o, i)
	}
	// a parser panicking on a mismatched key is reported as an error
	defer func() {
		if recoverRes := recover(); recoverRes != nil {
			var ok bool
			if err, ok = recoverRes.(error); ok {
				return
			}

			err = fmt.Errorf("config option setting error ('%s') %v", o.Name, recoverRes)
		}
	}()
	parser := func(option *Option, i interface{}) error {
		return fmt.Errorf("no parser for flag %s", o.Name)
	}
	switch o.ConfigKey.(type) {
	case *bool:
		parser = parseBool
	case *string:
		parser = parseString
	case *[]string:
		parser = parseStringSlice
	case *time.Duration:
		parser = parseDuration
	}

	return parser(o, i)
}

func (o *Option) marshalTOML() (interface{}, error) {
	if o.MarshalTOML != nil {
		return o.MarshalTOML(o)
	}
	// go-toml doesn't handle ptrs
	value := reflect.ValueOf(o.ConfigKey).Elem().Interface()
	if d, ok := value.(time.Duration); ok {
		return d.String(), nil
	}
	return value, nil
}

type errMissingRequiredOption struct {
	strErr string
	usage  string
}

func (e errMissingRequiredOption) Error() string {
	return e.strErr
}

func required(option *Option) error {
	switch reflect.ValueOf(option.ConfigKey).Elem().Kind() {
	case reflect.Slice:
		if reflect.ValueOf(option.ConfigKey).Elem().Len() > 0 {
			return nil
		}
	default:
		if !reflect.ValueOf(option.ConfigKey).Elem().IsZero() {
			return nil
		}
	}

	waysToSet := []string{}
	if option.Name != "" && option.Name != "-" {
		waysToSet = append(waysToSet, fmt.Sprintf("specify --%s on the command line", option.Name))
	}
	if envKey, ok := option.getEnvKey(); ok {
		waysToSet = append(waysToSet, fmt.Sprintf("set the %s environment variable", envKey))
	}
	if tomlKey, ok := option.getTomlKey(); ok {
		waysToSet = append(waysToSet, fmt.Sprintf("set %s in the config file", tomlKey))
	}

	advice := ""
	switch len(waysToSet) {
	case 1:
		advice = fmt.Sprintf(" Please %s.", waysToSet[0])
	case 2:
		advice = fmt.Sprintf(" Please %s or %s.", waysToSet[0], waysToSet[1])
	case 3:
		advice = fmt.Sprintf(" Please %s, %s, or %s.", waysToSet[0], waysToSet[1], waysToSet[2])
	}

	return errMissingRequiredOption{strErr: option.Name + " is required." + advice, usage: option.Usage}
}

func positive(option *Option) error {
	switch v := option.ConfigKey.(type) {
	case *time.Duration:
		if *v <= 0 {
			return fmt.Errorf("%s must be positive", option.Name)
		}
	default:
		return fmt.Errorf("%s is not a positive number", option.Name)
	}
	return nil
}
