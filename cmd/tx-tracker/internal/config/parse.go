package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func parseBool(option *Option, i interface{}) error {
	switch v := i.(type) {
	case nil:
		return nil
	case bool:
		//nolint:forcetypeassert
		*option.ConfigKey.(*bool) = v
	case string:
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("invalid boolean value %s: %s", option.Name, v)
		}
		//nolint:forcetypeassert
		*option.ConfigKey.(*bool) = b
	default:
		return fmt.Errorf("could not parse boolean %s: %v", option.Name, i)
	}
	return nil
}

func parseString(option *Option, i interface{}) error {
	switch v := i.(type) {
	case nil:
		return nil
	case string:
		strPtr, ok := option.ConfigKey.(*string)
		if !ok {
			return fmt.Errorf("invalid type for %s: expected *string", option.Name)
		}
		*strPtr = v
	default:
		return fmt.Errorf("could not parse string %s: %v", option.Name, i)
	}
	return nil
}

func parseDuration(option *Option, i interface{}) error {
	durationPtr, ok := option.ConfigKey.(*time.Duration)
	if !ok {
		return fmt.Errorf("invalid type for %s: expected *time.Duration", option.Name)
	}

	switch v := i.(type) {
	case nil:
		return nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("could not parse duration: %q: %w", v, err)
		}
		*durationPtr = d
	case time.Duration:
		*durationPtr = v
	case *time.Duration:
		*durationPtr = *v
	default:
		return fmt.Errorf("%s is not a duration", option.Name)
	}
	return nil
}

// parseStringSlice accepts a comma separated string (flags, environment) or a
// TOML array.
func parseStringSlice(option *Option, i interface{}) error {
	stringSlicePtr, ok := option.ConfigKey.(*[]string)
	if !ok {
		return fmt.Errorf("invalid type for %s: expected *[]string", option.Name)
	}

	switch v := i.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			*stringSlicePtr = nil
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*stringSlicePtr = parts
	case []string:
		*stringSlicePtr = v
	case []interface{}:
		result := make([]string, len(v))
		for i, s := range v {
			str, ok := s.(string)
			if !ok {
				return fmt.Errorf("could not parse %s: element %d is not a string", option.Name, i)
			}
			result[i] = str
		}
		*stringSlicePtr = result
	default:
		return fmt.Errorf("could not parse %s: %v", option.Name, v)
	}
	return nil
}
