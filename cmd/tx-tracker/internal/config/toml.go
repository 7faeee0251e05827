package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml"
)

func parseToml(r io.Reader, strict bool, cfg *Config) error {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return err
	}

	validKeys := map[string]struct{}{}
	for _, option := range cfg.options() {
		key, ok := option.getTomlKey()
		if !ok {
			continue
		}
		validKeys[key] = struct{}{}
		value := tree.Get(key)
		if value == nil {
			continue
		}
		if err := option.setValue(value); err != nil {
			return fmt.Errorf("could not parse %s from config file: %w", key, err)
		}
	}

	if strict {
		for _, key := range tree.Keys() {
			if _, ok := validKeys[key]; !ok {
				return fmt.Errorf("invalid config: unexpected entry specified in toml file %q", key)
			}
		}
	}
	return nil
}

// MarshalTOML renders the current configuration as a toml file, with every
// option's usage as comment.
func (cfg *Config) MarshalTOML() ([]byte, error) {
	tree, err := toml.TreeFromMap(map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	for _, option := range cfg.options() {
		key, ok := option.getTomlKey()
		if !ok {
			continue
		}

		value, err := option.marshalTOML()
		if err != nil {
			return nil, err
		}

		// keep multi-line usages inside the comment block
		comment := strings.ReplaceAll(option.Usage, "\n", "\n ")
		tree.SetWithComment(key, comment, false, value)
	}

	return tree.Marshal()
}
