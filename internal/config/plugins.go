package config

import (
	"fmt"
)

// validatePluginsConfig validates plugins configuration values
func validatePluginsConfig(config *PluginsConfig) error {
	seen := make(map[string]bool, len(config.Enabled))
	for _, name := range config.Enabled {
		if err := validatePluginName(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("plugin %s enabled more than once", name)
		}
		seen[name] = true
	}

	for _, name := range config.Disabled {
		if err := validatePluginName(name); err != nil {
			return err
		}
	}

	return nil
}

func validatePluginName(name string) error {
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}

	// Plugin names should be alphanumeric with dashes/underscores
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_') {
			return fmt.Errorf("plugin name contains invalid character: %s", name)
		}
	}

	return nil
}
