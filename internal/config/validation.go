package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// KnownPlugins lists the built-in plugin names
var KnownPlugins = []string{PluginHighlighter, PluginMarkdown}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validateRootConfigDetails(&config.Root, result)
	validatePluginsConfigDetails(&config.Plugins, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
			Suggestions: []string{
				"Consider using a port above 1024",
			},
		})
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: err.Error(),
				Suggestions: []string{
					"Use 'localhost' for local access only",
					"Use '0.0.0.0' to bind to all interfaces",
				},
			})
		}
	}

	if config.Host == "0.0.0.0" || config.Host == "::" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.host",
			Value:   config.Host,
			Message: "the served directory will be reachable from other machines",
		})
	}

	if config.Stylesheet != "" {
		if err := validateStylesheet(config.Stylesheet); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.stylesheet",
				Value:   config.Stylesheet,
				Message: err.Error(),
			})
		}
	}
}

func validateRootConfigDetails(config *RootConfig, result *ValidationResult) {
	if config.Directory == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "root.directory",
			Value:       config.Directory,
			Message:     "directory cannot be empty",
			Suggestions: []string{"Use '.' to serve the working directory"},
		})
	} else if info, err := os.Stat(config.Directory); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "root.directory",
			Value:   config.Directory,
			Message: err.Error(),
		})
	} else if !info.IsDir() {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "root.directory",
			Value:   config.Directory,
			Message: "not a directory",
		})
	}

	if config.Debounce < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "root.debounce",
			Value:   config.Debounce,
			Message: "debounce cannot be negative",
		})
	} else if config.Watch && config.Debounce > 10*time.Second {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "root.debounce",
			Value:       config.Debounce,
			Message:     "long debounce delays refreshes after edits",
			Suggestions: []string{"Values between 100ms and 1s work well"},
		})
	}
}

func validatePluginsConfigDetails(config *PluginsConfig, result *ValidationResult) {
	seen := make(map[string]bool)
	for i, plugin := range config.Enabled {
		field := fmt.Sprintf("plugins.enabled[%d]", i)
		switch {
		case !contains(KnownPlugins, plugin):
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Value:   plugin,
				Message: fmt.Sprintf("unknown plugin '%s'", plugin),
				Suggestions: []string{
					"Check plugin name spelling",
					"Available built-in plugins: " + strings.Join(KnownPlugins, ", "),
				},
			})
		case seen[plugin]:
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Value:   plugin,
				Message: fmt.Sprintf("plugin '%s' is enabled more than once", plugin),
			})
		}
		seen[plugin] = true
	}

	if config.Markdown.Stylesheet != "" {
		if err := validateStylesheet(config.Markdown.Stylesheet); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "plugins.markdown.stylesheet",
				Value:   config.Markdown.Stylesheet,
				Message: err.Error(),
			})
		}
	}

	// Both plugins accept Markdown files and the last one wins.
	if len(config.Enabled) == 2 && config.Enabled[0] == PluginMarkdown && config.Enabled[1] == PluginHighlighter {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "plugins.enabled",
			Value:   strings.Join(config.Enabled, ","),
			Message: "highlighter is consulted last and overrides markdown rendering",
			Suggestions: []string{
				"List markdown after highlighter to render Markdown documents",
			},
		})
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if err := validateLogConfig(config); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "log",
			Value:   fmt.Sprintf("%s/%s", config.Level, config.Format),
			Message: err.Error(),
			Suggestions: []string{
				"Levels: debug, info, warn, error",
				"Formats: text, json",
			},
		})
	}
}

// Helper validation functions

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	// Check if it's a valid IP address
	if net.ParseIP(host) != nil {
		return nil
	}

	if host == "localhost" {
		return nil
	}

	// Basic hostname validation
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateStylesheet(href string) error {
	u, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("invalid stylesheet URL: %w", err)
	}
	switch u.Scheme {
	case "", "http", "https":
		return nil
	}
	return fmt.Errorf("stylesheet URL scheme %q is not allowed", u.Scheme)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
