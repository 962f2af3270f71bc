// Package config provides configuration management for servedir using
// Viper for loading from files, environment variables and command-line
// flags.
//
// Configuration is read from .servedir.yml (or the file named by
// SERVEDIR_CONFIG_FILE or --config), overridden by SERVEDIR_ environment
// variables, overridden in turn by flags bound in cmd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	serrors "github.com/conneroisu/servedir/internal/errors"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server" mapstructure:"server"`
	Root    RootConfig    `yaml:"root" json:"root" mapstructure:"root"`
	Plugins PluginsConfig `yaml:"plugins" json:"plugins" mapstructure:"plugins"`
	Log     LogConfig     `yaml:"log" json:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host       string `yaml:"host" json:"host" mapstructure:"host"`
	Port       int    `yaml:"port" json:"port" mapstructure:"port"`
	Name       string `yaml:"name" json:"name" mapstructure:"name"`
	Compress   bool   `yaml:"compress" json:"compress" mapstructure:"compress"`
	LiveReload bool   `yaml:"live_reload" json:"live_reload" mapstructure:"live_reload"`
	// Stylesheet is linked from directory listings
	Stylesheet string `yaml:"stylesheet" json:"stylesheet" mapstructure:"stylesheet"`
}

type RootConfig struct {
	Directory string        `yaml:"directory" json:"directory" mapstructure:"directory"`
	Watch     bool          `yaml:"watch" json:"watch" mapstructure:"watch"`
	Debounce  time.Duration `yaml:"debounce" json:"debounce" mapstructure:"debounce"`
	Ignore    []string      `yaml:"ignore" json:"ignore" mapstructure:"ignore"`
}

type PluginsConfig struct {
	// Enabled lists plugins in the order they are consulted; later
	// plugins override earlier ones.
	Enabled     []string          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Disabled    []string          `yaml:"disabled" json:"disabled" mapstructure:"disabled"`
	Highlighter HighlighterConfig `yaml:"highlighter" json:"highlighter" mapstructure:"highlighter"`
	Markdown    MarkdownConfig    `yaml:"markdown" json:"markdown" mapstructure:"markdown"`
}

type HighlighterConfig struct {
	Style       string `yaml:"style" json:"style" mapstructure:"style"`
	LineNumbers bool   `yaml:"line_numbers" json:"line_numbers" mapstructure:"line_numbers"`
}

type MarkdownConfig struct {
	Stylesheet string `yaml:"stylesheet" json:"stylesheet" mapstructure:"stylesheet"`
	HardWraps  bool   `yaml:"hard_wraps" json:"hard_wraps" mapstructure:"hard_wraps"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// Plugin names understood by the plugin registry
const (
	PluginHighlighter = "highlighter"
	PluginMarkdown    = "markdown"
)

// SetDefaults registers default values on the global viper instance
func SetDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.name", "servedir")
	viper.SetDefault("server.compress", true)
	viper.SetDefault("server.live_reload", true)
	viper.SetDefault("server.stylesheet", "")

	viper.SetDefault("root.directory", ".")
	viper.SetDefault("root.watch", true)
	viper.SetDefault("root.debounce", 300*time.Millisecond)
	viper.SetDefault("root.ignore", []string{".git", "node_modules"})

	viper.SetDefault("plugins.enabled", []string{})
	viper.SetDefault("plugins.disabled", []string{})
	viper.SetDefault("plugins.highlighter.style", "github")
	viper.SetDefault("plugins.highlighter.line_numbers", false)
	viper.SetDefault("plugins.markdown.stylesheet", "")
	viper.SetDefault("plugins.markdown.hard_wraps", true)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func Load() (*Config, error) {
	SetDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, serrors.NewConfigError("decode", err)
	}

	// Handle slices set via viper from env or flags (comma separated)
	if viper.IsSet("plugins.enabled") {
		config.Plugins.Enabled = splitList(viper.GetStringSlice("plugins.enabled"))
	}
	if viper.IsSet("plugins.disabled") {
		config.Plugins.Disabled = splitList(viper.GetStringSlice("plugins.disabled"))
	}
	if viper.IsSet("root.ignore") {
		config.Root.Ignore = splitList(viper.GetStringSlice("root.ignore"))
	}

	config.Plugins.Enabled = activePlugins(config.Plugins.Enabled, config.Plugins.Disabled)

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// splitList flattens comma separated entries and drops empty ones.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// activePlugins removes disabled plugins from enabled, keeping order.
func activePlugins(enabled, disabled []string) []string {
	if len(disabled) == 0 {
		return enabled
	}
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[name] = true
	}

	active := make([]string, 0, len(enabled))
	for _, name := range enabled {
		if !off[name] {
			active = append(active, name)
		}
	}
	return active
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return serrors.NewConfigError("server", err)
	}

	if err := validateRootConfig(&config.Root); err != nil {
		return serrors.NewConfigError("root", err)
	}

	if err := validatePluginsConfig(&config.Plugins); err != nil {
		return serrors.NewConfigError("plugins", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return serrors.NewConfigError("log", err)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			return err
		}
	}

	return nil
}

// validateRootConfig checks that the served directory exists
func validateRootConfig(config *RootConfig) error {
	if config.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	info, err := os.Stat(filepath.Clean(config.Directory))
	if err != nil {
		return fmt.Errorf("directory %s: %w", config.Directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", config.Directory)
	}

	if config.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative: %s", config.Debounce)
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.Level)
	}

	switch strings.ToLower(config.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", config.Format)
	}

	return nil
}
