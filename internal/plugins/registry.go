// Package plugins provides the built-in content plugins and a registry
// that assembles them, in configured order, for the node tree.
package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/logging"
)

// Factory builds a plugin from the plugins configuration
type Factory func(cfg *config.PluginsConfig) (fstree.Plugin, error)

// PluginInfo contains information about a registered plugin
type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type registration struct {
	info    PluginInfo
	factory Factory
}

// Registry maps plugin names to factories
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]registration
	order   []string
	logger  logging.Logger
}

// NewRegistry creates a registry holding the built-in plugins
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Registry{
		plugins: make(map[string]registration),
		logger:  logger.WithComponent("plugins"),
	}

	_ = r.Register(config.PluginHighlighter, "Syntax highlights source files as HTML", func(cfg *config.PluginsConfig) (fstree.Plugin, error) {
		return NewHighlighter(cfg.Highlighter)
	})
	_ = r.Register(config.PluginMarkdown, "Renders Markdown files as HTML documents", func(cfg *config.PluginsConfig) (fstree.Plugin, error) {
		return NewMarkdown(cfg.Markdown), nil
	})

	return r
}

// Register adds a plugin factory under name
func (r *Registry) Register(name, description string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}

	r.plugins[name] = registration{
		info:    PluginInfo{Name: name, Description: description},
		factory: factory,
	}
	r.order = append(r.order, name)
	return nil
}

// ListPlugins returns every registered plugin in registration order,
// marking those enabled by cfg.
func (r *Registry) ListPlugins(cfg *config.PluginsConfig) []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make(map[string]bool)
	if cfg != nil {
		for _, name := range cfg.Enabled {
			enabled[name] = true
		}
	}

	plugins := make([]PluginInfo, 0, len(r.order))
	for _, name := range r.order {
		info := r.plugins[name].info
		info.Enabled = enabled[name]
		plugins = append(plugins, info)
	}
	return plugins
}

// Build instantiates the enabled plugins in the configured order, which
// is the order the tree consults them in.
func (r *Registry) Build(ctx context.Context, cfg *config.PluginsConfig) ([]fstree.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(cfg.Enabled))
	plugins := make([]fstree.Plugin, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if seen[name] {
			return nil, fmt.Errorf("plugin %s enabled more than once", name)
		}
		seen[name] = true

		reg, ok := r.plugins[name]
		if !ok {
			return nil, fmt.Errorf("plugin %s not found", name)
		}

		plugin, err := reg.factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize plugin %s: %w", name, err)
		}
		plugins = append(plugins, plugin)
		r.logger.Debug(ctx, "plugin enabled", "plugin", name, "position", len(plugins))
	}

	return plugins, nil
}
