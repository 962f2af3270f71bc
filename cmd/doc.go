// Package cmd provides the command-line interface for servedir.
//
// # Available Commands
//
//   - serve: Serve a directory with optional plugins and live reload
//   - plugins: List built-in plugins and whether they are enabled
//   - config show: Print the effective configuration as YAML or JSON
//   - config validate: Check a configuration file
//   - version: Print build information
//
// # Configuration Precedence
//
//  1. Command-line flags
//  2. SERVEDIR_<SECTION>_<KEY> environment variables
//  3. The file named by --config or SERVEDIR_CONFIG_FILE, else .servedir.yml
//  4. Built-in defaults
//
// # Examples
//
//	// Serve ./docs with Markdown rendering on port 3000
//	servedir serve ./docs --md -p 3000
//
//	// Same, configured through the environment
//	SERVEDIR_SERVER_PORT=3000 SERVEDIR_PLUGINS_ENABLED=markdown servedir serve ./docs
package cmd
