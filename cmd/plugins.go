package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/plugins"
)

var pluginsFormat string

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List available plugins",
	Long: `List the built-in plugins and whether the current configuration
enables them. Enabled plugins are consulted in the order of plugins.enabled.

Examples:
  servedir plugins                 # Table of plugins
  servedir plugins --format json   # Machine readable output`,
	RunE: runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.Flags().StringVarP(&pluginsFormat, "format", "f", "table", "Output format (table, json)")
}

func runPlugins(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	infos := plugins.NewRegistry(nil).ListPlugins(&cfg.Plugins)
	return writePlugins(cmd.OutOrStdout(), pluginsFormat, infos)
}

func writePlugins(w io.Writer, format string, infos []plugins.PluginInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tENABLED\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%t\t%s\n", info.Name, info.Enabled, info.Description)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json)", format)
	}
}
